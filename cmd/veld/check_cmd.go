package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veldframework/veld/internal/obslog"
	"github.com/veldframework/veld/internal/propsource"
	"github.com/veldframework/veld/veld"
)

// newCheckCmd wires the "check" subcommand: load an annotation IR document
// (produced by an external front end, §1) as JSON, run resolution and
// condition filtering, and print diagnostics without starting the
// container — the boot-diagnostics-only path a CI job would run.
func newCheckCmd(flags *rootFlags, logger *obslog.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check <ir.json>",
		Short: "Resolve and validate an annotation IR without booting the container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger
			if flags.verbose {
				log = logger.With("verbose", true)
			}

			ir, err := loadIR(args[0])
			if err != nil {
				return err
			}

			if diags := veld.ValidateIR(ir); diags.HasFatal() {
				printDiagnostics(cmd, diags)
				return diags
			}

			var props *propsource.Source
			if configPath != "" {
				props, err = propsource.Load(configPath, flags.profiles...)
				if err != nil {
					return err
				}
			}

			resolver := veld.NewResolver(ir)
			graph, diags, err := resolver.Build()
			if err != nil {
				printDiagnostics(cmd, diags)
				return err
			}

			log.Info("resolved component graph", "components", len(graph.Order))
			for _, id := range graph.Order {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}

			cr := &veld.ConditionalRegistry{}
			if props != nil {
				log.Info("active profiles", "profiles", props.ActiveProfiles())
				cr.Props = props
			}
			candidates := make([]veld.Factory, 0, len(graph.Order))
			for _, id := range graph.Order {
				candidates = append(candidates, &veld.FuncFactory{Desc: graph.ByID(id)})
			}
			_, excluded := cr.Filter(candidates)
			for _, ex := range excluded {
				fmt.Fprintf(cmd.OutOrStdout(), "excluded %s: %s\n", ex.ComponentID, ex.Reason)
			}

			printDiagnostics(cmd, diags)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "property source YAML file for condition evaluation")
	return cmd
}

func loadIR(path string) (*veld.AnnotationIR, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("veld: reading %s: %w", path, err)
	}
	var ir veld.AnnotationIR
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, fmt.Errorf("veld: parsing %s: %w", path, err)
	}
	return &ir, nil
}

func printDiagnostics(cmd *cobra.Command, diags *veld.Diagnostics) {
	for _, d := range diags.Items {
		kind := "info"
		if d.Fatal {
			kind = "fatal"
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s: %s\n", kind, d.Kind, d.Message)
	}
}
