package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veldframework/veld/internal/obslog"
	"github.com/veldframework/veld/weave"
)

// newWeaveCmd wires the "weave" subcommand: rewrite every *.class file under
// a directory to add synthetic setters for annotated private/final fields
// (§4.D).
func newWeaveCmd(flags *rootFlags, logger *obslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weave <dir>",
		Short: "Rewrite compiled class files to add synthetic injection setters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger
			if flags.verbose {
				log = logger.With("verbose", true)
			}

			summary, err := weave.WeaveDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			log.Info("weave complete",
				"scanned", summary.Scanned,
				"modified", summary.Modified,
				"failed", summary.Failed,
			)

			for _, f := range summary.Files {
				if f.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %s: %v\n", f.Path, f.Err)
					continue
				}
				if f.Result == weave.Modified {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", f.Path, f.Result)
				}
			}

			if summary.Failed > 0 {
				return fmt.Errorf("veld: weave failed for %d file(s)", summary.Failed)
			}
			return nil
		},
	}

	return cmd
}
