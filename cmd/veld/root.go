package main

import (
	"github.com/spf13/cobra"

	"github.com/veldframework/veld/internal/obslog"
)

type rootFlags struct {
	verbose  bool
	profiles []string
}

func newRootCmd(logger *obslog.Logger) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "veld",
		Short:         "veld analyzes and weaves compile-time dependency-injection artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringSliceVar(&flags.profiles, "profile", nil, "active profile (repeatable)")

	cmd.AddCommand(newCheckCmd(flags, logger))
	cmd.AddCommand(newWeaveCmd(flags, logger))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
