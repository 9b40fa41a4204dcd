// Command veld hosts the boot-diagnostics and bytecode-weaving tooling
// around package veld and package weave: "check" runs resolution and
// condition evaluation over an annotation IR without starting the
// container, "weave" rewrites compiled class files in place, and "version"
// reports build metadata. Grounded on alexisbeaulieu97-Streamy's
// cmd/streamy layout (persistent flags on a root command, one file per
// subcommand).
package main

import (
	"fmt"
	"os"

	"github.com/veldframework/veld/internal/obslog"
)

func main() {
	logger, err := obslog.New(obslog.Options{Level: "info", Component: "cli", Layer: "cmd"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "veld: failed to create logger: %v\n", err)
		os.Exit(1)
	}

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
