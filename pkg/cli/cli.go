// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cli implements the command-line interface of the data-migration
// reconciliation node: flag parsing and subcommand dispatch via
// github.com/spf13/cobra, backed by github.com/spf13/pflag.
package cli

import (
	"github.com/spf13/cobra"
)

var dmNodeCmd = &cobra.Command{
	Use: "dmnode [command] (flags)",
	Short: "data-migration reconciliation node",
	Long: `dmnode runs and queries a data-migration reconciliation node.`,
}

func init() {
	cobra.EnableCommandSorting = false
	dmNodeCmd.AddCommand(
		startCmd,
		statusCmd,
	)
}

// Run executes the CLI with the given arguments (typically os.Args[1:]).
func Run(args []string) error {
	dmNodeCmd.SetArgs(args)
	return dmNodeCmd.Execute()
}
