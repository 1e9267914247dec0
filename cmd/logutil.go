package cmd

import (
	"github.com/spf13/cobra"
)

// logutilCmd represents the base logutil command.
var logutilCmd = &cobra.Command{
	Use:   "logutil",
	Short: "Utilities for working with SQLite logs produced by run.",
	Long: `logutil provides subcommands for processing and exporting the
cluster snapshot and spike event data logged during a run.`,
}

func init() {
	rootCmd.AddCommand(logutilCmd)
}
