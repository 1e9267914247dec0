package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ahtx/neurofab-z1-cluster/config"
	"github.com/ahtx/neurofab-z1-cluster/storage"
)

var (
	logutilExportDbPath string
	logutilExportTable  string
	logutilExportFormat string
	logutilExportOutput string
)

// logutilExportCmd represents the logutil export command.
var logutilExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports a table from a run's SQLite log to CSV.",
	Long: `Reads a SQLite database produced by run and exports either the
ClusterSnapshots or SpikeEvents table to CSV.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tempCliCfg := config.CLIConfig{
			Mode:              config.ModeLogUtil,
			LogUtilSubcommand: "export",
			LogUtilDbPath:     logutilExportDbPath,
			LogUtilTable:      logutilExportTable,
			LogUtilFormat:     logutilExportFormat,
			LogUtilOutput:     logutilExportOutput,
		}
		tempAppCfg := &config.AppConfig{Engine: config.DefaultEngineParams(), Cli: tempCliCfg}
		if err := tempAppCfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration for logutil export: %w", err)
		}

		fmt.Printf("  Database: %s\n", logutilExportDbPath)
		fmt.Printf("  Table: %s\n", logutilExportTable)
		fmt.Printf("  Format: %s\n", logutilExportFormat)
		if logutilExportOutput != "" {
			fmt.Printf("  Output: %s\n", logutilExportOutput)
		} else {
			fmt.Println("  Output: stdout")
		}

		if err := storage.ExportLogData(logutilExportDbPath, logutilExportTable, logutilExportFormat, logutilExportOutput); err != nil {
			log.Printf("error during log export: %v", err)
			return err
		}
		fmt.Println("Log export completed successfully.")
		return nil
	},
}

func init() {
	logutilCmd.AddCommand(logutilExportCmd)

	logutilExportCmd.Flags().StringVarP(&logutilExportDbPath, "dbPath", "d", "", "Path to the SQLite DB file (required).")
	_ = logutilExportCmd.MarkFlagRequired("dbPath")

	logutilExportCmd.Flags().StringVarP(&logutilExportTable, "table", "t", "", "Table to export: 'ClusterSnapshots' or 'SpikeEvents' (required).")
	_ = logutilExportCmd.MarkFlagRequired("table")

	logutilExportCmd.Flags().StringVarP(&logutilExportFormat, "format", "f", "csv", "Output format (currently only 'csv').")
	logutilExportCmd.Flags().StringVarP(&logutilExportOutput, "output", "o", "", "Output file (stdout if unspecified).")
}
