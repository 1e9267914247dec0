package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags shared across every subcommand.
	configFile string
	seed       int64
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "neurofab-z1",
	Short: "neurofab-z1: distributed spiking neural network cluster emulator",
	Long: `neurofab-z1 is a command-line application that compiles a declarative
network topology into per-node binary neuron tables, runs a cluster of
engines that route spikes between nodes, and exports logged cluster
activity for offline analysis.

For details on a specific command, use: neurofab-z1 [command] --help`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "configFile", "", "Path to a TOML configuration file overlaying the defaults for the chosen command.")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "Seed for the topology compiler's random number generator (0 uses per-call entropy).")
}
