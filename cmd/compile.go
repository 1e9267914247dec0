package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime/pprof"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/ahtx/neurofab-z1-cluster/cli"
	"github.com/ahtx/neurofab-z1-cluster/config"
)

var (
	compileTopologyFile   string
	compileTablesDir      string
	compileDeploymentInfo bool

	compileCpuProfileFile string
)

// compileCmd represents the compile command.
var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compiles a topology description into per-node binary neuron tables.",
	Long: `Reads a declarative topology JSON document, assigns neurons to
nodes, generates synapses, quantizes weights, and writes one binary table
file per node under tables_dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if compileCpuProfileFile != "" {
			f, err := os.Create(compileCpuProfileFile)
			if err != nil {
				log.Fatal("could not create CPU profile: ", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				log.Fatal("could not start CPU profile: ", err)
			}
			defer pprof.StopCPUProfile()
			fmt.Printf("CPU profiling enabled, saving to %s\n", compileCpuProfileFile)
		}

		appCfg := &config.AppConfig{
			Engine: config.DefaultEngineParams(),
			Cli: config.CLIConfig{
				Mode:           config.ModeCompile,
				Seed:           seed,
				TopologyFile:   compileTopologyFile,
				TablesDir:      compileTablesDir,
				DeploymentInfo: compileDeploymentInfo,
			},
		}

		if configFile != "" {
			fmt.Printf("Loading configuration overlay from TOML: %s\n", configFile)
			cliCfgBeforeToml := appCfg.Cli
			if _, err := toml.DecodeFile(configFile, appCfg); err != nil {
				log.Printf("warning: failed to decode TOML file %q: %v; continuing with flag defaults", configFile, err)
				appCfg.Cli = cliCfgBeforeToml
			}
		}

		if cmd.Flags().Changed("seed") {
			appCfg.Cli.Seed = seed
		}
		if cmd.Flags().Changed("topologyFile") {
			appCfg.Cli.TopologyFile = compileTopologyFile
		}
		if cmd.Flags().Changed("tablesDir") {
			appCfg.Cli.TablesDir = compileTablesDir
		}
		if cmd.Flags().Changed("deploymentInfo") {
			appCfg.Cli.DeploymentInfo = compileDeploymentInfo
		}

		if err := appCfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration for compile mode: %w", err)
		}

		orchestrator := cli.NewOrchestrator(appCfg)
		if err := orchestrator.Run(); err != nil {
			return fmt.Errorf("error during compile mode execution: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().StringVarP(&compileTopologyFile, "topologyFile", "t", "", "Path to the topology JSON document (required).")
	_ = compileCmd.MarkFlagRequired("topologyFile")
	compileCmd.Flags().StringVarP(&compileTablesDir, "tablesDir", "o", "tables", "Directory to write one binary table file per node into.")
	compileCmd.Flags().BoolVar(&compileDeploymentInfo, "deploymentInfo", false, "Print per-node neuron/synapse/byte counts after compiling.")

	compileCmd.Flags().StringVar(&compileCpuProfileFile, "cpuprofile", "", "Write a CPU profile to this file.")
}
