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
	runTablesGlob    string
	runBackplaneID   int
	runCycles        int
	runDbPath        string
	runSaveInterval  int
	runInjectSpec    string
	runWeightsFile   string
	runTimestepUs    int64
	runStdpEnabled   bool
	runSynapseCap    int
	runWeightMin     float64
	runWeightMax     float64

	runCpuProfileFile string
	runMemProfileFile string
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Starts a cluster from compiled tables and runs it for a fixed number of cycles.",
	Long: `Loads every binary neuron table matched by tables_glob into its own
engine, registers all engines with a cluster coordinator, starts spike
routing, optionally injects an initial stimulus, runs for a configured
number of cycles while logging periodically to SQLite, then stops the
cluster and persists learned synapse weights.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runCpuProfileFile != "" {
			f, err := os.Create(runCpuProfileFile)
			if err != nil {
				log.Fatal("could not create CPU profile: ", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				log.Fatal("could not start CPU profile: ", err)
			}
			defer pprof.StopCPUProfile()
			fmt.Printf("CPU profiling enabled, saving to %s\n", runCpuProfileFile)
		}

		engineParams := config.DefaultEngineParams()
		engineParams.TimestepUs = runTimestepUs
		engineParams.WeightMin = runWeightMin
		engineParams.WeightMax = runWeightMax
		engineParams.SynapseCapacity = runSynapseCap
		engineParams.STDP.Enabled = runStdpEnabled

		appCfg := &config.AppConfig{
			Engine: engineParams,
			Cli: config.CLIConfig{
				Mode:         config.ModeRun,
				Seed:         seed,
				TablesGlob:   runTablesGlob,
				BackplaneID:  runBackplaneID,
				Cycles:       runCycles,
				DbPath:       runDbPath,
				SaveInterval: runSaveInterval,
				InjectSpec:   runInjectSpec,
				WeightsFile:  runWeightsFile,
			},
		}

		if configFile != "" {
			fmt.Printf("Loading configuration overlay from TOML: %s\n", configFile)
			cliCfgBeforeToml := appCfg.Cli
			engineCfgBeforeToml := appCfg.Engine
			if _, err := toml.DecodeFile(configFile, appCfg); err != nil {
				log.Printf("warning: failed to decode TOML file %q: %v; continuing with flag defaults", configFile, err)
				appCfg.Cli = cliCfgBeforeToml
				appCfg.Engine = engineCfgBeforeToml
			}
		}

		if cmd.Flags().Changed("seed") {
			appCfg.Cli.Seed = seed
		}
		if cmd.Flags().Changed("tablesGlob") {
			appCfg.Cli.TablesGlob = runTablesGlob
		}
		if cmd.Flags().Changed("backplaneID") {
			appCfg.Cli.BackplaneID = runBackplaneID
		}
		if cmd.Flags().Changed("cycles") {
			appCfg.Cli.Cycles = runCycles
		}
		if cmd.Flags().Changed("dbPath") {
			appCfg.Cli.DbPath = runDbPath
		}
		if cmd.Flags().Changed("saveInterval") {
			appCfg.Cli.SaveInterval = runSaveInterval
		}
		if cmd.Flags().Changed("inject") {
			appCfg.Cli.InjectSpec = runInjectSpec
		}
		if cmd.Flags().Changed("weightsFile") {
			appCfg.Cli.WeightsFile = runWeightsFile
		}
		if cmd.Flags().Changed("timestepUs") {
			appCfg.Engine.TimestepUs = runTimestepUs
		}
		if cmd.Flags().Changed("stdp") {
			appCfg.Engine.STDP.Enabled = runStdpEnabled
		}
		if cmd.Flags().Changed("synapseCapacity") {
			appCfg.Engine.SynapseCapacity = runSynapseCap
		}
		if cmd.Flags().Changed("weightMin") {
			appCfg.Engine.WeightMin = runWeightMin
		}
		if cmd.Flags().Changed("weightMax") {
			appCfg.Engine.WeightMax = runWeightMax
		}

		if err := appCfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration for run mode: %w", err)
		}

		orchestrator := cli.NewOrchestrator(appCfg)
		runErr := orchestrator.Run()

		if runMemProfileFile != "" && runErr == nil {
			f, err := os.Create(runMemProfileFile)
			if err != nil {
				log.Fatal("could not create memory profile: ", err)
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatal("could not write memory profile: ", err)
			}
			fmt.Printf("Memory heap profile saved to %s\n", runMemProfileFile)
		}

		if runErr != nil {
			return fmt.Errorf("error during run mode execution: %w", runErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runTablesGlob, "tablesGlob", "g", "", "Glob matching compiled node table files, e.g. tables/node_*.bin (required).")
	_ = runCmd.MarkFlagRequired("tablesGlob")
	runCmd.Flags().IntVar(&runBackplaneID, "backplaneID", 0, "Backplane id every loaded engine is registered under.")
	runCmd.Flags().IntVarP(&runCycles, "cycles", "c", 1000, "Number of logical cycles to run.")
	runCmd.Flags().StringVarP(&runDbPath, "dbPath", "d", "", "Path to a SQLite file for cluster snapshot logging (disabled if empty).")
	runCmd.Flags().IntVar(&runSaveInterval, "saveInterval", 100, "Cycle interval between logged snapshots (0 disables periodic saves).")
	runCmd.Flags().StringVar(&runInjectSpec, "inject", "", "Comma-separated node:local_id:value triples to inject before the run starts.")
	runCmd.Flags().StringVarP(&runWeightsFile, "weightsFile", "w", "", "Base path for per-node synapse weight JSON files (disabled if empty).")
	runCmd.Flags().Int64Var(&runTimestepUs, "timestepUs", 1000, "Engine simulation timestep, in microseconds.")
	runCmd.Flags().BoolVar(&runStdpEnabled, "stdp", false, "Enable STDP synaptic plasticity.")
	runCmd.Flags().IntVar(&runSynapseCap, "synapseCapacity", 60, "Synapse slot capacity per neuron table entry.")
	runCmd.Flags().Float64Var(&runWeightMin, "weightMin", 0.0, "Minimum clamp for synapse weights.")
	runCmd.Flags().Float64Var(&runWeightMax, "weightMax", 1.0, "Maximum clamp for synapse weights.")

	runCmd.Flags().StringVar(&runCpuProfileFile, "cpuprofile", "", "Write a CPU profile to this file.")
	runCmd.Flags().StringVar(&runMemProfileFile, "memprofile", "", "Write a memory heap profile to this file after a successful run.")
}
