// Package config provides types and functions for managing application
// configuration: engine/STDP defaults and the command-line-facing settings
// for each operation mode. It handles loading defaults, merging a TOML
// overlay, and validating the combined configuration.
package config

import (
	"fmt"
	"strings"
)

const (
	// ModeCompile instructs the application to compile a topology into
	// per-node binary neuron tables.
	ModeCompile = "compile"
	// ModeRun instructs the application to load compiled tables, start a
	// cluster, and run the simulation for a number of cycles.
	ModeRun = "run"
	// ModeLogUtil instructs the application to run the SQLite log utility.
	ModeLogUtil = "logutil"
)

// SupportedModes lists all valid operation modes for the application.
var SupportedModes = []string{ModeCompile, ModeRun, ModeLogUtil}

// STDPParams configures pair-based nearest-neighbour STDP. Enabled=false
// collapses the engine down to plain LIF rather than needing a separate
// engine variant for the with/without-STDP cases.
type STDPParams struct {
	Enabled           bool
	LearningRatePlus  float64 // η₊
	LearningRateMinus float64 // η₋
	TauPlusUs         float64 // τ₊, microseconds
	TauMinusUs        float64 // τ₋, microseconds
	MaxDeltaTUs       int64   // pairing window, microseconds
}

// DefaultSTDPParams returns sensible defaults for pair-based STDP.
func DefaultSTDPParams() STDPParams {
	return STDPParams{
		Enabled:           false,
		LearningRatePlus:  0.01,
		LearningRateMinus: 0.01,
		TauPlusUs:         20000,
		TauMinusUs:        20000,
		MaxDeltaTUs:       100000,
	}
}

// EngineParams configures engines built by the cluster.
type EngineParams struct {
	TimestepUs      int64 // fixed simulation quantum
	WeightMin       float64
	WeightMax       float64
	SynapseCapacity int // validated to (0,60]; the table format always has 60 slots
	STDP            STDPParams
}

// DefaultEngineParams returns every engine default in one place.
func DefaultEngineParams() EngineParams {
	return EngineParams{
		TimestepUs:      1000,
		WeightMin:       0.0,
		WeightMax:       1.0,
		SynapseCapacity: 60,
		STDP:            DefaultSTDPParams(),
	}
}

// CLIConfig holds configuration parameters set or overridden via
// command-line flags, grouped by the mode they apply to.
type CLIConfig struct {
	Mode string `toml:"mode"`
	Seed int64  `toml:"seed"`

	// Mode 'compile'
	TopologyFile   string `toml:"topology_file"`
	TablesDir      string `toml:"tables_dir"`
	DeploymentInfo bool   `toml:"deployment_info"`

	// Mode 'run'
	TablesGlob   string `toml:"tables_glob"`
	BackplaneID  int    `toml:"backplane_id"`
	Cycles       int    `toml:"cycles"`
	DbPath       string `toml:"db_path"`
	SaveInterval int    `toml:"save_interval"`
	InjectSpec   string `toml:"inject_spec"`
	WeightsFile  string `toml:"weights_file"`

	// Mode 'logutil'
	LogUtilSubcommand string `toml:"logutil_subcommand"`
	LogUtilDbPath     string `toml:"logutil_dbpath"`
	LogUtilTable      string `toml:"logutil_table"`
	LogUtilFormat     string `toml:"logutil_format"`
	LogUtilOutput     string `toml:"logutil_output"`
}

// AppConfig is the top-level configuration structure.
type AppConfig struct {
	Engine EngineParams
	Cli    CLIConfig
}

// Validate checks AppConfig for consistency, dispatching mode-specific
// checks by Cli.Mode.
func (ac *AppConfig) Validate() error {
	modeValid := false
	for _, m := range SupportedModes {
		if ac.Cli.Mode == m {
			modeValid = true
			break
		}
	}
	if !modeValid {
		return fmt.Errorf("invalid mode %q, supported modes are: %s", ac.Cli.Mode, strings.Join(SupportedModes, ", "))
	}

	if ac.Engine.TimestepUs <= 0 {
		return fmt.Errorf("engine timestep_us must be positive, got %d", ac.Engine.TimestepUs)
	}
	if ac.Engine.SynapseCapacity <= 0 || ac.Engine.SynapseCapacity > 60 {
		return fmt.Errorf("engine synapse capacity must be in (0,60], got %d", ac.Engine.SynapseCapacity)
	}
	if ac.Engine.WeightMax < ac.Engine.WeightMin {
		return fmt.Errorf("engine weight_max (%f) must be >= weight_min (%f)", ac.Engine.WeightMax, ac.Engine.WeightMin)
	}
	if ac.Engine.STDP.Enabled {
		if ac.Engine.STDP.TauPlusUs <= 0 || ac.Engine.STDP.TauMinusUs <= 0 {
			return fmt.Errorf("STDP tau_plus_us and tau_minus_us must be positive when STDP is enabled")
		}
		if ac.Engine.STDP.MaxDeltaTUs <= 0 {
			return fmt.Errorf("STDP max_delta_t_us must be positive when STDP is enabled")
		}
	}

	switch ac.Cli.Mode {
	case ModeCompile:
		if strings.TrimSpace(ac.Cli.TopologyFile) == "" {
			return fmt.Errorf("topology_file must be specified for mode %q", ac.Cli.Mode)
		}
		if strings.TrimSpace(ac.Cli.TablesDir) == "" {
			return fmt.Errorf("tables_dir must be specified for mode %q", ac.Cli.Mode)
		}
	case ModeRun:
		if strings.TrimSpace(ac.Cli.TablesGlob) == "" {
			return fmt.Errorf("tables_glob must be specified for mode %q", ac.Cli.Mode)
		}
		if ac.Cli.Cycles < 0 {
			return fmt.Errorf("cycles for run mode must be non-negative, got %d", ac.Cli.Cycles)
		}
		if ac.Cli.SaveInterval < 0 {
			return fmt.Errorf("save_interval for run mode must be non-negative, got %d", ac.Cli.SaveInterval)
		}
		if ac.Cli.BackplaneID < 0 || ac.Cli.BackplaneID > 255 {
			return fmt.Errorf("backplane_id must fit in a byte, got %d", ac.Cli.BackplaneID)
		}
	case ModeLogUtil:
		if ac.Cli.LogUtilSubcommand != "export" {
			return fmt.Errorf("invalid logutil subcommand %q, currently only 'export' is supported", ac.Cli.LogUtilSubcommand)
		}
		if strings.TrimSpace(ac.Cli.LogUtilDbPath) == "" {
			return fmt.Errorf("logutil_dbpath must be specified for mode %q", ac.Cli.Mode)
		}
		if ac.Cli.LogUtilTable != "ClusterSnapshots" && ac.Cli.LogUtilTable != "SpikeEvents" {
			return fmt.Errorf("invalid logutil_table %q, must be 'ClusterSnapshots' or 'SpikeEvents'", ac.Cli.LogUtilTable)
		}
		if ac.Cli.LogUtilFormat != "csv" {
			return fmt.Errorf("invalid logutil_format %q, currently only 'csv' is supported", ac.Cli.LogUtilFormat)
		}
	}

	return nil
}
