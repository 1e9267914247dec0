package config

import "testing"

func TestDefaultEngineParams(t *testing.T) {
	p := DefaultEngineParams()
	if p.TimestepUs != 1000 {
		t.Errorf("TimestepUs = %d, want 1000", p.TimestepUs)
	}
	if p.SynapseCapacity != 60 {
		t.Errorf("SynapseCapacity = %d, want 60", p.SynapseCapacity)
	}
	if p.STDP.Enabled {
		t.Errorf("STDP.Enabled = true, want false by default")
	}
}

func validAppConfig(mode string) *AppConfig {
	ac := &AppConfig{Engine: DefaultEngineParams(), Cli: CLIConfig{Mode: mode}}
	switch mode {
	case ModeCompile:
		ac.Cli.TopologyFile = "topology.json"
		ac.Cli.TablesDir = "tables"
	case ModeRun:
		ac.Cli.TablesGlob = "tables/*.bin"
		ac.Cli.Cycles = 100
	case ModeLogUtil:
		ac.Cli.LogUtilSubcommand = "export"
		ac.Cli.LogUtilDbPath = "run.db"
		ac.Cli.LogUtilTable = "SpikeEvents"
		ac.Cli.LogUtilFormat = "csv"
	}
	return ac
}

func TestValidate_ValidModes(t *testing.T) {
	for _, mode := range SupportedModes {
		ac := validAppConfig(mode)
		if err := ac.Validate(); err != nil {
			t.Errorf("mode %s: unexpected error: %v", mode, err)
		}
	}
}

func TestValidate_RejectsUnknownMode(t *testing.T) {
	ac := validAppConfig(ModeRun)
	ac.Cli.Mode = "bogus"
	if err := ac.Validate(); err == nil {
		t.Error("expected error for unknown mode, got nil")
	}
}

func TestValidate_RejectsBadEngineParams(t *testing.T) {
	ac := validAppConfig(ModeRun)
	ac.Engine.TimestepUs = 0
	if err := ac.Validate(); err == nil {
		t.Error("expected error for zero timestep_us, got nil")
	}
}

func TestValidate_CompileRequiresTopologyFile(t *testing.T) {
	ac := validAppConfig(ModeCompile)
	ac.Cli.TopologyFile = ""
	if err := ac.Validate(); err == nil {
		t.Error("expected error for missing topology_file, got nil")
	}
}

func TestValidate_STDPRequiresPositiveTau(t *testing.T) {
	ac := validAppConfig(ModeRun)
	ac.Engine.STDP.Enabled = true
	ac.Engine.STDP.TauPlusUs = 0
	if err := ac.Validate(); err == nil {
		t.Error("expected error for non-positive tau_plus_us with STDP enabled, got nil")
	}
}
