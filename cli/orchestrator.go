// Package cli provides the command-line orchestrator for the cluster
// application. It interprets CLI arguments, sets up the topology compiler,
// engine, and cluster coordinator, and manages the execution flow for each
// operation mode (compile, run, logutil).
package cli

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ahtx/neurofab-z1-cluster/cluster"
	"github.com/ahtx/neurofab-z1-cluster/common"
	"github.com/ahtx/neurofab-z1-cluster/config"
	"github.com/ahtx/neurofab-z1-cluster/engine"
	"github.com/ahtx/neurofab-z1-cluster/storage"
	"github.com/ahtx/neurofab-z1-cluster/topology"
)

// Orchestrator manages execution based on the application configuration.
type Orchestrator struct {
	AppCfg      *config.AppConfig
	Coordinator *cluster.Coordinator
	Logger      *storage.SQLiteLogger

	engines map[common.NodeID]*engine.Engine

	// loadWeightsFn and saveWeightsFn allow mocking persistence in tests.
	loadWeightsFn func(filepath string) (engine.WeightsSnapshot, error)
	saveWeightsFn func(snap engine.WeightsSnapshot, filepath string) error
}

// NewOrchestrator creates an orchestrator with the given application
// configuration, defaulting to real file system operations for weights.
func NewOrchestrator(appCfg *config.AppConfig) *Orchestrator {
	return &Orchestrator{
		AppCfg:        appCfg,
		engines:       make(map[common.NodeID]*engine.Engine),
		loadWeightsFn: storage.LoadWeightsFromJSON,
		saveWeightsFn: storage.SaveWeightsToJSON,
	}
}

// Run executes the selected operation mode.
func (o *Orchestrator) Run() error {
	fmt.Println("neurofab-z1 cluster initializing...")
	fmt.Printf("Selected mode: %s\n", o.AppCfg.Cli.Mode)

	startTime := time.Now()
	var err error

	switch o.AppCfg.Cli.Mode {
	case config.ModeCompile:
		err = o.runCompileMode()
	case config.ModeRun:
		err = o.runRunMode()
	case config.ModeLogUtil:
		err = o.runLogUtilMode()
	default:
		return fmt.Errorf("unknown or unsupported mode in Orchestrator.Run: %s", o.AppCfg.Cli.Mode)
	}

	if err != nil {
		return fmt.Errorf("error during execution of mode %q: %w", o.AppCfg.Cli.Mode, err)
	}

	fmt.Printf("\nSession finished. Total duration: %s.\n", time.Since(startTime))
	return nil
}

// nodeTableFilename returns the on-disk name for a compiled node table.
func nodeTableFilename(nodeID int) string {
	return fmt.Sprintf("node_%03d.bin", nodeID)
}

var nodeTableFileRe = regexp.MustCompile(`node_(\d+)\.bin$`)

// nodeIDFromTablePath extracts the node id embedded in a table filename
// written by nodeTableFilename.
func nodeIDFromTablePath(path string) (int, error) {
	m := nodeTableFileRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, fmt.Errorf("path %q does not match the node_<id>.bin naming convention", path)
	}
	return strconv.Atoi(m[1])
}

// runCompileMode handles the 'compile' execution mode: loads a topology
// description, compiles it to per-node binary tables, and writes each to
// TablesDir.
func (o *Orchestrator) runCompileMode() error {
	cliCfg := &o.AppCfg.Cli
	fmt.Printf("\nCompiling topology %s into per-node tables under %s...\n", cliCfg.TopologyFile, cliCfg.TablesDir)

	topo, err := topology.LoadFile(cliCfg.TopologyFile)
	if err != nil {
		return fmt.Errorf("load topology file %s: %w", cliCfg.TopologyFile, err)
	}

	var seedPtr *int64
	if cliCfg.Seed != 0 {
		seedPtr = &cliCfg.Seed
	}
	compiler := topology.New(topo, seedPtr)
	tables, err := compiler.Compile()
	if err != nil {
		return fmt.Errorf("compile topology: %w", err)
	}

	if err := os.MkdirAll(cliCfg.TablesDir, 0755); err != nil {
		return fmt.Errorf("create tables directory %s: %w", cliCfg.TablesDir, err)
	}

	nodeIDs := make([]int, 0, len(tables))
	for nodeID := range tables {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Ints(nodeIDs)

	for _, nodeID := range nodeIDs {
		path := filepath.Join(cliCfg.TablesDir, nodeTableFilename(nodeID))
		if err := os.WriteFile(path, tables[nodeID], 0644); err != nil {
			return fmt.Errorf("write table for node %d to %s: %w", nodeID, path, err)
		}
		fmt.Printf("  wrote %s (%d bytes)\n", path, len(tables[nodeID]))
	}

	for _, warning := range compiler.Warnings() {
		fmt.Printf("  warning: %s\n", warning)
	}

	if cliCfg.DeploymentInfo {
		fmt.Println("\nDeployment info:")
		for _, info := range compiler.DeploymentInfo() {
			fmt.Printf("  node %d: %d neurons, %d synapses, %d bytes\n",
				info.NodeID, info.NeuronCount, info.SynapseCount, info.TableBytes)
		}
	}

	fmt.Printf("Compilation complete: %d node table(s) written.\n", len(tables))
	return nil
}

// loadEngines globs TablesGlob, builds one Engine per matched table file, and
// registers each with a fresh Coordinator under (BackplaneID, node id).
func (o *Orchestrator) loadEngines() error {
	cliCfg := &o.AppCfg.Cli

	matches, err := filepath.Glob(cliCfg.TablesGlob)
	if err != nil {
		return fmt.Errorf("glob tables_glob %q: %w", cliCfg.TablesGlob, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no table files matched tables_glob %q", cliCfg.TablesGlob)
	}
	sort.Strings(matches)

	o.Coordinator = cluster.New()
	bp := common.BackplaneID(cliCfg.BackplaneID)

	for _, path := range matches {
		nodeIDInt, err := nodeIDFromTablePath(path)
		if err != nil {
			return err
		}
		nodeID := common.NodeID(nodeIDInt)

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read table file %s: %w", path, err)
		}

		eng := engine.New(nodeID, o.AppCfg.Engine)
		if err := eng.Load(data); err != nil {
			return fmt.Errorf("load table %s onto node %d: %w", path, nodeID, err)
		}
		if err := o.Coordinator.RegisterEngine(bp, nodeID, eng); err != nil {
			return fmt.Errorf("register engine for node %d: %w", nodeID, err)
		}
		o.engines[nodeID] = eng
		fmt.Printf("  loaded %s onto node %d (%d neurons)\n", path, nodeID, eng.GetStats().NeuronCount)
	}

	if strings.TrimSpace(cliCfg.WeightsFile) != "" {
		o.loadWeightsForAllNodes(cliCfg.WeightsFile)
	}

	o.Coordinator.SetSTDPEnabled(o.AppCfg.Engine.STDP.Enabled)
	return nil
}

// weightsFileForNode derives a per-node weights path from the configured
// base path, since each node snapshots its own synapse weights.
func weightsFileForNode(base string, nodeID common.NodeID) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s.node%d%s", stem, nodeID, ext)
}

// loadWeightsForAllNodes restores previously-saved weights for every
// registered engine. A missing per-node file is normal on a first run, so
// it is reported but not treated as fatal.
func (o *Orchestrator) loadWeightsForAllNodes(base string) {
	for nodeID, eng := range o.engines {
		path := weightsFileForNode(base, nodeID)
		snap, err := o.loadWeightsFn(path)
		if err != nil {
			fmt.Printf("  note: no existing weights for node %d at %s (%v), keeping compiled weights\n", nodeID, path, err)
			continue
		}
		if err := eng.RestoreWeights(snap); err != nil {
			log.Printf("restore weights for node %d from %s: %v", nodeID, path, err)
			continue
		}
		fmt.Printf("  restored weights for node %d from %s\n", nodeID, path)
	}
}

// saveWeightsForAllNodes persists every registered engine's current synapse
// weights to its per-node file.
func (o *Orchestrator) saveWeightsForAllNodes(base string) error {
	for nodeID, eng := range o.engines {
		path := weightsFileForNode(base, nodeID)
		if err := o.saveWeightsFn(eng.SnapshotWeights(), path); err != nil {
			return fmt.Errorf("save weights for node %d to %s: %w", nodeID, path, err)
		}
		fmt.Printf("  saved weights for node %d to %s\n", nodeID, path)
	}
	return nil
}

type injection struct {
	Node    common.NodeID
	LocalID common.LocalID
	Value   float64
}

// parseInjectSpec parses a comma-separated list of "node:local_id:value"
// triples, the format accepted by the run mode's --inject flag.
func parseInjectSpec(spec string) ([]injection, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var out []injection
	for _, part := range strings.Split(spec, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid inject_spec entry %q, want node:local_id:value", part)
		}
		node, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("invalid node in inject_spec entry %q: %w", part, err)
		}
		localID, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid local_id in inject_spec entry %q: %w", part, err)
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value in inject_spec entry %q: %w", part, err)
		}
		out = append(out, injection{Node: common.NodeID(node), LocalID: common.LocalID(localID), Value: value})
	}
	return out, nil
}

// initializeLogger opens the SQLite logger if a db_path is configured.
func (o *Orchestrator) initializeLogger() error {
	cliCfg := &o.AppCfg.Cli
	if strings.TrimSpace(cliCfg.DbPath) == "" {
		return nil
	}
	logger, err := storage.NewSQLiteLogger(cliCfg.DbPath)
	if err != nil {
		return fmt.Errorf("initialize SQLite logger at %s: %w", cliCfg.DbPath, err)
	}
	o.Logger = logger
	fmt.Printf("SQLite logging enabled: %s\n", cliCfg.DbPath)
	return nil
}

// runRunMode handles the 'run' execution mode: loads compiled tables,
// starts the cluster, optionally injects an initial stimulus, runs for a
// fixed number of cycles while logging periodically, then stops and saves
// learned weights.
func (o *Orchestrator) runRunMode() error {
	cliCfg := &o.AppCfg.Cli
	fmt.Printf("\nStarting cluster run for %d cycles (tables: %s)...\n", cliCfg.Cycles, cliCfg.TablesGlob)

	if err := o.loadEngines(); err != nil {
		return fmt.Errorf("load engines: %w", err)
	}

	if err := o.initializeLogger(); err != nil {
		return err
	}
	if o.Logger != nil {
		defer func() {
			if err := o.Logger.Close(); err != nil {
				log.Printf("error closing SQLite logger: %v", err)
			}
		}()
	}

	injections, err := parseInjectSpec(cliCfg.InjectSpec)
	if err != nil {
		return fmt.Errorf("parse inject_spec: %w", err)
	}

	o.Coordinator.StartAll()
	defer o.Coordinator.StopAll()

	for _, inj := range injections {
		if n := o.Coordinator.InjectSpike(common.BackplaneID(cliCfg.BackplaneID), inj.Node, inj.LocalID, inj.Value); n == 0 {
			log.Printf("inject_spec: no engine registered for node %d", inj.Node)
		}
	}

	tick := time.Duration(o.AppCfg.Engine.TimestepUs) * time.Microsecond
	for cycle := 1; cycle <= cliCfg.Cycles; cycle++ {
		time.Sleep(tick)

		if cycle%10 == 0 || cycle == cliCfg.Cycles {
			status := o.Coordinator.Status()
			fmt.Printf("cycle %d/%d: engines=%d neurons=%d sent=%d received=%d\n",
				cycle, cliCfg.Cycles, status.TotalEngines, status.TotalNeurons,
				status.TotalSpikesSent, status.TotalSpikesReceived)
		}

		if o.Logger != nil && cliCfg.SaveInterval > 0 && cycle%cliCfg.SaveInterval == 0 {
			if err := o.logSnapshot(cycle); err != nil {
				return fmt.Errorf("log cluster snapshot at cycle %d: %w", cycle, err)
			}
		}
	}

	if o.Logger != nil && (cliCfg.SaveInterval == 0 || cliCfg.Cycles%cliCfg.SaveInterval != 0) {
		if err := o.logSnapshot(cliCfg.Cycles); err != nil {
			return fmt.Errorf("log final cluster snapshot: %w", err)
		}
	}

	o.Coordinator.StopAll()

	if strings.TrimSpace(cliCfg.WeightsFile) != "" {
		if err := o.saveWeightsForAllNodes(cliCfg.WeightsFile); err != nil {
			return err
		}
	}

	fmt.Println("Cluster run completed.")
	return nil
}

// logSnapshot records one cluster status snapshot plus the spikes observed
// since the beginning of the run, bounded by the coordinator's own global
// buffer capacity.
func (o *Orchestrator) logSnapshot(cycle int) error {
	status := o.Coordinator.Status()
	spikes := o.Coordinator.RecentSpikes(int(status.TotalSpikesSent))
	return o.Logger.LogClusterSnapshot(cycle, status, spikes)
}

// runLogUtilMode handles the 'logutil' execution mode: exports a table from
// a previously-written SQLite log to CSV.
func (o *Orchestrator) runLogUtilMode() error {
	fmt.Println("\nRunning log utility...")
	cliCfg := &o.AppCfg.Cli

	fmt.Printf("  Subcommand: %s\n", cliCfg.LogUtilSubcommand)
	fmt.Printf("  Database: %s\n", cliCfg.LogUtilDbPath)
	fmt.Printf("  Table: %s\n", cliCfg.LogUtilTable)
	fmt.Printf("  Format: %s\n", cliCfg.LogUtilFormat)
	if cliCfg.LogUtilOutput != "" {
		fmt.Printf("  Output: %s\n", cliCfg.LogUtilOutput)
	} else {
		fmt.Println("  Output: stdout")
	}

	if cliCfg.LogUtilSubcommand != "export" {
		return fmt.Errorf("unknown logutil subcommand: %s", cliCfg.LogUtilSubcommand)
	}

	if err := storage.ExportLogData(cliCfg.LogUtilDbPath, cliCfg.LogUtilTable, cliCfg.LogUtilFormat, cliCfg.LogUtilOutput); err != nil {
		return fmt.Errorf("log export failed: %w", err)
	}
	fmt.Println("Log export completed successfully.")
	return nil
}

// --- Test wrappers, exported for the cli_test package ---

// RunCompileModeForTest wraps runCompileMode for testing.
func (o *Orchestrator) RunCompileModeForTest() error {
	return o.runCompileMode()
}

// RunRunModeForTest wraps runRunMode for testing.
func (o *Orchestrator) RunRunModeForTest() error {
	return o.runRunMode()
}

// RunLogUtilModeForTest wraps runLogUtilMode for testing.
func (o *Orchestrator) RunLogUtilModeForTest() error {
	return o.runLogUtilMode()
}

// LoadEnginesForTest wraps loadEngines for testing.
func (o *Orchestrator) LoadEnginesForTest() error {
	return o.loadEngines()
}

// SetLoadWeightsFn allows tests to inject a mock loadWeightsFn.
func (o *Orchestrator) SetLoadWeightsFn(fn func(filepath string) (engine.WeightsSnapshot, error)) {
	o.loadWeightsFn = fn
}

// SetSaveWeightsFn allows tests to inject a mock saveWeightsFn.
func (o *Orchestrator) SetSaveWeightsFn(fn func(snap engine.WeightsSnapshot, filepath string) error) {
	o.saveWeightsFn = fn
}

// Engines exposes the registered engines by node id, for test assertions.
func (o *Orchestrator) Engines() map[common.NodeID]*engine.Engine {
	return o.engines
}
