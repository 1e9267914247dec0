package topology

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/ahtx/neurofab-z1-cluster/common"
)

// compiledNeuron is one neuron as built during compilation, before packing.
type compiledNeuron struct {
	GlobalID           int
	NodeID             int
	LocalID            int
	Flags              common.Flags
	Threshold          float64
	LeakRate           float64
	RefractoryPeriodUs int64
	Synapses           []compiledSynapse
}

type compiledSynapse struct {
	SourceGlobalID common.GlobalID
	WeightByte     uint8
}

const (
	defaultThreshold          = 1.0
	defaultLeakRate           = 0.95
	defaultRefractoryPeriodUs = 1000
)

// Compiler turns a Topology into per-node binary neuron tables.
type Compiler struct {
	topo *Topology
	rng  *rand.Rand

	nodeOrder    []int         // node ids in first-assigned order
	nodeNeurons  map[int][]int // node id -> global ids, assignment order
	globalToNode map[int]int
	layerByID    map[int]*Layer
	neurons      map[int]*compiledNeuron // by global id

	warnings []string
}

// New builds a Compiler. A nil seed draws entropy from the current time;
// a provided seed makes compilation reproducible.
func New(topo *Topology, seed *int64) *Compiler {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(*seed)
	} else {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Compiler{
		topo:         topo,
		rng:          rand.New(src),
		nodeNeurons:  make(map[int][]int),
		globalToNode: make(map[int]int),
		layerByID:    make(map[int]*Layer),
		neurons:      make(map[int]*compiledNeuron),
	}
}

// Warnings lists non-fatal anomalies recorded during the last Compile call,
// such as fully_connected synapse slots dropped past the 60-synapse cap.
func (c *Compiler) Warnings() []string {
	return c.warnings
}

// Compile produces the node_id -> byte-string mapping of binary neuron
// tables ready to be written to disk and loaded by an engine.
func (c *Compiler) Compile() (map[int][]byte, error) {
	for i := range c.topo.Layers {
		l := &c.topo.Layers[i]
		if l.Threshold == 0 {
			l.Threshold = defaultThreshold
		}
		if l.LeakRate == 0 {
			l.LeakRate = defaultLeakRate
		}
		if l.RefractoryPeriodUs == 0 {
			l.RefractoryPeriodUs = defaultRefractoryPeriodUs
		}
		c.layerByID[l.LayerID] = l
	}

	if err := c.assignNodes(); err != nil {
		return nil, err
	}
	if err := c.buildNeurons(); err != nil {
		return nil, err
	}
	if err := c.generateConnections(); err != nil {
		return nil, err
	}
	return c.packTables(), nil
}

func (c *Compiler) assignNodes() error {
	nodes := c.topo.NodeAssignment.Nodes
	if len(nodes) == 0 {
		return errf("assignNodes", "node_assignment.nodes is empty")
	}

	switch c.topo.NodeAssignment.Strategy {
	case Balanced:
		total := c.topo.NeuronCount
		per := total / len(nodes)
		nextID := 0
		for _, node := range nodes {
			c.addNode(node)
			for i := 0; i < per && nextID < total; i++ {
				c.nodeNeurons[node] = append(c.nodeNeurons[node], nextID)
				c.globalToNode[nextID] = node
				nextID++
			}
		}
		nodeIdx := 0
		for nextID < total {
			node := nodes[nodeIdx]
			c.nodeNeurons[node] = append(c.nodeNeurons[node], nextID)
			c.globalToNode[nextID] = node
			nextID++
			nodeIdx = (nodeIdx + 1) % len(nodes)
		}

	case LayerBased:
		seen := make(map[[2]int]bool)
		for i, layer := range c.topo.Layers {
			start, end := layer.NeuronIDs[0], layer.NeuronIDs[1]
			key := [2]int{start, end}
			if seen[key] {
				return errf("assignNodes", "duplicate neuron_ids range [%d,%d]", start, end)
			}
			seen[key] = true

			node := nodes[i%len(nodes)]
			c.addNode(node)
			for g := start; g <= end; g++ {
				if existing, ok := c.globalToNode[g]; ok {
					return errf("assignNodes", "neuron %d assigned to both node %d and node %d (overlapping layer ranges)", g, existing, node)
				}
				c.nodeNeurons[node] = append(c.nodeNeurons[node], g)
				c.globalToNode[g] = node
			}
		}

	default:
		return errf("assignNodes", "unknown assignment strategy %q", c.topo.NodeAssignment.Strategy)
	}
	return nil
}

func (c *Compiler) addNode(node int) {
	if _, ok := c.nodeNeurons[node]; !ok {
		c.nodeOrder = append(c.nodeOrder, node)
		c.nodeNeurons[node] = nil
	}
}

func (c *Compiler) localIDOf(node, globalID int) (int, error) {
	for idx, g := range c.nodeNeurons[node] {
		if g == globalID {
			return idx, nil
		}
	}
	return 0, errf("localIDOf", "neuron %d not found on node %d", globalID, node)
}

func (c *Compiler) buildNeurons() error {
	for _, layer := range c.topo.Layers {
		flags := common.FlagActive
		switch layer.LayerType {
		case LayerInput:
			flags |= common.FlagInput
		case LayerOutput:
			flags |= common.FlagOutput
		}

		for g := layer.NeuronIDs[0]; g <= layer.NeuronIDs[1]; g++ {
			node, ok := c.globalToNode[g]
			if !ok {
				return errf("buildNeurons", "neuron %d has no node assignment", g)
			}
			local, err := c.localIDOf(node, g)
			if err != nil {
				return err
			}
			c.neurons[g] = &compiledNeuron{
				GlobalID:           g,
				NodeID:             node,
				LocalID:            local,
				Flags:              flags,
				Threshold:          layer.Threshold,
				LeakRate:           layer.LeakRate,
				RefractoryPeriodUs: layer.RefractoryPeriodUs,
			}
		}
	}
	return nil
}

func (c *Compiler) generateConnections() error {
	for _, conn := range c.topo.Connections {
		source, ok := c.layerByID[conn.SourceLayer]
		if !ok {
			return errf("generateConnections", "unknown source_layer %d", conn.SourceLayer)
		}
		target, ok := c.layerByID[conn.TargetLayer]
		if !ok {
			return errf("generateConnections", "unknown target_layer %d", conn.TargetLayer)
		}

		switch conn.ConnectionType {
		case FullyConnected:
			c.generateFullyConnected(conn, source, target)
		case SparseRandom:
			c.generateSparseRandom(conn, source, target)
		default:
			return errf("generateConnections", "unknown connection_type %q", conn.ConnectionType)
		}
	}
	return nil
}

func (c *Compiler) weightFor(conn Connection) float64 {
	var w float64
	switch conn.WeightInit {
	case WeightRandomUniform:
		lo, hi := conn.WeightMin, conn.WeightMax
		if hi <= lo {
			hi = lo + 1
		}
		w = lo + c.rng.Float64()*(hi-lo)
	case WeightConstant:
		w = conn.WeightValue
	case WeightRandomNormal, "":
		mean, stddev := conn.WeightMean, conn.WeightStddev
		if stddev == 0 {
			stddev = 0.1
		}
		w = mean + c.rng.NormFloat64()*stddev
	default:
		w = conn.WeightValue
	}
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return w
}

// packedSourceID returns the (node_id << 16) | local_id identifier that a
// spike from neuron src will actually carry at runtime, so a synapse slot
// matches across node boundaries instead of only coinciding by accident for
// node 0, where local_id and global_id are numerically equal.
func (c *Compiler) packedSourceID(src int) common.GlobalID {
	srcNeuron := c.neurons[src]
	return common.PackGlobalID(common.NodeID(srcNeuron.NodeID), common.LocalID(srcNeuron.LocalID))
}

func (c *Compiler) generateFullyConnected(conn Connection, source, target *Layer) {
	for tgt := target.NeuronIDs[0]; tgt <= target.NeuronIDs[1]; tgt++ {
		tNeuron := c.neurons[tgt]
		for src := source.NeuronIDs[0]; src <= source.NeuronIDs[1]; src++ {
			if len(tNeuron.Synapses) >= SynapseCapacity {
				c.warnings = append(c.warnings, fmt.Sprintf(
					"neuron %d: synapse cap (%d) reached, dropping connection from %d", tgt, SynapseCapacity, src))
				continue
			}
			tNeuron.Synapses = append(tNeuron.Synapses, compiledSynapse{
				SourceGlobalID: c.packedSourceID(src),
				WeightByte:     QuantizeWeight(c.weightFor(conn)),
			})
		}
	}
}

func (c *Compiler) generateSparseRandom(conn Connection, source, target *Layer) {
	p := conn.ConnectionProbability
	for tgt := target.NeuronIDs[0]; tgt <= target.NeuronIDs[1]; tgt++ {
		tNeuron := c.neurons[tgt]
		for src := source.NeuronIDs[0]; src <= source.NeuronIDs[1]; src++ {
			if c.rng.Float64() >= p {
				continue
			}
			if len(tNeuron.Synapses) >= SynapseCapacity {
				continue // over capacity, synapse silently dropped
			}
			tNeuron.Synapses = append(tNeuron.Synapses, compiledSynapse{
				SourceGlobalID: c.packedSourceID(src),
				WeightByte:     QuantizeWeight(c.weightFor(conn)),
			})
		}
	}
}

func (c *Compiler) packTables() map[int][]byte {
	tables := make(map[int][]byte, len(c.nodeOrder))
	for _, node := range c.nodeOrder {
		globalIDs := append([]int(nil), c.nodeNeurons[node]...)
		sort.Ints(globalIDs)

		buf := make([]byte, 0, len(globalIDs)*EntrySize)
		for _, g := range globalIDs {
			n := c.neurons[g]
			rec := NeuronRecord{
				LocalID:            common.LocalID(n.LocalID),
				Flags:              n.Flags,
				InitialPotential:   0,
				Threshold:          n.Threshold,
				LastSpikeTimeUs:    0,
				SynapseCount:       len(n.Synapses),
				LeakRate:           n.LeakRate,
				RefractoryPeriodUs: uint32(n.RefractoryPeriodUs),
			}
			for i, syn := range n.Synapses {
				if i >= SynapseCapacity {
					break
				}
				rec.Synapses[i] = SynapseSlot{
					SourceGlobalID: syn.SourceGlobalID,
					WeightByte:     syn.WeightByte,
				}
			}
			buf = append(buf, EncodeNeuronEntry(rec)...)
		}
		tables[node] = buf
	}
	return tables
}

// DeploymentInfo reports per-node neuron/synapse counts and table byte
// sizes, grounded on snn_compiler.py's get_deployment_info().
type DeploymentInfo struct {
	NodeID       int
	NeuronCount  int
	SynapseCount int
	TableBytes   int
}

// DeploymentInfo must be called after a successful Compile.
func (c *Compiler) DeploymentInfo() []DeploymentInfo {
	infos := make([]DeploymentInfo, 0, len(c.nodeOrder))
	for _, node := range c.nodeOrder {
		synapses := 0
		for _, g := range c.nodeNeurons[node] {
			synapses += len(c.neurons[g].Synapses)
		}
		infos = append(infos, DeploymentInfo{
			NodeID:       node,
			NeuronCount:  len(c.nodeNeurons[node]),
			SynapseCount: synapses,
			TableBytes:   len(c.nodeNeurons[node]) * EntrySize,
		})
	}
	return infos
}

