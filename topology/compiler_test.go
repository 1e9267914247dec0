package topology

import (
	"testing"

	"github.com/ahtx/neurofab-z1-cluster/common"
)

// s6Topology builds a small fixture network: 2 input neurons (ids 0-1), 3
// hidden (2-4), 1 output (5), fully_connected input->hidden and
// hidden->output, constant weight 0.5 everywhere, single node.
func s6Topology() *Topology {
	return &Topology{
		NetworkName: "s6",
		NeuronCount: 6,
		Layers: []Layer{
			{LayerID: 0, LayerType: LayerInput, NeuronIDs: [2]int{0, 1}, Threshold: 1.0, LeakRate: 0.9, RefractoryPeriodUs: 1000},
			{LayerID: 1, LayerType: LayerHidden, NeuronIDs: [2]int{2, 4}, Threshold: 1.0, LeakRate: 0.9, RefractoryPeriodUs: 1000},
			{LayerID: 2, LayerType: LayerOutput, NeuronIDs: [2]int{5, 5}, Threshold: 1.0, LeakRate: 0.9, RefractoryPeriodUs: 1000},
		},
		Connections: []Connection{
			{SourceLayer: 0, TargetLayer: 1, ConnectionType: FullyConnected, WeightInit: WeightConstant, WeightValue: 0.5},
			{SourceLayer: 1, TargetLayer: 2, ConnectionType: FullyConnected, WeightInit: WeightConstant, WeightValue: 0.5},
		},
		NodeAssignment: NodeAssignment{Strategy: Balanced, Nodes: []int{0}},
	}
}

func TestCompile_S6ByteExactness(t *testing.T) {
	seed := int64(1)
	c := New(s6Topology(), &seed)
	tables, err := c.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	table, ok := tables[0]
	if !ok {
		t.Fatalf("no table for node 0")
	}
	if len(table) != 6*EntrySize {
		t.Fatalf("table length = %d, want %d", len(table), 6*EntrySize)
	}

	records, err := DecodeTable(table)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("got %d records, want 6", len(records))
	}

	// Hidden neurons (local ids 2,3,4) each have exactly 2 input synapses.
	for _, idx := range []int{2, 3, 4} {
		rec := records[idx]
		if rec.SynapseCount != 2 {
			t.Errorf("hidden neuron local %d: SynapseCount = %d, want 2", idx, rec.SynapseCount)
		}
		for i := 0; i < rec.SynapseCount; i++ {
			if rec.Synapses[i].WeightByte != 128 {
				t.Errorf("hidden neuron local %d synapse %d: weight byte = %d, want 128", idx, i, rec.Synapses[i].WeightByte)
			}
		}
	}

	// Output neuron (local id 5) has exactly 3 hidden synapses.
	out := records[5]
	if out.SynapseCount != 3 {
		t.Errorf("output neuron: SynapseCount = %d, want 3", out.SynapseCount)
	}
	for i := 0; i < out.SynapseCount; i++ {
		if out.Synapses[i].WeightByte != 128 {
			t.Errorf("output synapse %d: weight byte = %d, want 128", i, out.Synapses[i].WeightByte)
		}
	}

	// Input neurons carry no incoming synapses and keep the input flag.
	for _, idx := range []int{0, 1} {
		if records[idx].SynapseCount != 0 {
			t.Errorf("input neuron local %d: SynapseCount = %d, want 0", idx, records[idx].SynapseCount)
		}
		if !records[idx].Flags.Has(common.FlagInput) {
			t.Errorf("input neuron local %d: missing FlagInput", idx)
		}
	}
}

func TestCompile_BalancedAssignmentIsDeterministic(t *testing.T) {
	topo := &Topology{
		NetworkName: "balanced",
		NeuronCount: 10,
		Layers: []Layer{
			{LayerID: 0, LayerType: LayerHidden, NeuronIDs: [2]int{0, 9}, Threshold: 1, LeakRate: 0.9, RefractoryPeriodUs: 1000},
		},
		NodeAssignment: NodeAssignment{Strategy: Balanced, Nodes: []int{0, 1, 2}},
	}

	seed := int64(42)
	c1 := New(topo, &seed)
	tables1, err := c1.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	c2 := New(topo, &seed)
	tables2, err := c2.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	for node := range tables1 {
		if string(tables1[node]) != string(tables2[node]) {
			t.Errorf("node %d: tables differ across identical-seed compiles", node)
		}
	}

	// 10 neurons over 3 nodes -> 4,3,3 (block then round-robin remainder from node 0).
	wantCounts := map[int]int{0: 4, 1: 3, 2: 3}
	for node, want := range wantCounts {
		got := len(tables1[node]) / EntrySize
		if got != want {
			t.Errorf("node %d: neuron count = %d, want %d", node, got, want)
		}
	}
}

func TestCompile_LayerBasedAssignsOneLayerPerNodeRoundRobin(t *testing.T) {
	topo := &Topology{
		NetworkName: "layered",
		NeuronCount: 6,
		Layers: []Layer{
			{LayerID: 0, LayerType: LayerInput, NeuronIDs: [2]int{0, 1}, Threshold: 1, LeakRate: 0.9, RefractoryPeriodUs: 1000},
			{LayerID: 1, LayerType: LayerHidden, NeuronIDs: [2]int{2, 4}, Threshold: 1, LeakRate: 0.9, RefractoryPeriodUs: 1000},
			{LayerID: 2, LayerType: LayerOutput, NeuronIDs: [2]int{5, 5}, Threshold: 1, LeakRate: 0.9, RefractoryPeriodUs: 1000},
		},
		NodeAssignment: NodeAssignment{Strategy: LayerBased, Nodes: []int{0, 1}},
	}

	seed := int64(7)
	c := New(topo, &seed)
	tables, err := c.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// layer 0 -> node 0, layer 1 -> node 1, layer 2 -> node 0 (round robin).
	if len(tables[0])/EntrySize != 3 {
		t.Errorf("node 0 neuron count = %d, want 3", len(tables[0])/EntrySize)
	}
	if len(tables[1])/EntrySize != 3 {
		t.Errorf("node 1 neuron count = %d, want 3", len(tables[1])/EntrySize)
	}
}

func TestCompile_FullyConnectedDropsPastCapacity(t *testing.T) {
	topo := &Topology{
		NetworkName: "overflow",
		NeuronCount: 65,
		Layers: []Layer{
			{LayerID: 0, LayerType: LayerInput, NeuronIDs: [2]int{0, 63}, Threshold: 1, LeakRate: 0.9, RefractoryPeriodUs: 1000},
			{LayerID: 1, LayerType: LayerOutput, NeuronIDs: [2]int{64, 64}, Threshold: 1, LeakRate: 0.9, RefractoryPeriodUs: 1000},
		},
		Connections: []Connection{
			{SourceLayer: 0, TargetLayer: 1, ConnectionType: FullyConnected, WeightInit: WeightConstant, WeightValue: 0.25},
		},
		NodeAssignment: NodeAssignment{Strategy: Balanced, Nodes: []int{0}},
	}

	seed := int64(3)
	c := New(topo, &seed)
	tables, err := c.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(c.Warnings()) == 0 {
		t.Error("expected a synapse-cap warning, got none")
	}

	records, err := DecodeTable(tables[0])
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	out := records[64]
	if out.SynapseCount != SynapseCapacity {
		t.Errorf("output neuron SynapseCount = %d, want %d (capped)", out.SynapseCount, SynapseCapacity)
	}
}

// TestCompile_CrossNodeSynapseCarriesPackedGlobalID compiles a topology
// whose source layer lives on a node other than the target layer's, and
// checks that the stored synapse source id is the packed runtime spike id
// (node_id<<16 | local_id), not the raw topology-wide neuron index. Node 0's
// local ids happen to equal their global ids, which would hide this bug, so
// the source layer here is deliberately placed on node 1.
func TestCompile_CrossNodeSynapseCarriesPackedGlobalID(t *testing.T) {
	topo := &Topology{
		NetworkName: "cross-node",
		NeuronCount: 4,
		Layers: []Layer{
			{LayerID: 0, LayerType: LayerInput, NeuronIDs: [2]int{0, 1}, Threshold: 1, LeakRate: 0.9, RefractoryPeriodUs: 1000},
			{LayerID: 1, LayerType: LayerOutput, NeuronIDs: [2]int{2, 3}, Threshold: 1, LeakRate: 0.9, RefractoryPeriodUs: 1000},
		},
		Connections: []Connection{
			{SourceLayer: 0, TargetLayer: 1, ConnectionType: FullyConnected, WeightInit: WeightConstant, WeightValue: 0.5},
		},
		// Round-robin over [1,0]: layer 0 (source) -> node 1, layer 1 (target) -> node 0.
		NodeAssignment: NodeAssignment{Strategy: LayerBased, Nodes: []int{1, 0}},
	}

	seed := int64(9)
	c := New(topo, &seed)
	tables, err := c.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	records, err := DecodeTable(tables[0])
	if err != nil {
		t.Fatalf("DecodeTable(node 0): %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("node 0: got %d records, want 2", len(records))
	}

	wantSources := map[common.GlobalID]bool{
		common.PackGlobalID(1, 0): true,
		common.PackGlobalID(1, 1): true,
	}
	for _, rec := range records {
		if rec.SynapseCount != 2 {
			t.Fatalf("target neuron local %d: SynapseCount = %d, want 2", rec.LocalID, rec.SynapseCount)
		}
		seen := make(map[common.GlobalID]bool)
		for i := 0; i < rec.SynapseCount; i++ {
			got := rec.Synapses[i].SourceGlobalID
			if !wantSources[got] {
				t.Errorf("target neuron local %d synapse %d: SourceGlobalID = %d, want one of %v (packed node=1 local ids)",
					rec.LocalID, i, got, wantSources)
			}
			seen[got] = true
		}
		if len(seen) != 2 {
			t.Errorf("target neuron local %d: expected synapses from both source locals, got %v", rec.LocalID, seen)
		}
	}
}

func TestDeploymentInfo(t *testing.T) {
	seed := int64(1)
	c := New(s6Topology(), &seed)
	if _, err := c.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	infos := c.DeploymentInfo()
	if len(infos) != 1 {
		t.Fatalf("got %d node infos, want 1", len(infos))
	}
	if infos[0].NeuronCount != 6 {
		t.Errorf("NeuronCount = %d, want 6", infos[0].NeuronCount)
	}
	if infos[0].SynapseCount != 9 {
		t.Errorf("SynapseCount = %d, want 9", infos[0].SynapseCount)
	}
	if infos[0].TableBytes != 6*EntrySize {
		t.Errorf("TableBytes = %d, want %d", infos[0].TableBytes, 6*EntrySize)
	}
}
