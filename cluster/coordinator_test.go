package cluster

import (
	"testing"

	"github.com/ahtx/neurofab-z1-cluster/common"
	"github.com/ahtx/neurofab-z1-cluster/config"
	"github.com/ahtx/neurofab-z1-cluster/engine"
	"github.com/ahtx/neurofab-z1-cluster/topology"
)

func buildEngine(t *testing.T, node common.NodeID, params config.EngineParams, records ...topology.NeuronRecord) *engine.Engine {
	t.Helper()
	table := make([]byte, 0, len(records)*topology.EntrySize)
	for _, rec := range records {
		table = append(table, topology.EncodeNeuronEntry(rec)...)
	}
	e := engine.New(node, params)
	if err := e.Load(table); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

// TestRouting_Conservation asserts invariant 5: in the absence of STDP and
// refractory drops, total spikes received across all engines after one
// routing round equals total spikes sent times the engine count.
func TestRouting_Conservation(t *testing.T) {
	params := config.DefaultEngineParams()
	c := New()

	for node := common.NodeID(0); node < 3; node++ {
		rec := topology.NeuronRecord{LocalID: 0, Flags: common.FlagActive, Threshold: 1.0, LeakRate: 0.9, RefractoryPeriodUs: 0}
		e := buildEngine(t, node, params, rec)
		if err := c.RegisterEngine(0, node, e); err != nil {
			t.Fatalf("RegisterEngine: %v", err)
		}
	}

	if n := c.InjectSpike(0, 0, 0, 1.0); n != 1 {
		t.Fatalf("InjectSpike = %d, want 1", n)
	}

	c.RouteOnce()

	status := c.Status()
	wantReceived := status.TotalSpikesSent * 3
	if status.TotalSpikesReceived != wantReceived {
		t.Errorf("TotalSpikesReceived = %d, want %d (sent=%d x 3 engines)", status.TotalSpikesReceived, wantReceived, status.TotalSpikesSent)
	}
	if status.TotalSpikesSent != 1 {
		t.Errorf("TotalSpikesSent = %d, want 1", status.TotalSpikesSent)
	}
}

func TestInjectSpike_UnknownKeyReturnsZero(t *testing.T) {
	c := New()
	if n := c.InjectSpike(9, 9, 0, 1.0); n != 0 {
		t.Errorf("InjectSpike to unknown key = %d, want 0", n)
	}
}

func TestRegisterEngine_RejectsDuplicateKey(t *testing.T) {
	params := config.DefaultEngineParams()
	c := New()
	rec := topology.NeuronRecord{LocalID: 0, Flags: common.FlagActive, Threshold: 1.0, LeakRate: 0.9}
	e1 := buildEngine(t, 0, params, rec)
	e2 := buildEngine(t, 0, params, rec)

	if err := c.RegisterEngine(0, 0, e1); err != nil {
		t.Fatalf("first RegisterEngine: %v", err)
	}
	if err := c.RegisterEngine(0, 0, e2); err == nil {
		t.Error("expected error re-registering the same (backplane, node) key")
	}
}

func TestRecentSpikes_BoundedAndOrdered(t *testing.T) {
	params := config.DefaultEngineParams()
	params.TimestepUs = 1000
	c := New()
	rec := topology.NeuronRecord{LocalID: 0, Flags: common.FlagActive, Threshold: 1.0, LeakRate: 1.0, RefractoryPeriodUs: 0}
	e := buildEngine(t, 0, params, rec)
	if err := c.RegisterEngine(0, 0, e); err != nil {
		t.Fatalf("RegisterEngine: %v", err)
	}

	for i := 0; i < 5; i++ {
		c.InjectSpike(0, 0, 0, 1.0)
		c.RouteOnce()
		e.Step()
	}

	recent := c.RecentSpikes(3)
	if len(recent) != 3 {
		t.Fatalf("got %d recent spikes, want 3", len(recent))
	}
	// The five fires happened at 0..4000us; the last three, oldest first.
	for i, want := range []common.Microseconds{2000, 3000, 4000} {
		if recent[i].TimestampUs != want {
			t.Errorf("recent[%d].TimestampUs = %d, want %d", i, recent[i].TimestampUs, want)
		}
	}
}

// xorFixture wires three engines implementing the S4 XOR network: inputs
// (node 0), an OR/AND hidden pair (node 1), and a one-hop relay plus
// output neuron (node 2). The relay hop delays the OR path by one routing
// round so the AND path's inhibitory synapse at the output can cancel it
// when both inputs are active.
func xorFixture(t *testing.T) (*Coordinator, *engine.Engine, *engine.Engine, *engine.Engine) {
	t.Helper()
	c := New()

	inParams := config.DefaultEngineParams()
	inputs := buildEngine(t, 0, inParams,
		topology.NeuronRecord{LocalID: 0, Flags: common.FlagActive | common.FlagInput, Threshold: 1.0, LeakRate: 1.0},
		topology.NeuronRecord{LocalID: 1, Flags: common.FlagActive | common.FlagInput, Threshold: 1.0, LeakRate: 1.0},
	)

	hiddenParams := config.DefaultEngineParams()
	orRec := topology.NeuronRecord{LocalID: 0, Flags: common.FlagActive, Threshold: 1.0, LeakRate: 1.0, RefractoryPeriodUs: 1_000_000, SynapseCount: 2}
	orRec.Synapses[0] = topology.SynapseSlot{SourceGlobalID: common.PackGlobalID(0, 0), WeightByte: topology.QuantizeWeight(1.0)}
	orRec.Synapses[1] = topology.SynapseSlot{SourceGlobalID: common.PackGlobalID(0, 1), WeightByte: topology.QuantizeWeight(1.0)}
	andRec := topology.NeuronRecord{LocalID: 1, Flags: common.FlagActive, Threshold: 1.0, LeakRate: 1.0, RefractoryPeriodUs: 1_000_000, SynapseCount: 2}
	andRec.Synapses[0] = topology.SynapseSlot{SourceGlobalID: common.PackGlobalID(0, 0), WeightByte: topology.QuantizeWeight(0.6)}
	andRec.Synapses[1] = topology.SynapseSlot{SourceGlobalID: common.PackGlobalID(0, 1), WeightByte: topology.QuantizeWeight(0.6)}
	hidden := buildEngine(t, 1, hiddenParams, orRec, andRec)

	outParams := config.DefaultEngineParams()
	outParams.WeightMin = -2
	outParams.WeightMax = 2
	relayRec := topology.NeuronRecord{LocalID: 0, Flags: common.FlagActive, Threshold: 1.0, LeakRate: 1.0, RefractoryPeriodUs: 1_000_000, SynapseCount: 1}
	relayRec.Synapses[0] = topology.SynapseSlot{SourceGlobalID: common.PackGlobalID(1, 0), WeightByte: topology.QuantizeWeight(1.0)}
	outRec := topology.NeuronRecord{LocalID: 1, Flags: common.FlagActive, Threshold: 1.0, LeakRate: 1.0, RefractoryPeriodUs: 1_000_000, SynapseCount: 2}
	outRec.Synapses[0] = topology.SynapseSlot{SourceGlobalID: common.PackGlobalID(2, 0), WeightByte: topology.QuantizeWeight(1.0)}
	outRec.Synapses[1] = topology.SynapseSlot{SourceGlobalID: common.PackGlobalID(1, 1), WeightByte: topology.QuantizeWeight(1.0)}
	relayOut := buildEngine(t, 2, outParams, relayRec, outRec)
	if err := relayOut.RestoreWeights(engine.WeightsSnapshot{
		NodeID: 2,
		Weights: map[common.LocalID][]float64{
			0: {1.0},
			1: {1.0, -1.5},
		},
	}); err != nil {
		t.Fatalf("RestoreWeights: %v", err)
	}

	for node, e := range map[common.NodeID]*engine.Engine{0: inputs, 1: hidden, 2: relayOut} {
		if err := c.RegisterEngine(0, node, e); err != nil {
			t.Fatalf("RegisterEngine(%d): %v", node, err)
		}
	}
	return c, inputs, hidden, relayOut
}

func runXOR(t *testing.T, a, b bool, c *Coordinator, inputs, hidden, relayOut *engine.Engine) int {
	t.Helper()
	if a {
		if err := inputs.InjectSpike(0, 1.0); err != nil {
			t.Fatalf("inject A: %v", err)
		}
	}
	if b {
		if err := inputs.InjectSpike(1, 1.0); err != nil {
			t.Fatalf("inject B: %v", err)
		}
	}

	c.RouteOnce()
	hidden.Step()
	c.RouteOnce()
	relayOut.Step() // relay reacts to OR; output reacts to AND's direct inhibition
	c.RouteOnce()
	relayOut.Step() // output reacts to the delayed, relayed OR excitation

	return len(relayOut.TakeOutgoingSpikes())
}

func TestXOR(t *testing.T) {
	cases := []struct {
		a, b     bool
		wantFire bool
	}{
		{false, false, false},
		{true, false, true},
		{false, true, true},
		{true, true, false},
	}
	for _, tc := range cases {
		c, inputs, hidden, relayOut := xorFixture(t)
		got := runXOR(t, tc.a, tc.b, c, inputs, hidden, relayOut)
		fired := got > 0
		if fired != tc.wantFire {
			t.Errorf("XOR(%v,%v): fired=%v (count=%d), want fired=%v", tc.a, tc.b, fired, got, tc.wantFire)
		}
	}
}
