// Package engine runs one node's slice of a compiled network: a fixed-rate
// leaky integrate-and-fire step loop with optional pair-based STDP, fed
// spikes from its own neurons and from the cluster coordinator.
package engine

import (
	"log"
	"sync"
	"time"

	"github.com/ahtx/neurofab-z1-cluster/common"
	"github.com/ahtx/neurofab-z1-cluster/config"
	"github.com/ahtx/neurofab-z1-cluster/topology"
)

// Stats summarizes one engine's activity since it was loaded.
type Stats struct {
	StepCount    int64
	SpikesIn     int64
	SpikesOut    int64
	NeuronCount  int
	SynapseCount int
}

// NeuronState is a read-only snapshot of one neuron, for inspection and
// logging.
type NeuronState struct {
	LocalID         common.LocalID
	GlobalID        common.GlobalID
	Flags           common.Flags
	Potential       common.Voltage
	Threshold       common.Voltage
	LeakRate        float64
	LastSpikeTimeUs common.Microseconds
	SynapseCount    int
}

// Engine owns one node's neurons and runs them on a fixed tick.
type Engine struct {
	mu sync.Mutex

	nodeID common.NodeID
	params config.EngineParams
	bounds common.WeightBounds

	neurons  []*Neuron
	byGlobal map[common.GlobalID]*Neuron

	nowUs common.Microseconds

	incoming []Spike
	outgoing []Spike

	stats Stats

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds an unloaded Engine for nodeID. Call Load before Start.
func New(nodeID common.NodeID, params config.EngineParams) *Engine {
	return &Engine{
		nodeID:   nodeID,
		params:   params,
		bounds:   common.WeightBounds{Min: common.Weight(params.WeightMin), Max: common.Weight(params.WeightMax)},
		byGlobal: make(map[common.GlobalID]*Neuron),
	}
}

// NodeID returns the node this engine represents.
func (e *Engine) NodeID() common.NodeID { return e.nodeID }

// Load decodes a binary neuron table (as produced by topology.Compiler) and
// replaces the engine's neuron population. Load must be called before Start
// and must not be called while the engine is running.
func (e *Engine) Load(table []byte) error {
	records, err := topology.DecodeTable(table)
	if err != nil {
		return tableParseErr("Load", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.neurons = make([]*Neuron, 0, len(records))
	e.byGlobal = make(map[common.GlobalID]*Neuron, len(records))

	synapseCount := 0
	for _, rec := range records {
		n := &Neuron{
			LocalID:            rec.LocalID,
			GlobalID:           common.PackGlobalID(e.nodeID, rec.LocalID),
			Flags:              rec.Flags,
			Potential:          common.Voltage(rec.InitialPotential),
			Threshold:          common.Voltage(rec.Threshold),
			LeakRate:           rec.LeakRate,
			RefractoryPeriodUs: common.Microseconds(rec.RefractoryPeriodUs),
		}
		n.Synapses = make([]Synapse, 0, rec.SynapseCount)
		for i := 0; i < rec.SynapseCount; i++ {
			slot := rec.Synapses[i]
			n.Synapses = append(n.Synapses, Synapse{
				SourceGlobalID: slot.SourceGlobalID,
				Weight:         common.Weight(topology.DequantizeWeight(slot.WeightByte)),
			})
		}
		synapseCount += len(n.Synapses)
		e.neurons = append(e.neurons, n)
		e.byGlobal[n.GlobalID] = n
	}

	e.stats = Stats{NeuronCount: len(e.neurons), SynapseCount: synapseCount}
	e.nowUs = 0
	e.incoming = nil
	e.outgoing = nil
	return nil
}

// Start launches the engine's step-loop goroutine, ticking every
// TimestepUs. Start is a no-op if the engine is already running.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.stopCh != nil {
		e.mu.Unlock()
		return
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.ticker = time.NewTicker(time.Duration(e.params.TimestepUs) * time.Microsecond)
	stopCh, doneCh, ticker := e.stopCh, e.doneCh, e.ticker
	e.mu.Unlock()

	go func() {
		defer close(doneCh)
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				e.step()
			}
		}
	}()
}

// Stop halts the step-loop goroutine, waiting up to 2 seconds for it to
// exit cleanly.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	close(e.stopCh)
	ticker := e.ticker
	doneCh := e.doneCh
	e.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		log.Printf("engine: node %d step loop did not exit within 2s", e.nodeID)
	}
	ticker.Stop()

	e.mu.Lock()
	e.stopCh = nil
	e.doneCh = nil
	e.ticker = nil
	e.mu.Unlock()
}

// Step advances the engine by exactly one timestep. Exported for
// single-stepped tests and for an externally driven cluster clock.
func (e *Engine) Step() {
	e.step()
}

func (e *Engine) step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nowUs += common.Microseconds(e.params.TimestepUs)
	e.stats.StepCount++

	e.drainIncomingLocked()
	e.leakPassLocked()
}

// PushIncoming queues a spike for processing on the next step. Safe for
// concurrent callers (the cluster coordinator's routing goroutine).
func (e *Engine) PushIncoming(sp Spike) {
	e.mu.Lock()
	e.incoming = append(e.incoming, sp)
	e.mu.Unlock()
}

// TakeOutgoingSpikes drains and returns every spike fired since the last
// call.
func (e *Engine) TakeOutgoingSpikes() []Spike {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.outgoing
	e.outgoing = nil
	return out
}

// InjectSpike stimulates a neuron directly. Per the input-neuron
// convention, a neuron with zero incoming synapses fires immediately
// (bypassing membrane integration, but still subject to refractory
// gating); a neuron with synapses instead has value added straight to its
// membrane potential and is evaluated for firing within the same call.
func (e *Engine) InjectSpike(localID common.LocalID, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.neuronByLocalLocked(localID)
	if n == nil {
		return invalidParamErr("local_id", localID)
	}
	e.stats.SpikesIn++

	if len(n.Synapses) == 0 {
		if n.inRefractory(e.nowUs) {
			return nil
		}
		n.fire(e.nowUs)
		e.stats.SpikesOut++
		e.outgoing = append(e.outgoing, Spike{
			SourceGlobalID: n.GlobalID,
			SourceNode:     e.nodeID,
			TimestampUs:    e.nowUs,
			Value:          1.0,
		})
		return nil
	}

	n.Potential += common.Voltage(value)
	e.evaluateFiringLocked(n)
	return nil
}

func (e *Engine) neuronByLocalLocked(localID common.LocalID) *Neuron {
	for _, n := range e.neurons {
		if n.LocalID == localID {
			return n
		}
	}
	return nil
}

// drainIncomingLocked processes every spike queued since the last step.
func (e *Engine) drainIncomingLocked() {
	if len(e.incoming) == 0 {
		return
	}
	spikes := e.incoming
	e.incoming = nil
	for _, sp := range spikes {
		e.stats.SpikesIn++
		e.processSpikeLocked(sp)
	}
}

// processSpikeLocked matches one spike against every local neuron's
// synapse table. Each neuron is evaluated independently: a fire on one
// neuron does not stop the spike from also being matched against others.
// A single spike can cause at most one fire per target neuron.
func (e *Engine) processSpikeLocked(sp Spike) {
	for _, n := range e.neurons {
		e.matchSynapsesLocked(n, sp)
	}
}

// matchSynapsesLocked applies one spike to every synapse of n sourced from
// it. A synapse skips membrane integration entirely while n is refractory;
// STDP bookkeeping still runs regardless, since it tracks spike timing
// rather than membrane state.
func (e *Engine) matchSynapsesLocked(n *Neuron, sp Spike) bool {
	matched := false
	for i := range n.Synapses {
		syn := &n.Synapses[i]
		if syn.SourceGlobalID != sp.SourceGlobalID {
			continue
		}
		matched = true

		if e.params.STDP.Enabled {
			if delta := ltdDelta(e.params.STDP, sp.TimestampUs, n.LastSpikeTimeUs); delta != 0 && n.everFired {
				syn.Weight = e.bounds.Clamp(syn.Weight + delta)
			}
			syn.LastPreSpikeUs = sp.TimestampUs
			syn.everPreSpiked = true
		}

		if n.inRefractory(e.nowUs) {
			continue
		}

		value := sp.Value
		if value == 0 {
			value = 1.0
		}
		n.Potential += common.Voltage(float64(syn.Weight) * value)
	}
	if !matched {
		return false
	}
	return e.evaluateFiringLocked(n)
}

// evaluateFiringLocked fires n if its potential has crossed threshold and
// it is not refractory, applying LTP across its synapses and emitting an
// outgoing spike.
func (e *Engine) evaluateFiringLocked(n *Neuron) bool {
	if n.Potential < n.Threshold {
		return false
	}
	if n.inRefractory(e.nowUs) {
		return false
	}

	n.fire(e.nowUs)
	e.stats.SpikesOut++

	if e.params.STDP.Enabled {
		e.applyLTPLocked(n)
	}

	e.outgoing = append(e.outgoing, Spike{
		SourceGlobalID: n.GlobalID,
		SourceNode:     e.nodeID,
		TimestampUs:    e.nowUs,
		Value:          1.0,
	})
	return true
}

func (e *Engine) applyLTPLocked(n *Neuron) {
	for i := range n.Synapses {
		syn := &n.Synapses[i]
		if !syn.everPreSpiked {
			continue
		}
		if delta := ltpDelta(e.params.STDP, n.LastSpikeTimeUs, syn.LastPreSpikeUs); delta != 0 {
			syn.Weight = e.bounds.Clamp(syn.Weight + delta)
		}
	}
}

// leakPassLocked applies the multiplicative membrane decay to every
// neuron, then fires any neuron that crosses threshold purely from
// residual potential (rare with leak_rate <= 1, but not excluded).
func (e *Engine) leakPassLocked() {
	for _, n := range e.neurons {
		if n.Potential > 0 {
			n.leak()
		}
		e.evaluateFiringLocked(n)
	}
}

// GetStats returns a snapshot of the engine's activity counters.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// GetNeuronState returns a snapshot of one neuron by local id.
func (e *Engine) GetNeuronState(localID common.LocalID) (NeuronState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.neuronByLocalLocked(localID)
	if n == nil {
		return NeuronState{}, false
	}
	return NeuronState{
		LocalID:         n.LocalID,
		GlobalID:        n.GlobalID,
		Flags:           n.Flags,
		Potential:       n.Potential,
		Threshold:       n.Threshold,
		LeakRate:        n.LeakRate,
		LastSpikeTimeUs: n.LastSpikeTimeUs,
		SynapseCount:    len(n.Synapses),
	}, true
}

// WeightsSnapshot is a portable record of every synapse weight on this
// engine, keyed by (target local id, synapse index), for save/restore
// across runs.
type WeightsSnapshot struct {
	NodeID  common.NodeID              `json:"node_id"`
	Weights map[common.LocalID][]float64 `json:"weights"`
}

// SnapshotWeights captures the current weight of every synapse.
func (e *Engine) SnapshotWeights() WeightsSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := WeightsSnapshot{NodeID: e.nodeID, Weights: make(map[common.LocalID][]float64, len(e.neurons))}
	for _, n := range e.neurons {
		weights := make([]float64, len(n.Synapses))
		for i, syn := range n.Synapses {
			weights[i] = float64(syn.Weight)
		}
		snap.Weights[n.LocalID] = weights
	}
	return snap
}

// RestoreWeights applies a previously captured snapshot. Neurons absent
// from the snapshot are left untouched. A neuron whose synapse count differs
// from its snapshot entry makes RestoreWeights return an error; neurons
// processed before it keep their restored weights.
func (e *Engine) RestoreWeights(snap WeightsSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, n := range e.neurons {
		weights, ok := snap.Weights[n.LocalID]
		if !ok {
			continue
		}
		if len(weights) != len(n.Synapses) {
			return invalidParamErr("weights_snapshot.synapse_count", len(weights))
		}
		for i, w := range weights {
			n.Synapses[i].Weight = e.bounds.Clamp(common.Weight(w))
		}
	}
	return nil
}
