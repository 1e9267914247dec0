package engine

import "github.com/ahtx/neurofab-z1-cluster/common"

// Neuron is one leaky integrate-and-fire unit local to an Engine.
type Neuron struct {
	LocalID            common.LocalID
	GlobalID           common.GlobalID
	Flags              common.Flags
	Potential          common.Voltage
	Threshold          common.Voltage
	LeakRate           float64
	RefractoryPeriodUs common.Microseconds
	LastSpikeTimeUs    common.Microseconds
	everFired          bool
	Synapses           []Synapse
}

// inRefractory reports whether the neuron may not fire at now.
func (n *Neuron) inRefractory(now common.Microseconds) bool {
	if !n.everFired {
		return false
	}
	return now-n.LastSpikeTimeUs < n.RefractoryPeriodUs
}

// leak applies the multiplicative potential decay for one timestep.
func (n *Neuron) leak() {
	n.Potential = common.Voltage(float64(n.Potential) * n.LeakRate)
}

// fire resets the neuron and records the spike time.
func (n *Neuron) fire(now common.Microseconds) {
	n.Potential = 0
	n.LastSpikeTimeUs = now
	n.everFired = true
}
