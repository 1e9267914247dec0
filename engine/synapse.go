package engine

import "github.com/ahtx/neurofab-z1-cluster/common"

// Synapse is one incoming connection, identified by its presynaptic
// neuron's global id. Weight is mutable under STDP.
type Synapse struct {
	SourceGlobalID common.GlobalID
	Weight         common.Weight

	LastPreSpikeUs common.Microseconds
	everPreSpiked  bool
}
