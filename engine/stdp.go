package engine

import (
	"math"

	"github.com/ahtx/neurofab-z1-cluster/common"
	"github.com/ahtx/neurofab-z1-cluster/config"
)

// ltdDelta computes the depression applied to a synapse when its
// presynaptic spike arrives shortly after the postsynaptic neuron already
// fired (pre-after-post pairing). Returns 0 if the pair falls outside the
// STDP window.
func ltdDelta(p config.STDPParams, preTimeUs, postLastSpikeUs common.Microseconds) common.Weight {
	deltaT := preTimeUs - postLastSpikeUs
	if deltaT <= 0 || int64(deltaT) > p.MaxDeltaTUs {
		return 0
	}
	decay := math.Exp(-float64(deltaT) / p.TauMinusUs)
	return common.Weight(-p.LearningRateMinus * decay)
}

// ltpDelta computes the potentiation applied to a synapse when the
// postsynaptic neuron fires shortly after its last presynaptic spike
// (pre-before-post pairing).
func ltpDelta(p config.STDPParams, postTimeUs, preLastSpikeUs common.Microseconds) common.Weight {
	deltaT := postTimeUs - preLastSpikeUs
	if deltaT <= 0 || int64(deltaT) > p.MaxDeltaTUs {
		return 0
	}
	decay := math.Exp(-float64(deltaT) / p.TauPlusUs)
	return common.Weight(p.LearningRatePlus * decay)
}
