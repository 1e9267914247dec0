package engine

import "github.com/ahtx/neurofab-z1-cluster/common"

// Spike is one event on the wire between engines: a neuron fired at
// TimestampUs, identified by its global id.
type Spike struct {
	SourceGlobalID common.GlobalID
	SourceNode     common.NodeID
	TimestampUs    common.Microseconds
	Value          float64
}
