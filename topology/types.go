// Package topology compiles a declarative layered network description into
// per-node binary neuron tables with a bit-exact on-wire format.
package topology

import (
	"encoding/json"
	"fmt"
	"os"
)

// LayerType is the role a layer plays in the network.
type LayerType string

const (
	LayerInput  LayerType = "input"
	LayerHidden LayerType = "hidden"
	LayerOutput LayerType = "output"
)

// Layer declares a contiguous inclusive range of global neuron ids sharing
// one set of LIF parameters.
type Layer struct {
	LayerID            int       `json:"layer_id"`
	LayerType          LayerType `json:"layer_type"`
	NeuronIDs          [2]int    `json:"neuron_ids"`
	Threshold          float64   `json:"threshold"`
	LeakRate           float64   `json:"leak_rate"`
	RefractoryPeriodUs int64     `json:"refractory_period_us"`
}

// ConnectionType selects how source/target pairs within two layers are
// generated.
type ConnectionType string

const (
	FullyConnected ConnectionType = "fully_connected"
	SparseRandom   ConnectionType = "sparse_random"
)

// WeightInit selects how a generated synapse's initial weight is drawn.
type WeightInit string

const (
	WeightRandomNormal  WeightInit = "random_normal"
	WeightRandomUniform WeightInit = "random_uniform"
	WeightConstant      WeightInit = "constant"
)

// Connection declares one source-layer -> target-layer generation rule.
type Connection struct {
	SourceLayer           int            `json:"source_layer"`
	TargetLayer            int            `json:"target_layer"`
	ConnectionType         ConnectionType `json:"connection_type"`
	WeightInit             WeightInit     `json:"weight_init,omitempty"`
	WeightMean             float64        `json:"weight_mean,omitempty"`
	WeightStddev           float64        `json:"weight_stddev,omitempty"`
	WeightMin              float64        `json:"weight_min,omitempty"`
	WeightMax              float64        `json:"weight_max,omitempty"`
	WeightValue            float64        `json:"weight_value,omitempty"`
	ConnectionProbability  float64        `json:"connection_probability,omitempty"`
}

// AssignmentStrategy selects how global neuron ids map to nodes.
type AssignmentStrategy string

const (
	Balanced   AssignmentStrategy = "balanced"
	LayerBased AssignmentStrategy = "layer_based"
)

// NodeAssignment picks the neuron->node placement strategy and the node list.
type NodeAssignment struct {
	Strategy AssignmentStrategy `json:"strategy"`
	Nodes    []int              `json:"nodes"`
}

// Topology is the compiler's input record.
type Topology struct {
	NetworkName    string          `json:"network_name"`
	NeuronCount    int             `json:"neuron_count"`
	Layers         []Layer         `json:"layers"`
	Connections    []Connection    `json:"connections"`
	NodeAssignment NodeAssignment  `json:"node_assignment"`
}

// LoadFile reads and parses a topology JSON document.
func LoadFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read %s: %w", path, err)
	}
	var t Topology
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("topology: parse %s: %w", path, err)
	}
	return &t, nil
}
