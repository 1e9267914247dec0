package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ahtx/neurofab-z1-cluster/common"
	"github.com/ahtx/neurofab-z1-cluster/engine"
)

// jsonWeightsSnapshot is the JSON-friendly shape of engine.WeightsSnapshot:
// object keys must be strings, so LocalID is encoded as a decimal string.
type jsonWeightsSnapshot struct {
	NodeID  common.NodeID          `json:"node_id"`
	Weights map[string][]float64 `json:"weights"`
}

// SaveWeightsToJSON serializes an engine's synapse weight snapshot to a
// human-readable JSON file at filePath.
func SaveWeightsToJSON(snap engine.WeightsSnapshot, filePath string) error {
	out := jsonWeightsSnapshot{
		NodeID:  snap.NodeID,
		Weights: make(map[string][]float64, len(snap.Weights)),
	}
	for localID, weights := range snap.Weights {
		key := strconv.FormatUint(uint64(localID), 10)
		out.Weights[key] = weights
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize weights to JSON: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("write JSON weights file %s: %w", filePath, err)
	}
	return nil
}

// LoadWeightsFromJSON deserializes an engine's synapse weight snapshot from
// a JSON file written by SaveWeightsToJSON.
func LoadWeightsFromJSON(filePath string) (engine.WeightsSnapshot, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return engine.WeightsSnapshot{}, fmt.Errorf("JSON weights file %s not found: %w", filePath, err)
		}
		return engine.WeightsSnapshot{}, fmt.Errorf("read JSON weights file %s: %w", filePath, err)
	}

	var in jsonWeightsSnapshot
	if err := json.Unmarshal(data, &in); err != nil {
		return engine.WeightsSnapshot{}, fmt.Errorf("unmarshal weights from JSON file %s: %w", filePath, err)
	}

	snap := engine.WeightsSnapshot{
		NodeID:  in.NodeID,
		Weights: make(map[common.LocalID][]float64, len(in.Weights)),
	}
	for key, weights := range in.Weights {
		localIDVal, err := strconv.ParseUint(key, 10, 16)
		if err != nil {
			return engine.WeightsSnapshot{}, fmt.Errorf("invalid neuron local id in JSON %q: %w", key, err)
		}
		snap.Weights[common.LocalID(localIDVal)] = weights
	}
	return snap, nil
}
