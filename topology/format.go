package topology

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ahtx/neurofab-z1-cluster/common"
)

// EntrySize is the fixed byte length of one neuron's binary table entry.
const EntrySize = 256

// SynapseCapacity is the fixed number of synapse slots in every entry.
const SynapseCapacity = 60

const synapseSlotSize = 4
const synapseTableSize = SynapseCapacity * synapseSlotSize // 240

// SynapseSlot is one decoded 4-byte synapse slot.
type SynapseSlot struct {
	SourceGlobalID common.GlobalID
	WeightByte     uint8
}

// NeuronRecord is one decoded 256-byte neuron table entry.
type NeuronRecord struct {
	LocalID            common.LocalID
	Flags              common.Flags
	InitialPotential   float64
	Threshold          float64
	LastSpikeTimeUs    uint32
	SynapseCount       int
	SynapseCapacity    int
	LeakRate           float64
	RefractoryPeriodUs uint32
	Synapses           [SynapseCapacity]SynapseSlot
}

// QuantizeWeight maps a weight clamped to [0,1] onto an 8-bit byte via
// round(w*255). A truncating quantizer (int(w*255)) would map weight 0.5 to
// byte 127 instead of 128; rounding is used so 0.5 maps to 128, which
// dequantizes to 128/255 (about 0.502), within 1/255 of the original — see
// DESIGN.md.
func QuantizeWeight(w float64) uint8 {
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return uint8(math.Round(w * 255))
}

// DequantizeWeight recovers a weight from its quantized byte: w_int/255.0.
func DequantizeWeight(b uint8) float64 {
	return float64(b) / 255.0
}

// EncodeNeuronEntry packs rec into a 256-byte little-endian table entry.
func EncodeNeuronEntry(rec NeuronRecord) []byte {
	buf := make([]byte, EntrySize)

	binary.LittleEndian.PutUint16(buf[0:2], uint16(rec.LocalID))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(rec.Flags))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(rec.InitialPotential)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(rec.Threshold)))
	binary.LittleEndian.PutUint32(buf[12:16], rec.LastSpikeTimeUs)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(rec.SynapseCount))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(SynapseCapacity))
	// buf[20:24] reserved, zero
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(float32(rec.LeakRate)))
	binary.LittleEndian.PutUint32(buf[28:32], rec.RefractoryPeriodUs)
	// buf[32:40] reserved, zero

	for i := 0; i < rec.SynapseCount && i < SynapseCapacity; i++ {
		slot := rec.Synapses[i]
		packed := (uint32(slot.SourceGlobalID)&uint32(common.GlobalIDMask))<<8 | uint32(slot.WeightByte)
		off := 40 + i*synapseSlotSize
		binary.LittleEndian.PutUint32(buf[off:off+4], packed)
	}
	return buf
}

// DecodeNeuronEntry unpacks one 256-byte table entry.
func DecodeNeuronEntry(data []byte) (NeuronRecord, error) {
	if len(data) != EntrySize {
		return NeuronRecord{}, fmt.Errorf("neuron entry must be %d bytes, got %d", EntrySize, len(data))
	}
	var rec NeuronRecord
	rec.LocalID = common.LocalID(binary.LittleEndian.Uint16(data[0:2]))
	rec.Flags = common.Flags(binary.LittleEndian.Uint16(data[2:4]))
	rec.InitialPotential = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4:8])))
	rec.Threshold = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[8:12])))
	rec.LastSpikeTimeUs = binary.LittleEndian.Uint32(data[12:16])
	rec.SynapseCount = int(binary.LittleEndian.Uint16(data[16:18]))
	rec.SynapseCapacity = int(binary.LittleEndian.Uint16(data[18:20]))
	rec.LeakRate = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[24:28])))
	rec.RefractoryPeriodUs = binary.LittleEndian.Uint32(data[28:32])

	if rec.SynapseCapacity != SynapseCapacity {
		return NeuronRecord{}, fmt.Errorf("unexpected synapse_capacity %d, want %d", rec.SynapseCapacity, SynapseCapacity)
	}
	if rec.SynapseCount < 0 || rec.SynapseCount > SynapseCapacity {
		return NeuronRecord{}, fmt.Errorf("synapse_count %d out of range [0,%d]", rec.SynapseCount, SynapseCapacity)
	}

	for i := 0; i < rec.SynapseCount; i++ {
		off := 40 + i*synapseSlotSize
		packed := binary.LittleEndian.Uint32(data[off : off+4])
		rec.Synapses[i] = SynapseSlot{
			SourceGlobalID: common.GlobalID(packed>>8) & common.GlobalIDMask,
			WeightByte:     uint8(packed & 0xFF),
		}
	}
	return rec, nil
}

// DecodeTable splits a node's concatenated byte string into neuron records,
// failing if the length is not a multiple of EntrySize (TableParseError
// territory, surfaced by the engine's Load, not here).
func DecodeTable(table []byte) ([]NeuronRecord, error) {
	if len(table)%EntrySize != 0 {
		return nil, fmt.Errorf("table length %d is not a multiple of %d", len(table), EntrySize)
	}
	count := len(table) / EntrySize
	records := make([]NeuronRecord, 0, count)
	for i := 0; i < count; i++ {
		rec, err := DecodeNeuronEntry(table[i*EntrySize : (i+1)*EntrySize])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
