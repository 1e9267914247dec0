// Package cluster hosts multiple engines, routes spikes between them on a
// fixed cadence, and exposes aggregate cluster state.
package cluster

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ahtx/neurofab-z1-cluster/common"
	"github.com/ahtx/neurofab-z1-cluster/engine"
)

// Key addresses one engine by backplane and node.
type Key struct {
	Backplane common.BackplaneID
	Node      common.NodeID
}

const globalBufferCapacity = 10000

// routingCadence is the routing loop's tick period.
const routingCadence = time.Millisecond

// Coordinator hosts a set of engines and routes spikes between them.
type Coordinator struct {
	mu      sync.Mutex
	engines map[Key]*engine.Engine
	order   []Key // registration order, for deterministic drain/broadcast order

	globalBuffer []engine.Spike

	totalSpikesSent     int64
	totalSpikesReceived int64

	stdpEnabled bool

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{engines: make(map[Key]*engine.Engine)}
}

// RegisterEngine inserts eng keyed by (bp, node). Re-registration under the
// same key fails.
func (c *Coordinator) RegisterEngine(bp common.BackplaneID, node common.NodeID, eng *engine.Engine) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key{Backplane: bp, Node: node}
	if _, exists := c.engines[key]; exists {
		return fmt.Errorf("cluster: engine already registered for backplane %d node %d", bp, node)
	}
	c.engines[key] = eng
	c.order = append(c.order, key)
	return nil
}

// UnregisterEngine stops and removes the engine at (bp, node). A miss is a
// no-op.
func (c *Coordinator) UnregisterEngine(bp common.BackplaneID, node common.NodeID) {
	key := Key{Backplane: bp, Node: node}

	c.mu.Lock()
	eng, ok := c.engines[key]
	if ok {
		delete(c.engines, key)
		for i, k := range c.order {
			if k == key {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if ok {
		eng.Stop()
	}
}

// SetSTDPEnabled records whether STDP is active cluster-wide, for Status
// reporting.
func (c *Coordinator) SetSTDPEnabled(enabled bool) {
	c.mu.Lock()
	c.stdpEnabled = enabled
	c.mu.Unlock()
}

// StartAll starts every registered engine and the routing loop.
func (c *Coordinator) StartAll() {
	c.mu.Lock()
	engines := make([]*engine.Engine, 0, len(c.engines))
	for _, eng := range c.engines {
		engines = append(engines, eng)
	}
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.ticker = time.NewTicker(routingCadence)
	stopCh, doneCh, ticker := c.stopCh, c.doneCh, c.ticker
	c.mu.Unlock()

	for _, eng := range engines {
		eng.Start()
	}

	go func() {
		defer close(doneCh)
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				c.routeOnce()
			}
		}
	}()
}

// StopAll halts the routing loop (bounded join) then stops every engine.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	if c.stopCh == nil {
		engines := make([]*engine.Engine, 0, len(c.engines))
		for _, eng := range c.engines {
			engines = append(engines, eng)
		}
		c.mu.Unlock()
		for _, eng := range engines {
			eng.Stop()
		}
		return
	}
	close(c.stopCh)
	ticker, doneCh := c.ticker, c.doneCh
	c.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		log.Printf("cluster: routing loop did not exit within 2s, proceeding with engine shutdown")
	}
	ticker.Stop()

	c.mu.Lock()
	c.stopCh, c.doneCh, c.ticker = nil, nil, nil
	engines := make([]*engine.Engine, 0, len(c.engines))
	for _, eng := range c.engines {
		engines = append(engines, eng)
	}
	c.mu.Unlock()

	for _, eng := range engines {
		eng.Stop()
	}
}

// RouteOnce runs a single routing tick. Exported for deterministic,
// externally-clocked tests.
func (c *Coordinator) RouteOnce() {
	c.routeOnce()
}

// routeOnce drains every engine's outgoing queue in registration order,
// appends each spike to the bounded global buffer, then broadcasts it to
// every engine's incoming queue, including the engine that produced it —
// self-filtering happens at synapse match inside the engine.
func (c *Coordinator) routeOnce() {
	c.mu.Lock()
	order := append([]Key(nil), c.order...)
	engines := make(map[Key]*engine.Engine, len(c.engines))
	for k, eng := range c.engines {
		engines[k] = eng
	}
	c.mu.Unlock()

	var drained []engine.Spike
	for _, key := range order {
		eng := engines[key]
		drained = append(drained, eng.TakeOutgoingSpikes()...)
	}
	if len(drained) == 0 {
		return
	}

	c.mu.Lock()
	c.totalSpikesSent += int64(len(drained))
	for _, sp := range drained {
		c.globalBuffer = append(c.globalBuffer, sp)
	}
	if over := len(c.globalBuffer) - globalBufferCapacity; over > 0 {
		c.globalBuffer = c.globalBuffer[over:]
	}
	c.mu.Unlock()

	for _, sp := range drained {
		for _, key := range order {
			engines[key].PushIncoming(sp)
			c.mu.Lock()
			c.totalSpikesReceived++
			c.mu.Unlock()
		}
	}
}

// InjectSpike dispatches to the addressed engine, returning the number of
// injections effected: 0 if the key is unknown or the injection fails,
// otherwise 1.
func (c *Coordinator) InjectSpike(bp common.BackplaneID, node common.NodeID, localID common.LocalID, value float64) int {
	c.mu.Lock()
	eng, ok := c.engines[Key{Backplane: bp, Node: node}]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	if err := eng.InjectSpike(localID, value); err != nil {
		return 0
	}
	return 1
}

// RecentSpikes returns a snapshot of up to the last n entries of the
// global spike buffer.
func (c *Coordinator) RecentSpikes(n int) []engine.Spike {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.globalBuffer) {
		n = len(c.globalBuffer)
	}
	out := make([]engine.Spike, n)
	copy(out, c.globalBuffer[len(c.globalBuffer)-n:])
	return out
}

// Status summarizes cluster-wide state.
type Status struct {
	TotalEngines        int
	TotalNeurons        int
	TotalSpikesSent     int64
	TotalSpikesReceived int64
	RoutingActive       bool
	STDPEnabled         bool
}

// Status returns a snapshot of cluster-wide aggregate state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	neurons := 0
	for _, eng := range c.engines {
		neurons += eng.GetStats().NeuronCount
	}
	return Status{
		TotalEngines:        len(c.engines),
		TotalNeurons:        neurons,
		TotalSpikesSent:     c.totalSpikesSent,
		TotalSpikesReceived: c.totalSpikesReceived,
		RoutingActive:       c.stopCh != nil,
		STDPEnabled:         c.stdpEnabled,
	}
}

// EngineNeuronInfo describes one neuron for the engines() API.
type EngineNeuronInfo struct {
	ID              common.LocalID
	Threshold       common.Voltage
	LeakRate        float64
	SynapseCount    int
	LastSpikeTimeUs common.Microseconds
}

// EngineInfo describes one registered engine for the engines() API.
type EngineInfo struct {
	Backplane common.BackplaneID
	Node      common.NodeID
	Neurons   []EngineNeuronInfo
}

// Engines lists every registered engine and its neurons.
func (c *Coordinator) Engines() []EngineInfo {
	c.mu.Lock()
	keys := append([]Key(nil), c.order...)
	engines := make(map[Key]*engine.Engine, len(c.engines))
	for k, eng := range c.engines {
		engines[k] = eng
	}
	c.mu.Unlock()

	infos := make([]EngineInfo, 0, len(keys))
	for _, key := range keys {
		eng := engines[key]
		info := EngineInfo{Backplane: key.Backplane, Node: key.Node}
		stats := eng.GetStats()
		for localID := 0; localID < stats.NeuronCount; localID++ {
			ns, ok := eng.GetNeuronState(common.LocalID(localID))
			if !ok {
				continue
			}
			info.Neurons = append(info.Neurons, EngineNeuronInfo{
				ID:              ns.LocalID,
				Threshold:       ns.Threshold,
				LeakRate:        ns.LeakRate,
				SynapseCount:    ns.SynapseCount,
				LastSpikeTimeUs: ns.LastSpikeTimeUs,
			})
		}
		infos = append(infos, info)
	}
	return infos
}
