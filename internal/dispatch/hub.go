// Package dispatch fans a decoded TelemetryFrame out to the sinks spec.md
// §5 names: the visualization collaborator, CSV archival, the plugin
// broadcaster, and a raw console sink. The CSV and plugin sinks each own a
// goroutine and a bounded channel, mirroring the teacher's
// one-goroutine-per-client shape in aznet.go's Conn/Listener, and drop
// frames when their backlog is full. The console sink writes synchronously
// inside Submit; the visualization sink coalesces frames into a map that
// its own ticker goroutine flushes.
package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/signalgrid/tscore/internal/frame"
)

// Sink receives every frame the Hub dispatches. Implementations must not
// block past their own channel; Hub.Dispatch never waits on a sink.
type Sink interface {
	Name() string
	// Submit enqueues f for delivery. Returning false means the sink's
	// internal backlog is full and the frame was dropped.
	Submit(f *frame.TelemetryFrame) bool
	Close()
}

// RawSink receives pre-framing bytes, independent of decode success. Only
// the console sink currently implements this.
type RawSink interface {
	SubmitRaw(data []byte)
}

// Hub owns the registered sinks and the counters tracking drops per sink.
type Hub struct {
	log   *zap.Logger
	mu    sync.RWMutex
	sinks []Sink
	raw   []RawSink

	dropMu sync.Mutex
	drops  map[string]uint64
}

// NewHub creates an empty Hub. Sinks are registered with Register/RegisterRaw
// before the first Dispatch call; registration after frames are already
// flowing is safe but racy in practice (spec.md has no hot-reload of sinks).
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, drops: make(map[string]uint64)}
}

func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

func (h *Hub) RegisterRaw(s RawSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.raw = append(h.raw, s)
}

// Dispatch fans f out to every registered sink. It never blocks: a full
// sink backlog is counted as a drop and logged, not retried.
func (h *Hub) Dispatch(f *frame.TelemetryFrame) {
	h.mu.RLock()
	sinks := h.sinks
	h.mu.RUnlock()

	for _, s := range sinks {
		if !s.Submit(f.Clone()) {
			h.countDrop(s.Name())
		}
	}
}

// DispatchRaw hands data to every raw sink, ahead of framing/decode.
func (h *Hub) DispatchRaw(data []byte) {
	h.mu.RLock()
	raws := h.raw
	h.mu.RUnlock()
	for _, s := range raws {
		s.SubmitRaw(data)
	}
}

func (h *Hub) countDrop(sink string) {
	h.dropMu.Lock()
	h.drops[sink]++
	n := h.drops[sink]
	h.dropMu.Unlock()
	if n == 1 || n%1000 == 0 {
		h.log.Warn("sink backlog full, dropping frame", zap.String("sink", sink), zap.Uint64("drops", n))
	}
}

// Drops returns a snapshot of per-sink drop counts.
func (h *Hub) Drops() map[string]uint64 {
	h.dropMu.Lock()
	defer h.dropMu.Unlock()
	out := make(map[string]uint64, len(h.drops))
	for k, v := range h.drops {
		out[k] = v
	}
	return out
}

// Close shuts every registered sink down. It does not wait on in-flight
// Submit calls; callers stop feeding the Hub before calling Close.
func (h *Hub) Close(ctx context.Context) {
	h.mu.RLock()
	sinks := h.sinks
	h.mu.RUnlock()
	for _, s := range sinks {
		s.Close()
	}
}
