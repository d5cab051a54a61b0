package tscore

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks ingestion-pipeline counters. Generalized from the
// teacher's metrics.go Metrics interface (storage-transaction counters:
// IncrementWriteTransaction, IncrementReadTransaction, ...) to the error
// KINDs and throughput counters spec.md §7/§9 name.
type Metrics interface {
	IncrementFramesEmitted()
	IncrementFrameErrors()
	IncrementDecodeErrors()
	IncrementBackpressureEvents()
	IncrementTransportReopens()
	IncrementBytesReceived(n int64)

	GetFramesEmitted() int64
	GetFrameErrors() int64
	GetDecodeErrors() int64
	GetBackpressureEvents() int64
	GetTransportReopens() int64
	GetBytesReceived() int64
}

// AtomicMetrics implements Metrics with atomic counters, the teacher's
// DefaultMetrics shape.
type AtomicMetrics struct {
	framesEmitted       int64
	frameErrors         int64
	decodeErrors        int64
	backpressureEvents  int64
	transportReopens    int64
	bytesReceived       int64
}

func NewAtomicMetrics() *AtomicMetrics { return &AtomicMetrics{} }

func (m *AtomicMetrics) IncrementFramesEmitted()      { atomic.AddInt64(&m.framesEmitted, 1) }
func (m *AtomicMetrics) IncrementFrameErrors()        { atomic.AddInt64(&m.frameErrors, 1) }
func (m *AtomicMetrics) IncrementDecodeErrors()       { atomic.AddInt64(&m.decodeErrors, 1) }
func (m *AtomicMetrics) IncrementBackpressureEvents() { atomic.AddInt64(&m.backpressureEvents, 1) }
func (m *AtomicMetrics) IncrementTransportReopens()   { atomic.AddInt64(&m.transportReopens, 1) }
func (m *AtomicMetrics) IncrementBytesReceived(n int64) {
	atomic.AddInt64(&m.bytesReceived, n)
}

func (m *AtomicMetrics) GetFramesEmitted() int64      { return atomic.LoadInt64(&m.framesEmitted) }
func (m *AtomicMetrics) GetFrameErrors() int64        { return atomic.LoadInt64(&m.frameErrors) }
func (m *AtomicMetrics) GetDecodeErrors() int64       { return atomic.LoadInt64(&m.decodeErrors) }
func (m *AtomicMetrics) GetBackpressureEvents() int64 { return atomic.LoadInt64(&m.backpressureEvents) }
func (m *AtomicMetrics) GetTransportReopens() int64   { return atomic.LoadInt64(&m.transportReopens) }
func (m *AtomicMetrics) GetBytesReceived() int64      { return atomic.LoadInt64(&m.bytesReceived) }

// PrometheusMetrics wraps an AtomicMetrics with a prometheus.Collector
// adapter, so the same counters driving §7's propagation rule are also
// exposed on /metrics, the way cc-backend and aistore wire
// client_golang collectors around their own internal counters.
type PrometheusMetrics struct {
	*AtomicMetrics

	framesEmitted      prometheus.CounterFunc
	frameErrors        prometheus.CounterFunc
	decodeErrors       prometheus.CounterFunc
	backpressureEvents prometheus.CounterFunc
	transportReopens   prometheus.CounterFunc
	bytesReceived      prometheus.CounterFunc
}

// NewPrometheusMetrics creates counters registered against reg (pass
// prometheus.DefaultRegisterer to use the global registry).
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	base := NewAtomicMetrics()
	pm := &PrometheusMetrics{
		AtomicMetrics: base,
		framesEmitted: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tscore", Name: "frames_emitted_total",
			Help: "Total telemetry frames built, counted whether or not they were dispatched (frames built while paused are counted too).",
		}, func() float64 { return float64(base.GetFramesEmitted()) }),
		frameErrors: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tscore", Name: "frame_errors_total",
			Help: "Total frame-level errors (checksum mismatch, oversize, unterminated).",
		}, func() float64 { return float64(base.GetFrameErrors()) }),
		decodeErrors: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tscore", Name: "decode_errors_total",
			Help: "Total decoder-script or field-parse errors.",
		}, func() float64 { return float64(base.GetDecodeErrors()) }),
		backpressureEvents: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tscore", Name: "backpressure_events_total",
			Help: "Total framer retries on a full frame queue plus transport events dropped on a full event channel.",
		}, func() float64 { return float64(base.GetBackpressureEvents()) }),
		transportReopens: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tscore", Name: "transport_reopens_total",
			Help: "Total successful transport reconnects after a transient failure.",
		}, func() float64 { return float64(base.GetTransportReopens()) }),
		bytesReceived: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tscore", Name: "bytes_received_total",
			Help: "Total raw bytes received across all transports.",
		}, func() float64 { return float64(base.GetBytesReceived()) }),
	}
	reg.MustRegister(pm.framesEmitted, pm.frameErrors, pm.decodeErrors,
		pm.backpressureEvents, pm.transportReopens, pm.bytesReceived)
	return pm
}
