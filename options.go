package tscore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/signalgrid/tscore/internal/framing"
	"github.com/signalgrid/tscore/internal/frame"
	"github.com/signalgrid/tscore/internal/project"
)

const (
	// DefaultQueueCapacity is the frame queue's slot count (C5).
	DefaultQueueCapacity = 4096
	// DefaultHighWaterBytes is the ring buffer size (§7) at which the
	// high-water policy drops the oldest half of unconsumed bytes.
	DefaultHighWaterBytes = 10 * 1024 * 1024

	// DefaultFastBackoff is the reconnect backoff's initial interval
	// (spec.md §4.9).
	DefaultFastBackoff = 250 * time.Millisecond
	// DefaultSteadyBackoff is the reconnect backoff's cap.
	DefaultSteadyBackoff = 8 * time.Second
	// DefaultBackoffJitter is the +/- jitter fraction applied to each
	// reconnect delay.
	DefaultBackoffJitter = 0.10

	// DefaultVizRate is the visualization coalescing sink's target publish
	// rate (spec.md §9 Open Question decision: 20 Hz default).
	DefaultVizRate = 50 * time.Millisecond
)

// Option is a functional option for Config, exactly as the teacher's
// options.go pattern works: zero value plus defaultConfig(), mutated only
// through With* constructors.
type Option func(*Config)

// Config holds the Manager's full runtime-configurable surface (spec.md
// §6): bus address, framing policy, operating mode, project descriptor,
// decoder script, queue capacity. Immutable once connect() succeeds;
// changing any of it requires disconnect() first (spec.md §5 "Shared
// resources").
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	metrics Metrics

	busAddress string

	framing framing.Config
	mode    frame.OperatingMode

	descriptor          *project.Descriptor
	decoderScript       string
	quickPlotDelimiters []byte

	queueCapacity  int
	highWaterBytes int

	fastBackoff   time.Duration
	steadyBackoff time.Duration
	backoffJitter float64
	maxAttempts   int // 0 = unlimited

	vizRate time.Duration
}

// Validate checks the configuration is internally consistent. Called by
// connect() before the bus is opened (spec.md §7 ConfigError).
func (c *Config) Validate() error {
	if c.busAddress == "" {
		return ErrNoBus
	}
	if c.mode == frame.ProjectFile && c.descriptor == nil {
		return ErrInvalidConfig
	}
	return nil
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:            ctx,
		cancel:         cancel,
		log:            zap.NewNop(),
		metrics:        NewAtomicMetrics(),
		mode:           frame.QuickPlot,
		queueCapacity:  DefaultQueueCapacity,
		highWaterBytes: DefaultHighWaterBytes,
		fastBackoff:    DefaultFastBackoff,
		steadyBackoff:  DefaultSteadyBackoff,
		backoffJitter:  DefaultBackoffJitter,
		vizRate:        DefaultVizRate,
		framing:        framing.Config{Mode: framing.EndDelimiter, EndSeq: []byte("\n")},
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithBusAddress sets the bus-address URI (e.g. "serial:///dev/ttyUSB0?baud=115200")
// resolved into a transport.Driver at connect() time.
func WithBusAddress(address string) Option {
	return func(c *Config) { c.busAddress = address }
}

// WithFramingConfig sets the framer's delimitation + checksum policy.
func WithFramingConfig(cfg framing.Config) Option {
	return func(c *Config) { c.framing = cfg }
}

// WithOperatingMode selects how C6 interprets raw frames.
func WithOperatingMode(mode frame.OperatingMode) Option {
	return func(c *Config) { c.mode = mode }
}

// WithProjectDescriptor sets the parsed project descriptor (ProjectFile
// mode's skeleton source).
func WithProjectDescriptor(d *project.Descriptor) Option {
	return func(c *Config) { c.descriptor = d }
}

// WithDecoderScript sets the ProjectFile mode decoder script source.
func WithDecoderScript(src string) Option {
	return func(c *Config) { c.decoderScript = src }
}

// WithQuickPlotDelimiters adds extra field delimiters (beyond comma) for
// QuickPlot mode's split.
func WithQuickPlotDelimiters(extra []byte) Option {
	return func(c *Config) { c.quickPlotDelimiters = extra }
}

// WithQueueCapacity sets the C5 frame queue's slot count.
func WithQueueCapacity(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithHighWaterBytes sets the ring buffer size threshold at which the §7
// high-water policy drops the oldest half of unconsumed bytes.
func WithHighWaterBytes(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.highWaterBytes = n
		}
	}
}

// WithReconnectBackoff overrides the reconnect policy's fast/steady
// interval pair (spec.md §4.9 defaults: 250ms fast, 8s steady cap).
func WithReconnectBackoff(fast, steady time.Duration) Option {
	return func(c *Config) {
		if fast > 0 {
			c.fastBackoff = fast
		}
		if steady > 0 {
			c.steadyBackoff = steady
		}
	}
}

// WithMaxReconnectAttempts caps the number of reopen attempts after a
// transient transport failure. Zero (the default) means unlimited.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Config) { c.maxAttempts = n }
}

// WithVizRate stores the visualization coalescing sink's target publish
// rate in the Config. The Manager does not construct a VizSink, so the value
// is not read by the Manager itself.
func WithVizRate(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.vizRate = d
		}
	}
}

// WithLogger sets the structured logger threaded into every worker.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics sets a custom Metrics implementation. If not provided, an
// atomic-counter implementation is used.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithContext sets the base context for all Manager-owned goroutines.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.cancel()
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}
