// Package tscore implements C9, the Manager: lifecycle, configuration,
// pause/resume, bus selection, and thread ownership for the ingestion
// pipeline described across the internal/ packages (C1 transport drivers,
// C2 ring buffer, C4 framer, C5 frame queue, C6 frame builder, C7 decoder
// script host, C8 dispatch hub).
//
// Grounded on the teacher's aznet.go initialize()/Listen/Dial
// factory-lookup-then-construct flow and its Driver/Factory interfaces,
// generalized from "dial a cloud-storage-backed net.Conn" to "own a
// reconnecting instrument transport and the worker threads that turn its
// bytes into dispatched telemetry frames".
package tscore

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signalgrid/tscore/internal/backoff"
	"github.com/signalgrid/tscore/internal/builder"
	"github.com/signalgrid/tscore/internal/dispatch"
	"github.com/signalgrid/tscore/internal/frame"
	"github.com/signalgrid/tscore/internal/framing"
	"github.com/signalgrid/tscore/internal/queue"
	"github.com/signalgrid/tscore/internal/script"
	"github.com/signalgrid/tscore/internal/transport"
)

// ManagerState is spec.md §3's ManagerState, owned exclusively by Manager.
type ManagerState int32

const (
	Disconnected ManagerState = iota
	Connected
	Paused
)

func (s ManagerState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Manager owns exactly one active transport.Driver (invariant i), the
// framer goroutine (invariant ii, only while Connected), and the ingest
// goroutine that exclusively drains the frame queue (invariant iii).
type Manager struct {
	cfg *Config
	hub *dispatch.Hub
	log *zap.Logger

	mu     sync.Mutex // guards cfg mutation and the fields below
	state  atomic.Int32
	paused atomic.Bool

	driver transport.Driver
	reader *framing.Reader
	q      *queue.Queue
	host   *script.Host
	bld    *builder.Builder

	runCtx    context.Context
	runCancel context.CancelFunc
	eg        *errgroup.Group
}

// New creates a Manager wired to hub, with cfg built from opts. The
// Manager starts Disconnected; call Connect to bring the pipeline up.
func New(hub *dispatch.Hub, opts ...Option) *Manager {
	cfg := applyConfig(opts)
	return &Manager{cfg: cfg, hub: hub, log: cfg.log}
}

// State returns the Manager's current lifecycle state.
func (m *Manager) State() ManagerState { return ManagerState(m.state.Load()) }

func (m *Manager) requireState(want ManagerState) error {
	if m.State() != want {
		return fmt.Errorf("%w: want %s, have %s", ErrIllegalState, want, m.State())
	}
	return nil
}

// SetBusAddress replaces the configured bus-address URI (spec.md §4.9's
// setBusType). Only legal while Disconnected.
func (m *Manager) SetBusAddress(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireState(Disconnected); err != nil {
		return err
	}
	m.cfg.busAddress = address
	return nil
}

// Configure applies additional options to the Manager's Config. Only legal
// while Disconnected, since the project-descriptor snapshot and framing
// config are immutable once Connect succeeds (spec.md §5).
func (m *Manager) Configure(opts ...Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireState(Disconnected); err != nil {
		return err
	}
	for _, o := range opts {
		o(m.cfg)
	}
	return nil
}

// Connect validates the active configuration, opens the transport driver,
// constructs the framer with the current FramingConfig, and starts the
// framer and ingest goroutines. Transitions Disconnected -> Connected.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireState(Disconnected); err != nil {
		return err
	}
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	driver, err := transport.Resolve(m.cfg.busAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedBus, err)
	}

	var host *script.Host
	if m.cfg.decoderScript != "" {
		host, err = script.Compile(m.cfg.decoderScript)
		if err != nil {
			return fmt.Errorf("%w: compile decoder script: %v", ErrInvalidConfig, err)
		}
		host.OnSlow(func(d time.Duration) {
			m.log.Warn("decoder script exceeded soft deadline", zap.Duration("took", d))
		})
	}

	if err := m.openDriver(driver); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	m.driver = driver
	m.host = host
	m.bld = builder.New(m.cfg.mode, m.cfg.descriptor, host)
	m.bld.QuickPlotDelimiters = m.cfg.quickPlotDelimiters
	m.bld.Hooks = builder.Hooks{
		OnDecodeError:     func(string) { m.cfg.metrics.IncrementDecodeErrors() },
		OnFieldParseError: func(string) { m.cfg.metrics.IncrementDecodeErrors() },
		OnStructuralChange: func(*frame.TelemetryFrame) {
			m.log.Info("frame structure changed, skeleton rebuilt")
		},
	}
	m.q = queue.New(m.cfg.queueCapacity)
	m.reader, err = framing.NewReader(m.cfg.framing, m.makeEnqueue(m.q))
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	m.reader.OnFrameError = func(string) { m.cfg.metrics.IncrementFrameErrors() }

	m.runCtx, m.runCancel = context.WithCancel(m.cfg.ctx)
	eg, egCtx := errgroup.WithContext(m.runCtx)
	m.eg = eg
	reader, q := m.reader, m.q
	eg.Go(func() error { return m.framerLoop(egCtx, driver, reader, q) })
	eg.Go(func() error { return m.ingestLoop(egCtx, q) })

	m.state.Store(int32(Connected))
	return nil
}

func (m *Manager) openDriver(d transport.Driver) error {
	ctx, cancel := context.WithTimeout(m.cfg.ctx, 30*time.Second)
	defer cancel()
	return d.Open(ctx)
}

// makeEnqueue binds a framing.Sink to one connection generation's queue.
// The framer thread retries TryEnqueue until it succeeds, implementing the
// §4.4/§5 blocking back-pressure point without an OS-level block inside the
// lock-free queue itself. Closing over q (rather than reading m.q) keeps a
// stale framerLoop from ever touching the queue a reconnect has replaced.
func (m *Manager) makeEnqueue(q *queue.Queue) func([]byte) error {
	return func(payload []byte) error {
		for {
			if q.TryEnqueue(payload) {
				return nil
			}
			m.cfg.metrics.IncrementBackpressureEvents()
			select {
			case <-m.runCtx.Done():
				return m.runCtx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
}

// framerLoop is the dedicated framer thread (spec.md §5): it reads driver
// events, forwards raw bytes to the console sink pre-framing, and feeds C4.
// r and q are the reader/queue of the generation this loop was started
// for; they are passed as locals rather than read off m.reader/m.q so a
// reconnect swapping those fields can never hand this loop a queue it
// didn't start against (invariant iii: one consumer per frame queue).
func (m *Manager) framerLoop(ctx context.Context, d transport.Driver, r *framing.Reader, q *queue.Queue) error {
	var lastDropped int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-d.Events():
			if !ok {
				return nil
			}
			if cur := d.DroppedEvents(); cur > lastDropped {
				for ; lastDropped < cur; lastDropped++ {
					m.cfg.metrics.IncrementBackpressureEvents()
				}
			}
			switch ev.Kind {
			case transport.EventData:
				m.cfg.metrics.IncrementBytesReceived(int64(len(ev.Data)))
				if !m.paused.Load() {
					m.hub.DispatchRaw(ev.Data)
				}
				if r.BufferedLen() > m.cfg.highWaterBytes {
					r.DropOldestHalf()
					m.cfg.metrics.IncrementFrameErrors()
				}
				if err := r.OnBytes(ev.Data); err != nil {
					return fmt.Errorf("%w: %v", ErrFatal, err)
				}
			case transport.EventError:
				m.log.Warn("transport read/write error", zap.Error(ev.Err))
			case transport.EventClosed:
				q.Close()
				go m.reconnect()
				return nil
			}
		}
	}
}

// ingestLoop is the dedicated ingest thread: it exclusively drains q
// (invariant iii), runs C6/C7, and hands results to C8. q is passed as a
// local for the same reason framerLoop takes r/q as locals: a reconnect
// must never cause two generations of ingestLoop to drain the same queue,
// nor this one to silently start draining a replacement it wasn't given.
func (m *Manager) ingestLoop(ctx context.Context, q *queue.Queue) error {
	idle := backoff.New(time.Millisecond, 20*time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			// Deliver the frames already queued before exiting.
			for {
				payload, ok := q.TryDequeue()
				if !ok {
					return nil
				}
				if tf, ok := m.bld.Build(payload, time.Now().UnixNano()); ok {
					m.cfg.metrics.IncrementFramesEmitted()
					if !m.paused.Load() {
						m.hub.Dispatch(tf)
					}
				}
			}
		default:
		}
		payload, ok := q.TryDequeue()
		if !ok {
			if q.Closed() {
				return nil
			}
			idle.Sleep()
			continue
		}
		idle.Reset()
		tf, ok := m.bld.Build(payload, time.Now().UnixNano())
		if !ok {
			continue
		}
		m.cfg.metrics.IncrementFramesEmitted()
		if !m.paused.Load() {
			m.hub.Dispatch(tf)
		}
	}
}

// reconnect implements spec.md §4.9's reconnect policy: exponential
// backoff from fastBackoff to steadyBackoff with +/-10% jitter, up to
// maxAttempts (0 = unlimited). A successful reopen resets the backoff and
// restarts the framer/ingest goroutines against the freshly resolved
// driver.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.State() != Connected && m.State() != Paused {
		m.mu.Unlock()
		return
	}
	cfg := m.cfg
	m.mu.Unlock()

	poll := backoff.New(cfg.fastBackoff, cfg.steadyBackoff)
	attempt := int64(0)
	for {
		attempt++
		if cfg.maxAttempts > 0 && attempt > int64(cfg.maxAttempts) {
			m.log.Error("reconnect attempts exhausted, disconnecting")
			_ = m.Disconnect()
			return
		}

		jittered := jitter(poll.Cur, cfg.backoffJitter)
		select {
		case <-m.runCtx.Done():
			return
		case <-time.After(jittered):
		}
		poll.Advance() // advance Cur for the next iteration's jitter base; the wait itself already happened above

		driver, err := transport.Resolve(cfg.busAddress)
		if err != nil {
			m.log.Warn("reconnect: resolve failed", zap.Error(err))
			continue
		}
		if err := m.openDriver(driver); err != nil {
			m.log.Warn("reconnect: open failed", zap.Error(err), zap.Int64("attempt", attempt))
			continue
		}

		m.mu.Lock()
		q := queue.New(cfg.queueCapacity)
		reader, _ := framing.NewReader(cfg.framing, m.makeEnqueue(q))
		reader.OnFrameError = func(string) { m.cfg.metrics.IncrementFrameErrors() }
		m.driver = driver
		m.q = q
		m.reader = reader
		eg, egCtx := errgroup.WithContext(m.runCtx)
		m.eg = eg
		eg.Go(func() error { return m.framerLoop(egCtx, driver, reader, q) })
		eg.Go(func() error { return m.ingestLoop(egCtx, q) })
		m.mu.Unlock()

		cfg.metrics.IncrementTransportReopens()
		return
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

// Disconnect stops the framer, lets the ingest goroutine deliver the frames
// already queued, joins both, closes the driver, and transitions to
// Disconnected. The single cancellation point per
// spec.md §5.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.State() == Disconnected {
		m.mu.Unlock()
		return nil
	}
	driver := m.driver
	q := m.q
	cancel := m.runCancel
	eg := m.eg
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if q != nil {
		q.Close()
	}
	if eg != nil {
		_ = eg.Wait()
	}
	if driver != nil {
		_ = driver.Close()
	}

	m.mu.Lock()
	m.driver = nil
	m.reader = nil
	m.q = nil
	m.state.Store(int32(Disconnected))
	m.mu.Unlock()
	return nil
}

// Pause toggles the "deliver to C8" gate; C1 and C4 continue running.
func (m *Manager) Pause() error {
	if err := m.requireState(Connected); err != nil {
		return err
	}
	m.paused.Store(true)
	m.state.Store(int32(Paused))
	return nil
}

// Resume reverses Pause.
func (m *Manager) Resume() error {
	if err := m.requireState(Paused); err != nil {
		return err
	}
	m.paused.Store(false)
	m.state.Store(int32(Connected))
	return nil
}

// Write forwards bytes to the active transport driver.
func (m *Manager) Write(ctx context.Context, data []byte) (int, error) {
	m.mu.Lock()
	driver := m.driver
	m.mu.Unlock()
	if driver == nil {
		return 0, ErrNoBus
	}
	return driver.Write(ctx, data)
}

// Metrics exposes the Manager's counters.
func (m *Manager) Metrics() Metrics { return m.cfg.metrics }
