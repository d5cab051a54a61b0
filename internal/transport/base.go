package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// base provides the Events()/State() plumbing shared by every driver, so
// individual drivers only need to implement Open/Close/Write and feed
// emit*/setState.
type base struct {
	busType string
	state   atomic.Int32
	events  chan Event
	closeMu sync.Mutex
	closed  bool
	dropped atomic.Int64
}

func newBase(busType string) base {
	return base{busType: busType, events: make(chan Event, 256)}
}

func (b *base) BusType() string { return b.busType }

func (b *base) State() State { return State(b.state.Load()) }

func (b *base) setState(s State) { b.state.Store(int32(s)) }

func (b *base) Events() <-chan Event { return b.events }

// DroppedEvents returns the number of events discarded because the Events
// channel was full (§7: no error should cause silent data loss without a
// counter increment).
func (b *base) DroppedEvents() int64 { return b.dropped.Load() }

func (b *base) emitData(p []byte) {
	cp := append([]byte(nil), p...)
	b.send(Event{Kind: EventData, Data: cp, Received: time.Now()})
}

func (b *base) emitError(err error) {
	b.send(Event{Kind: EventError, Err: err, Received: time.Now()})
}

func (b *base) send(ev Event) {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		// Event channel backpressure: drop rather than block the driver's
		// own read loop. The ring buffer upstream already provides the
		// byte-level slack spec.md §4.2 describes; this is a last resort.
		b.dropped.Add(1)
	}
}

// closeEvents marks the stream finished, emits EventClosed, and closes the
// channel. Safe to call more than once.
func (b *base) closeEvents() {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	select {
	case b.events <- Event{Kind: EventClosed, Received: time.Now()}:
	default:
	}
	close(b.events)
}
