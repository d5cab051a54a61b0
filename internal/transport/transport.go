// Package transport implements C1: the capability interface every
// instrument connection (serial, TCP, UDP, BLE, Modbus) satisfies, and the
// bus-type registry that resolves a bus address into the right driver.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// State is a driver's lifecycle state, spec.md §4.1.
type State int

const (
	Closed State = iota
	Opening
	Open
	Failing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Failing:
		return "failing"
	default:
		return "unknown"
	}
}

// EventKind classifies one value delivered on a Driver's event channel.
type EventKind int

const (
	// EventData carries a raw chunk read off the wire.
	EventData EventKind = iota
	// EventError reports a read/write error. The Modbus driver keeps polling
	// after a request timeout or malformed response; the serial, TCP, UDP
	// and BLE drivers follow a read error or disconnect with EventClosed.
	EventError
	// EventClosed signals the driver's event stream has ended: no more
	// events follow. The Manager interprets this as a hint to reconnect.
	EventClosed
)

// Event is one item on a Driver's Events channel.
type Event struct {
	Kind     EventKind
	Data     []byte
	Err      error
	Received time.Time
}

// Driver is the capability interface every bus-type implementation
// satisfies: open/close/write, a read-event stream, and state predicates.
// Grounded on the teacher's Transport interface (WriteRaw/ReadRaw/Close),
// generalized from a request/response exchange into a streaming duplex.
type Driver interface {
	// Open establishes the connection. Calling it on an already-open driver
	// returns ErrAlreadyOpen, whatever the configuration; it does not reopen
	// or reconfigure the driver.
	Open(ctx context.Context) error
	// Close tears the connection down and closes the Events channel.
	Close() error
	// Write sends raw bytes to the peer.
	Write(ctx context.Context, p []byte) (int, error)
	// Events returns the channel of incoming data/error/closed notifications.
	// The same channel is returned on every call; it is closed exactly once,
	// after the final EventClosed value.
	Events() <-chan Event
	// State reports the driver's current lifecycle state.
	State() State
	// BusType names the registered scheme this driver was constructed from
	// (e.g. "serial", "tcp", "ble", "modbus").
	BusType() string
	// DroppedEvents reports the cumulative count of events discarded
	// because Events() was not drained fast enough.
	DroppedEvents() int64
}

// Factory constructs a Driver for a resolved Endpoint.
type Factory interface {
	NewDriver(ep *Endpoint) (Driver, error)
}

// FactoryFunc adapts a plain function to the Factory interface.
type FactoryFunc func(ep *Endpoint) (Driver, error)

func (f FactoryFunc) NewDriver(ep *Endpoint) (Driver, error) { return f(ep) }

var factories = make(map[string]Factory)

var (
	// ErrUnsupportedScheme is returned when no driver is registered for a
	// bus address's scheme.
	ErrUnsupportedScheme = errors.New("transport: unsupported bus scheme")
	// ErrNotOpen is returned by Write when the driver has not been opened.
	ErrNotOpen = errors.New("transport: driver not open")
	// ErrAlreadyOpen is returned by Open on a driver that is already open.
	ErrAlreadyOpen = errors.New("transport: driver already open")
)

// RegisterFactory registers a Factory for the given bus-type scheme. Driver
// packages call this from an init() func, the way the teacher's drivers
// register themselves with RegisterFactory in aznet.go.
func RegisterFactory(scheme string, factory Factory) {
	if _, dup := factories[scheme]; dup {
		panic("transport: factory already registered for scheme " + scheme)
	}
	factories[scheme] = factory
}

// UnregisterFactory removes a scheme's registration, chiefly for tests.
func UnregisterFactory(scheme string) {
	delete(factories, scheme)
}

// RegisteredSchemes returns the sorted list of registered bus-type schemes.
func RegisteredSchemes() []string {
	out := make([]string, 0, len(factories))
	for scheme := range factories {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// Resolve parses a bus address and constructs the matching Driver, but does
// not yet call Driver.Open; the Manager (C9) controls connection timing.
func Resolve(address string) (Driver, error) {
	ep, err := ParseEndpoint(address)
	if err != nil {
		return nil, err
	}
	factory, ok := factories[ep.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, ep.Scheme)
	}
	return factory.NewDriver(ep)
}
