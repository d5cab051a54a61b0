package tscore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalgrid/tscore/internal/dispatch"
	"github.com/signalgrid/tscore/internal/framing"
	"github.com/signalgrid/tscore/internal/transport"
)

// fakeDriver is an in-memory transport.Driver for exercising Manager
// without a real serial/TCP/BLE backend.
type fakeDriver struct {
	mu     sync.Mutex
	events chan transport.Event
	state  transport.State
	closed bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{events: make(chan transport.Event, 16), state: transport.Closed}
}

func (d *fakeDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = transport.Open
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.state = transport.Closed
	close(d.events)
	return nil
}

func (d *fakeDriver) Write(ctx context.Context, p []byte) (int, error) { return len(p), nil }
func (d *fakeDriver) Events() <-chan transport.Event                  { return d.events }
func (d *fakeDriver) State() transport.State                          { return d.state }
func (d *fakeDriver) BusType() string                                  { return "fake" }
func (d *fakeDriver) DroppedEvents() int64                             { return 0 }

func (d *fakeDriver) push(data []byte) {
	d.events <- transport.Event{Kind: transport.EventData, Data: data, Received: time.Now()}
}

func fakeScheme(t *testing.T) string {
	return "fake-" + strings.ToLower(t.Name())
}

func registerFakeScheme(t *testing.T) *fakeDriver {
	t.Helper()
	d := newFakeDriver()
	scheme := fakeScheme(t)
	transport.RegisterFactory(scheme, transport.FactoryFunc(func(ep *transport.Endpoint) (transport.Driver, error) {
		return d, nil
	}))
	t.Cleanup(func() { transport.UnregisterFactory(scheme) })
	return d
}

func testHub() *dispatch.Hub { return dispatch.NewHub(nil) }

func TestManagerConnectDisconnectLifecycle(t *testing.T) {
	d := registerFakeScheme(t)
	m := New(testHub(), WithBusAddress(fakeScheme(t)+"://device"))
	require.NoError(t, m.Configure(WithFramingConfig(framing.Config{Mode: framing.NoDelimiters})))

	assert.Equal(t, Disconnected, m.State())
	require.NoError(t, m.Connect())
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, transport.Open, d.State())

	require.NoError(t, m.Disconnect())
	assert.Equal(t, Disconnected, m.State())
}

func TestManagerSetBusAddressIllegalWhileConnected(t *testing.T) {
	registerFakeScheme(t)
	m := New(testHub(),
		WithBusAddress(fakeScheme(t)+"://device"),
		WithFramingConfig(framing.Config{Mode: framing.NoDelimiters}),
	)
	require.NoError(t, m.Connect())
	defer m.Disconnect()

	err := m.SetBusAddress("fake-other://device")
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestManagerConnectWithoutBusAddressFails(t *testing.T) {
	m := New(testHub())
	err := m.Connect()
	assert.Error(t, err)
}

func TestManagerPauseResumeGatesDispatch(t *testing.T) {
	registerFakeScheme(t)
	m := New(testHub(),
		WithBusAddress(fakeScheme(t)+"://device"),
		WithFramingConfig(framing.Config{Mode: framing.NoDelimiters}),
	)
	require.NoError(t, m.Connect())
	defer m.Disconnect()

	require.NoError(t, m.Pause())
	assert.Equal(t, Paused, m.State())
	require.NoError(t, m.Resume())
	assert.Equal(t, Connected, m.State())

	err := m.Pause()
	require.NoError(t, err)
	err = m.Pause()
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestManagerWriteForwardsToDriver(t *testing.T) {
	registerFakeScheme(t)
	m := New(testHub(),
		WithBusAddress(fakeScheme(t)+"://device"),
		WithFramingConfig(framing.Config{Mode: framing.NoDelimiters}),
	)
	require.NoError(t, m.Connect())
	defer m.Disconnect()

	n, err := m.Write(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestManagerIngestsFramesIntoHub(t *testing.T) {
	d := registerFakeScheme(t)
	hub := testHub()
	m := New(hub,
		WithBusAddress(fakeScheme(t)+"://device"),
		WithFramingConfig(framing.Config{Mode: framing.EndDelimiter, EndSeq: []byte("\n")}),
	)
	require.NoError(t, m.Connect())
	defer m.Disconnect()

	d.push([]byte("1,2,3\n"))

	require.Eventually(t, func() bool {
		return m.Metrics().GetFramesEmitted() > 0
	}, time.Second, 5*time.Millisecond)
}
