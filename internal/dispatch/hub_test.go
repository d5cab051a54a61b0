package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalgrid/tscore/internal/frame"
)

type fakeSink struct {
	name     string
	backlog  chan *frame.TelemetryFrame
	closed   bool
}

func newFakeSink(name string, cap int) *fakeSink {
	return &fakeSink{name: name, backlog: make(chan *frame.TelemetryFrame, cap)}
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Submit(tf *frame.TelemetryFrame) bool {
	select {
	case f.backlog <- tf:
		return true
	default:
		return false
	}
}
func (f *fakeSink) Close() { f.closed = true }

func sampleFrame() *frame.TelemetryFrame {
	return &frame.TelemetryFrame{
		Title:    "demo",
		Received: time.Now(),
		Groups: []frame.Group{
			{Title: "g1", Datasets: []frame.Dataset{{Title: "temp", Value: "21.5"}}},
		},
	}
}

func TestHubDispatchFansOutToAllSinks(t *testing.T) {
	h := NewHub(nil)
	a, b := newFakeSink("a", 4), newFakeSink("b", 4)
	h.Register(a)
	h.Register(b)

	h.Dispatch(sampleFrame())

	require.Len(t, a.backlog, 1)
	require.Len(t, b.backlog, 1)
}

func TestHubDispatchCountsDropsWhenSinkFull(t *testing.T) {
	h := NewHub(nil)
	full := newFakeSink("full", 1)
	h.Register(full)

	h.Dispatch(sampleFrame())
	h.Dispatch(sampleFrame())

	drops := h.Drops()
	assert.Equal(t, uint64(1), drops["full"])
}

func TestHubCloseClosesAllSinks(t *testing.T) {
	h := NewHub(nil)
	a := newFakeSink("a", 1)
	h.Register(a)
	h.Close(nil)
	assert.True(t, a.closed)
}
