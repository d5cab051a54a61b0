package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalgrid/tscore/internal/frame"
)

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []map[string]frame.Dataset
}

func (r *recordingPublisher) PublishSnapshot(s map[string]frame.Dataset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestVizSinkCoalescesBeforeFlush(t *testing.T) {
	pub := &recordingPublisher{}
	v := NewVizSink(pub, 30*time.Millisecond)
	defer v.Close()

	v.Submit(sampleFrame())
	v.Submit(sampleFrame())

	require.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	last := pub.snapshots[len(pub.snapshots)-1]
	pub.mu.Unlock()
	assert.Len(t, last, 1) // last-write-wins: one dataset key, not two submits
}

func TestVizSinkSkipsFlushWhenNothingPending(t *testing.T) {
	pub := &recordingPublisher{}
	v := NewVizSink(pub, 10*time.Millisecond)
	defer v.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, pub.count())
}
