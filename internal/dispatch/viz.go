package dispatch

import (
	"sync"
	"time"

	"github.com/signalgrid/tscore/internal/frame"
)

// VizPublisher is the external visualization collaborator's inbound edge:
// the Hub hands it coalesced frame snapshots at a bounded rate, never the
// raw per-frame stream.
type VizPublisher interface {
	PublishSnapshot(snapshot map[string]frame.Dataset)
}

// VizSink coalesces incoming frames to a target rate (default 20 Hz per
// spec.md §9's Open Question decision) by keeping only the latest value per
// dataset key between ticks, last-write-wins. This trades per-sample
// fidelity for a bounded publish rate to a collaborator that renders on its
// own frame budget.
type VizSink struct {
	publisher VizPublisher
	interval  time.Duration

	mu       sync.Mutex
	pending  map[string]frame.Dataset
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func datasetKey(groupTitle string, ds *frame.Dataset) string {
	return groupTitle + "\x00" + ds.Title
}

// NewVizSink starts the coalescing ticker immediately.
func NewVizSink(publisher VizPublisher, rate time.Duration) *VizSink {
	if rate <= 0 {
		rate = 50 * time.Millisecond // 20 Hz
	}
	v := &VizSink{
		publisher: publisher,
		interval:  rate,
		pending:   make(map[string]frame.Dataset),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go v.run()
	return v
}

func (v *VizSink) Name() string { return "viz" }

func (v *VizSink) Submit(f *frame.TelemetryFrame) bool {
	v.mu.Lock()
	for gi := range f.Groups {
		g := &f.Groups[gi]
		for di := range g.Datasets {
			ds := g.Datasets[di]
			v.pending[datasetKey(g.Title, &ds)] = ds
		}
	}
	v.mu.Unlock()
	return true
}

func (v *VizSink) run() {
	defer close(v.done)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-ticker.C:
			v.flush()
		}
	}
}

func (v *VizSink) flush() {
	v.mu.Lock()
	if len(v.pending) == 0 {
		v.mu.Unlock()
		return
	}
	snapshot := v.pending
	v.pending = make(map[string]frame.Dataset, len(snapshot))
	v.mu.Unlock()
	v.publisher.PublishSnapshot(snapshot)
}

func (v *VizSink) Close() {
	v.stopOnce.Do(func() { close(v.stop) })
	<-v.done
}
