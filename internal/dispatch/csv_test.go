package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalgrid/tscore/internal/frame"
)

func TestLocalCSVWriterRotatesAfterMaxRows(t *testing.T) {
	dir := t.TempDir()
	w, err := NewLocalCSVWriter(dir, "run", 2)
	require.NoError(t, err)

	require.NoError(t, w.WriteHeader([]string{"received", "temp"}))
	require.NoError(t, w.WriteRow([]string{"t0", "1"}))
	require.NoError(t, w.WriteRow([]string{"t1", "2"}))

	lw := w.(*localCSVWriter)
	assert.True(t, lw.ShouldRotate())
	require.NoError(t, lw.Rotate())
	assert.False(t, lw.ShouldRotate())
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCSVSinkWritesRowPerFrame(t *testing.T) {
	dir := t.TempDir()
	w, err := NewLocalCSVWriter(dir, "run", 0)
	require.NoError(t, err)
	lw := w.(*localCSVWriter)

	sink := NewCSVSink(w, 8)
	defer sink.Close()

	f := &frame.TelemetryFrame{
		Title:    "demo",
		Received: time.Now(),
		Groups: []frame.Group{
			{Title: "g1", Datasets: []frame.Dataset{{Title: "temp", Units: "C", Value: "21.5"}}},
		},
	}
	require.True(t, sink.Submit(f))

	path := filepath.Join(dir, sessionFilename(lw.projectTitle, lw.stamp, 0))
	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(path)
		return len(data) > 0
	}, time.Second, 5*time.Millisecond)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Timestamp,g1/temp (C)")
	assert.Contains(t, string(data), "21.5")
}
