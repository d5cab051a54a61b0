package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalgrid/tscore/internal/frame"
	"github.com/signalgrid/tscore/internal/project"
	"github.com/signalgrid/tscore/internal/script"
)

const weatherDescriptor = `{
  "title": "Weather Station",
  "decoder": { "language": "js", "source": "function parse(s){return s.split(';');}" },
  "frameDetection": "EndDelimiter",
  "payloadEncoding": "PlainText",
  "groups": [
    { "title": "Readings", "widget": "group", "datasets": [
      { "title": "Temp", "units": "C", "widget": "gauge", "index": 1 },
      { "title": "Hum", "units": "%", "widget": "gauge", "index": 2 }
    ]}
  ]
}`

func newProjectBuilder(t *testing.T) *Builder {
	t.Helper()
	d, err := project.Parse([]byte(weatherDescriptor))
	require.NoError(t, err)
	h, err := script.Compile(d.Decoder.Source)
	require.NoError(t, err)
	return New(frame.ProjectFile, d, h)
}

func TestProjectFileBuildsFrame(t *testing.T) {
	b := newProjectBuilder(t)
	tf, ok := b.Build([]byte("25.4;60.1"), 0)
	require.True(t, ok)
	assert.Equal(t, "25.4", tf.Groups[0].Datasets[0].Value)
	assert.Equal(t, "60.1", tf.Groups[0].Datasets[1].Value)
}

func TestProjectFileChannelCountMismatchDropsFrame(t *testing.T) {
	var reasons []string
	b := newProjectBuilder(t)
	b.Hooks.OnDecodeError = func(reason string) { reasons = append(reasons, reason) }
	_, ok := b.Build([]byte("25.4;60.1;99"), 0)
	assert.False(t, ok)
	require.Len(t, reasons, 1)
}

func TestProjectFileKeepsPreviousValueOnParseFailure(t *testing.T) {
	var bad []string
	b := newProjectBuilder(t)
	b.Hooks.OnFieldParseError = func(ds string) { bad = append(bad, ds) }

	tf, ok := b.Build([]byte("25.4;60.1"), 0)
	require.True(t, ok)
	assert.Equal(t, "25.4", tf.Groups[0].Datasets[0].Value)

	tf2, ok := b.Build([]byte("not-a-number;61.0"), 0)
	require.True(t, ok)
	assert.Equal(t, "25.4", tf2.Groups[0].Datasets[0].Value) // unchanged
	assert.Equal(t, "61.0", tf2.Groups[0].Datasets[1].Value)
	assert.Equal(t, []string{"Temp"}, bad)
}

func TestQuickPlotRebuildsSkeletonOnColumnCountChange(t *testing.T) {
	var changes int
	b := New(frame.QuickPlot, nil, nil)
	b.Hooks.OnStructuralChange = func(*frame.TelemetryFrame) { changes++ }

	tf, ok := b.Build([]byte("1,2,3"), 0)
	require.True(t, ok)
	require.Len(t, tf.Groups[0].Datasets, 3)
	assert.Equal(t, "Series 1", tf.Groups[0].Datasets[0].Title)
	assert.Equal(t, 1, changes)

	tf2, ok := b.Build([]byte("4,5,6"), 0)
	require.True(t, ok)
	assert.Equal(t, "4", tf2.Groups[0].Datasets[0].Value)
	assert.Equal(t, 1, changes) // same column count, no rebuild

	_, ok = b.Build([]byte("7,8,9,10"), 0)
	require.True(t, ok)
	assert.Equal(t, 2, changes) // column count changed
}

func TestDeviceSendsJSONBuildsFrameAndDetectsStructuralChange(t *testing.T) {
	var changes int
	b := New(frame.DeviceSendsJSON, nil, nil)
	b.Hooks.OnStructuralChange = func(*frame.TelemetryFrame) { changes++ }

	doc1 := []byte(`{"title":"Cabin","frameDetection":"EndDelimiter","payloadEncoding":"PlainText","groups":[
		{"title":"Env","datasets":[{"title":"Temp","index":1,"value":21.5}]}
	]}`)
	tf, ok := b.Build(doc1, 0)
	require.True(t, ok)
	assert.Equal(t, "21.5", tf.Groups[0].Datasets[0].Value)
	assert.Equal(t, 1, changes)

	doc2 := []byte(`{"title":"Cabin","frameDetection":"EndDelimiter","payloadEncoding":"PlainText","groups":[
		{"title":"Env","datasets":[{"title":"Temp","index":1,"value":22.0}]}
	]}`)
	_, ok = b.Build(doc2, 0)
	require.True(t, ok)
	assert.Equal(t, 1, changes) // same shape, no new structural-change event
}

func TestDeviceSendsJSONRejectsSchemaInvalidDocument(t *testing.T) {
	b := New(frame.DeviceSendsJSON, nil, nil)
	_, ok := b.Build([]byte(`{"title":"x"}`), 0)
	assert.False(t, ok)
}
