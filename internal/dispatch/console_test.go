package dispatch

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/signalgrid/tscore/internal/frame"
)

func TestConsoleSinkWritesSummaryLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleSink(&buf, RenderText, true)

	f := &frame.TelemetryFrame{
		Title:    "demo",
		Received: time.Now(),
		Groups: []frame.Group{
			{Title: "g1", Datasets: []frame.Dataset{{Title: "temp"}, {Title: "hum"}}},
		},
	}
	assert.True(t, c.Submit(f))
	assert.Contains(t, buf.String(), "demo")
	assert.Contains(t, buf.String(), "datasets=2")
}

func TestConsoleSinkRendersRawAsHex(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleSink(&buf, RenderHex, true)
	c.SubmitRaw([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	assert.Contains(t, buf.String(), "deadbeef")
}

func TestConsoleSinkSkipsRawWhenShowDataFalse(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleSink(&buf, RenderText, false)
	c.SubmitRaw([]byte("hello"))
	assert.Empty(t, buf.String())
}
