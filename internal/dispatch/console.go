package dispatch

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/signalgrid/tscore/internal/frame"
)

// ConsoleRendering picks how ConsoleSink writes raw bytes.
type ConsoleRendering int

const (
	RenderText ConsoleRendering = iota
	RenderHex
)

// ConsoleSink writes every raw chunk (pre-framing, pre-decode) to an
// io.Writer, plus a one-line summary of every decoded frame. It is the
// simplest sink and has no backlog: writes happen synchronously on the
// calling goroutine, matching spec.md §5's "diagnostic passthrough" framing
// (a console sink that buffered and dropped would defeat its purpose as a
// live tail).
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	render   ConsoleRendering
	showData bool
}

func NewConsoleSink(w io.Writer, render ConsoleRendering, showData bool) *ConsoleSink {
	return &ConsoleSink{w: w, render: render, showData: showData}
}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Submit(f *frame.TelemetryFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[%s] %s groups=%d datasets=%d\n",
		f.Received.Format("15:04:05.000"), f.Title, len(f.Groups), f.DatasetCount())
	return true
}

func (c *ConsoleSink) SubmitRaw(data []byte) {
	if !c.showData {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.render {
	case RenderHex:
		fmt.Fprintln(c.w, hex.EncodeToString(data))
	default:
		c.w.Write(data)
		fmt.Fprintln(c.w)
	}
}

func (c *ConsoleSink) Close() {}
