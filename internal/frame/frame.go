// Package frame defines the telemetry data model shared by the builder and
// dispatch stages: raw byte chunks coming off a transport, and the typed
// frames produced once a raw frame has been decoded.
package frame

import "time"

// RawChunk is an immutable byte sequence read off a transport, stamped with
// the time it was received. It never outlives ring-buffer ingestion.
type RawChunk struct {
	Data      []byte
	Received  time.Time
}

// RawFrame is a byte sequence that has passed framing and checksum
// validation. Ownership transfers from the framer to the builder.
type RawFrame struct {
	Payload  []byte
	Received time.Time
}

// OperatingMode selects how raw frames are turned into TelemetryFrames.
type OperatingMode int

const (
	ProjectFile OperatingMode = iota
	QuickPlot
	DeviceSendsJSON
)

func (m OperatingMode) String() string {
	switch m {
	case ProjectFile:
		return "project-file"
	case QuickPlot:
		return "quick-plot"
	case DeviceSendsJSON:
		return "device-sends-json"
	default:
		return "unknown"
	}
}

// WidgetKind is an opaque hint consumed by the external visualization
// collaborator; the core never interprets it beyond passing it through.
type WidgetKind string

// PayloadEncoding is how a raw frame's bytes are converted to text before
// being handed to the decoder script, in ProjectFile mode.
type PayloadEncoding int

const (
	PlainText PayloadEncoding = iota
	Hexadecimal
	Base64
	Binary
)

// Dataset is one scalar channel within a frame.
type Dataset struct {
	Title        string
	Units        string
	WidgetKind   WidgetKind
	Value        string
	Index        int // 1-based position, as declared by the project
	AlarmLow     *float64
	AlarmHigh    *float64
	FFT          bool
	Log          bool
	HistoryDepth int
	Numeric      bool // whether Value must parse as a number
}

// Group is an ordered collection of datasets sharing a widget kind.
type Group struct {
	Title      string
	WidgetKind WidgetKind
	Datasets   []Dataset
}

// TelemetryFrame is the fully decoded, structured shape of one logical
// sample: a title plus an ordered list of groups.
type TelemetryFrame struct {
	Title     string
	Groups    []Group
	Received  time.Time
}

// DatasetCount returns the total number of datasets across all groups.
func (f *TelemetryFrame) DatasetCount() int {
	n := 0
	for _, g := range f.Groups {
		n += len(g.Datasets)
	}
	return n
}

// Flatten returns every dataset in declaration order, regardless of group.
func (f *TelemetryFrame) Flatten() []*Dataset {
	out := make([]*Dataset, 0, f.DatasetCount())
	for gi := range f.Groups {
		g := &f.Groups[gi]
		for di := range g.Datasets {
			out = append(out, &g.Datasets[di])
		}
	}
	return out
}

// Clone returns a deep copy suitable for handing to a sink without risking
// a data race with the next frame build.
func (f *TelemetryFrame) Clone() *TelemetryFrame {
	clone := &TelemetryFrame{Title: f.Title, Received: f.Received}
	clone.Groups = make([]Group, len(f.Groups))
	for i, g := range f.Groups {
		ng := Group{Title: g.Title, WidgetKind: g.WidgetKind}
		ng.Datasets = append([]Dataset(nil), g.Datasets...)
		clone.Groups[i] = ng
	}
	return clone
}

// ChannelList is the ordered sequence of value strings a decoder script (or
// the QuickPlot comma-split) produces for one raw frame. Position i is the
// value for the i-th dataset in declaration order.
type ChannelList []string
