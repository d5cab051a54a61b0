// Package builder implements C6, the frame builder: it turns validated raw
// frames into typed TelemetryFrames under one of the three operating
// modes, invoking the optional decoder script (C7) in ProjectFile mode.
package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalgrid/tscore/internal/frame"
	"github.com/signalgrid/tscore/internal/project"
	"github.com/signalgrid/tscore/internal/script"
)

var (
	// ErrChannelCountMismatch is recorded (and the frame dropped) when a
	// decoder's ChannelList length disagrees with the declared dataset
	// count, invariant (iv).
	ErrChannelCountMismatch = errors.New("builder: channel count mismatch")
	// ErrDecode wraps a decoder-script or JSON-parse failure.
	ErrDecode = errors.New("builder: decode failed")
)

// Hooks lets the caller observe per-frame outcomes for metrics purposes,
// mirroring framing.Reader's OnFrameError/OnEmptyDropped callback style.
type Hooks struct {
	OnDecodeError      func(reason string)
	OnFieldParseError  func(dataset string)
	OnStructuralChange func(skeleton *frame.TelemetryFrame)
}

// Builder holds the mutable skeleton state (only meaningful in QuickPlot
// and DeviceSendsJSON mode, where the skeleton is derived from traffic) and
// the immutable descriptor/script-host pair (ProjectFile mode).
type Builder struct {
	Mode                frame.OperatingMode
	Descriptor          *project.Descriptor // ProjectFile only
	Script              *script.Host         // ProjectFile only, optional
	QuickPlotDelimiters []byte               // extra split characters besides ','

	skeleton    *frame.TelemetryFrame
	jsonGroups  []project.GroupDescriptor // last DeviceSendsJSON structural shape
	seriesCount int                       // last QuickPlot column count

	Hooks Hooks
}

// New constructs a Builder for the given mode. For ProjectFile, descriptor
// must be non-nil; script may be nil if the project declares no decoder.
func New(mode frame.OperatingMode, descriptor *project.Descriptor, host *script.Host) *Builder {
	b := &Builder{Mode: mode, Descriptor: descriptor, Script: host}
	if mode == frame.ProjectFile && descriptor != nil {
		b.skeleton = descriptor.Skeleton()
	}
	return b
}

func (b *Builder) decodeError(reason string) {
	if b.Hooks.OnDecodeError != nil {
		b.Hooks.OnDecodeError(reason)
	}
}

func (b *Builder) fieldParseError(dataset string) {
	if b.Hooks.OnFieldParseError != nil {
		b.Hooks.OnFieldParseError(dataset)
	}
}

func (b *Builder) structuralChange() {
	if b.Hooks.OnStructuralChange != nil {
		b.Hooks.OnStructuralChange(b.skeleton)
	}
}

// Build dispatches on Mode and returns the frame to hand to C8, stamped
// with receivedAtNanos as its Received time, or ok=false if the raw frame
// was dropped (per-frame error, counted via Hooks, never fatal).
func (b *Builder) Build(raw []byte, receivedAtNanos int64) (*frame.TelemetryFrame, bool) {
	var tf *frame.TelemetryFrame
	var ok bool
	switch b.Mode {
	case frame.ProjectFile:
		tf, ok = b.buildProjectFile(raw)
	case frame.QuickPlot:
		tf, ok = b.buildQuickPlot(raw)
	case frame.DeviceSendsJSON:
		tf, ok = b.buildDeviceJSON(raw)
	default:
		b.decodeError(fmt.Sprintf("unknown operating mode %v", b.Mode))
		return nil, false
	}
	if ok {
		tf.Received = time.Unix(0, receivedAtNanos)
	}
	return tf, ok
}

func (b *Builder) buildProjectFile(raw []byte) (*frame.TelemetryFrame, bool) {
	if b.skeleton == nil || b.Descriptor == nil {
		b.decodeError("project-file mode with no project loaded")
		return nil, false
	}

	text, err := project.DecodePayload(b.Descriptor.PayloadEncoding, raw)
	if err != nil {
		b.decodeError(err.Error())
		return nil, false
	}

	var channels []string
	if b.Script != nil {
		channels, err = b.Script.Parse(text)
		if err != nil {
			b.decodeError(err.Error())
			return nil, false
		}
	} else {
		// No decoder script: fall back to a bare comma split, the same
		// positional contract a script's ChannelList provides.
		channels = splitFields(text, nil)
	}

	datasets := b.skeleton.Flatten()
	if len(channels) != len(datasets) {
		b.decodeError(fmt.Sprintf("%v: got %d channels, want %d", ErrChannelCountMismatch, len(channels), len(datasets)))
		return nil, false
	}

	for i, ds := range datasets {
		value := channels[i]
		if ds.Numeric {
			if _, perr := strconv.ParseFloat(strings.TrimSpace(value), 64); perr != nil {
				b.fieldParseError(ds.Title)
				continue // leave the previous value in place
			}
		}
		ds.Value = value
	}
	return b.skeleton.Clone(), true
}

func (b *Builder) buildQuickPlot(raw []byte) (*frame.TelemetryFrame, bool) {
	fields := splitFields(string(raw), b.QuickPlotDelimiters)
	if b.skeleton == nil || len(fields) != b.seriesCount {
		b.rebuildQuickPlotSkeleton(len(fields))
	}
	datasets := b.skeleton.Flatten()
	for i, ds := range datasets {
		if i < len(fields) {
			ds.Value = fields[i]
		}
	}
	return b.skeleton.Clone(), true
}

func (b *Builder) rebuildQuickPlotSkeleton(n int) {
	tf := &frame.TelemetryFrame{Title: "Quick Plot"}
	group := frame.Group{Title: "Series", WidgetKind: "plot"}
	group.Datasets = make([]frame.Dataset, n)
	for i := 0; i < n; i++ {
		group.Datasets[i] = frame.Dataset{
			Title:      fmt.Sprintf("Series %d", i+1),
			Index:      i + 1,
			WidgetKind: "plot",
			Numeric:    true,
		}
	}
	tf.Groups = []frame.Group{group}
	b.skeleton = tf
	b.seriesCount = n
	b.structuralChange()
}

func (b *Builder) buildDeviceJSON(raw []byte) (*frame.TelemetryFrame, bool) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		b.decodeError(fmt.Sprintf("%v: %v", ErrDecode, err))
		return nil, false
	}
	if err := project.ValidateDoc(doc); err != nil {
		b.decodeError(fmt.Sprintf("%v: schema validation failed: %v", ErrDecode, err))
		return nil, false
	}

	var payload jsonFramePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		b.decodeError(fmt.Sprintf("%v: %v", ErrDecode, err))
		return nil, false
	}

	groups := payload.groupDescriptors()
	if b.skeleton == nil || !project.EqualSchemaShape(groups, b.jsonGroups) {
		b.jsonGroups = groups
		b.skeleton = payload.skeleton()
		b.structuralChange()
	} else {
		// Same shape: no structural-change event; the skeleton is replaced
		// by one carrying the new values.
		b.skeleton = payload.skeleton()
	}
	return b.skeleton.Clone(), true
}

// splitFields splits s on ',' plus any bytes in extraDelims, trimming
// surrounding whitespace from each field, per spec.md §4.6 QuickPlot.
func splitFields(s string, extraDelims []byte) []string {
	cut := func(r rune) bool {
		if r == ',' {
			return true
		}
		for _, d := range extraDelims {
			if byte(r) == d {
				return true
			}
		}
		return false
	}
	fields := strings.FieldsFunc(strings.TrimSpace(s), cut)
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	return out
}
