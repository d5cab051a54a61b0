// Package project parses and validates the external project descriptor
// spec.md §6 defines, and the DeviceSendsJSON frame payload that reuses
// its groups/datasets shape. Validation is performed with
// github.com/santhosh-tekuri/jsonschema/v5 against the schema in
// schema.go, the way ClusterCockpit/cc-backend validates inbound
// documents with the same library.
package project

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/signalgrid/tscore/internal/frame"
)

// Decoder is the optional embedded-script collaborator a project declares.
type Decoder struct {
	Language string `json:"language"`
	Source   string `json:"source"`
}

// DatasetDescriptor is one declared dataset within a group.
type DatasetDescriptor struct {
	Title        string   `json:"title"`
	Units        string   `json:"units"`
	Widget       string   `json:"widget"`
	Index        int      `json:"index"`
	AlarmLow     *float64 `json:"alarmLow,omitempty"`
	AlarmHigh    *float64 `json:"alarmHigh,omitempty"`
	FFT          bool     `json:"fft,omitempty"`
	Log          bool     `json:"log,omitempty"`
	Graph        bool     `json:"graph,omitempty"`
	HistoryDepth int      `json:"historyDepth,omitempty"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
}

// GroupDescriptor is one declared group of datasets.
type GroupDescriptor struct {
	Title    string              `json:"title"`
	Widget   string              `json:"widget"`
	Datasets []DatasetDescriptor `json:"datasets"`
}

// Descriptor is the parsed, validated shape of a project file (§6).
type Descriptor struct {
	Title           string            `json:"title"`
	Decoder         *Decoder          `json:"decoder"`
	FrameStart      string            `json:"frameStart"`
	FrameEnd        string            `json:"frameEnd"`
	FrameDetection  string            `json:"frameDetection"`
	Checksum        string            `json:"checksum"`
	PayloadEncoding string            `json:"payloadEncoding"`
	Groups          []GroupDescriptor `json:"groups"`
}

// DatasetCount returns the total number of declared datasets across all
// groups, used by the builder's channel-count guard (invariant iv).
func (d *Descriptor) DatasetCount() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Datasets)
	}
	return n
}

// Skeleton converts the descriptor's groups/datasets into an empty
// TelemetryFrame — the "skeleton" spec.md §3 describes — ready for C6 to
// fill in values.
func (d *Descriptor) Skeleton() *frame.TelemetryFrame {
	tf := &frame.TelemetryFrame{Title: d.Title}
	tf.Groups = make([]frame.Group, len(d.Groups))
	for gi, g := range d.Groups {
		ng := frame.Group{Title: g.Title, WidgetKind: frame.WidgetKind(g.Widget)}
		ng.Datasets = make([]frame.Dataset, len(g.Datasets))
		for di, ds := range g.Datasets {
			ng.Datasets[di] = frame.Dataset{
				Title:        ds.Title,
				Units:        ds.Units,
				WidgetKind:   frame.WidgetKind(ds.Widget),
				Index:        ds.Index,
				AlarmLow:     ds.AlarmLow,
				AlarmHigh:    ds.AlarmHigh,
				FFT:          ds.FFT,
				Log:          ds.Log,
				HistoryDepth: ds.HistoryDepth,
				Numeric:      isNumericWidget(ds.Widget),
			}
		}
		tf.Groups[gi] = ng
	}
	return tf
}

// nonNumericWidgets lists the widget kinds whose value is displayed as-is
// rather than parsed as a number; everything else is treated as numeric
// for the purposes of the builder's per-field parse-failure guard (§4.6).
var nonNumericWidgets = map[string]bool{
	"text": true, "led": true, "map": true, "terminal": true,
}

func isNumericWidget(widget string) bool {
	return !nonNumericWidgets[strings.ToLower(widget)]
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("project-descriptor.json", strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("project: schema did not compile: %v", err))
	}
	s, err := c.Compile("project-descriptor.json")
	if err != nil {
		panic(fmt.Sprintf("project: schema did not compile: %v", err))
	}
	return s
}

// ErrValidation wraps a jsonschema validation failure.
type ErrValidation struct{ Cause error }

func (e *ErrValidation) Error() string { return fmt.Sprintf("project: schema validation failed: %v", e.Cause) }
func (e *ErrValidation) Unwrap() error { return e.Cause }

// Parse validates raw against the project-descriptor schema and decodes it
// into a Descriptor. Used for the top-level project file; DeviceSendsJSON
// frames are checked with ValidateDoc instead.
func Parse(raw []byte) (*Descriptor, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("project: invalid json: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, &ErrValidation{Cause: err}
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("project: invalid json: %w", err)
	}
	return &d, nil
}

// ValidateDoc validates an already-unmarshaled JSON document (interface{})
// against the project-descriptor schema, without decoding it into a
// Descriptor. Used by the builder's DeviceSendsJSON mode, where each raw
// frame reuses the descriptor's groups/datasets shape but is not itself a
// full project file.
func ValidateDoc(doc interface{}) error {
	if err := compiledSchema.Validate(doc); err != nil {
		return &ErrValidation{Cause: err}
	}
	return nil
}

// DecodeByteField interprets a descriptor byte-string field (frameStart,
// frameEnd): a "0x"-prefixed value is hex-decoded, otherwise the field is
// taken as literal UTF-8 bytes.
func DecodeByteField(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hex.DecodeString(s[2:])
	}
	return []byte(s), nil
}

// DecodePayload converts raw frame bytes to text per the declared
// encoding, ahead of handing them to the decoder script (spec.md §4.6
// ProjectFile mode).
func DecodePayload(encoding string, raw []byte) (string, error) {
	switch strings.ToLower(encoding) {
	case "", "plaintext":
		return string(raw), nil
	case "hexadecimal":
		return hex.EncodeToString(raw), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(raw), nil
	case "binary":
		var b strings.Builder
		for _, by := range raw {
			fmt.Fprintf(&b, "%08b", by)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("project: unknown payload encoding %q", encoding)
	}
}

// EqualSchemaShape reports whether two parsed group lists describe the
// same skeleton, comparing every descriptor field (titles, widgets, units,
// indices, alarm bounds), not only counts and titles; used by the
// DeviceSendsJSON operating mode to decide whether a structural-change
// event is due (spec.md §4.6).
func EqualSchemaShape(a, b []GroupDescriptor) bool {
	data := func(gs []GroupDescriptor) []byte {
		buf, _ := json.Marshal(gs)
		return buf
	}
	return bytes.Equal(data(a), data(b))
}
