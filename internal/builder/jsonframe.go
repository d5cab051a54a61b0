package builder

import (
	"encoding/json"
	"fmt"

	"github.com/signalgrid/tscore/internal/frame"
	"github.com/signalgrid/tscore/internal/project"
)

// jsonFrameDataset is one dataset entry in a DeviceSendsJSON payload: the
// same shape project.DatasetDescriptor validates against, plus the "value"
// field the descriptor schema leaves unconstrained (spec.md §4.6).
type jsonFrameDataset struct {
	Title     string   `json:"title"`
	Units     string   `json:"units"`
	Widget    string   `json:"widget"`
	Index     int      `json:"index"`
	AlarmLow  *float64 `json:"alarmLow,omitempty"`
	AlarmHigh *float64 `json:"alarmHigh,omitempty"`
	Value     jsonValue `json:"value"`
}

type jsonFrameGroup struct {
	Title    string              `json:"title"`
	Widget   string              `json:"widget"`
	Datasets []jsonFrameDataset  `json:"datasets"`
}

type jsonFramePayload struct {
	Title  string           `json:"title"`
	Groups []jsonFrameGroup `json:"groups"`
}

// jsonValue accepts either a JSON string or a JSON number for "value",
// stringifying it either way; device firmware is free to send numeric
// telemetry as either.
type jsonValue string

func (v *jsonValue) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = jsonValue(s)
		return nil
	}
	*v = jsonValue(data)
	return nil
}

func (p jsonFramePayload) groupDescriptors() []project.GroupDescriptor {
	out := make([]project.GroupDescriptor, len(p.Groups))
	for gi, g := range p.Groups {
		ng := project.GroupDescriptor{Title: g.Title, Widget: g.Widget}
		ng.Datasets = make([]project.DatasetDescriptor, len(g.Datasets))
		for di, ds := range g.Datasets {
			ng.Datasets[di] = project.DatasetDescriptor{
				Title:     ds.Title,
				Units:     ds.Units,
				Widget:    ds.Widget,
				Index:     ds.Index,
				AlarmLow:  ds.AlarmLow,
				AlarmHigh: ds.AlarmHigh,
			}
		}
		out[gi] = ng
	}
	return out
}

func (p jsonFramePayload) skeleton() *frame.TelemetryFrame {
	tf := &frame.TelemetryFrame{Title: p.Title}
	if tf.Title == "" {
		tf.Title = fmt.Sprintf("Device JSON (%d groups)", len(p.Groups))
	}
	tf.Groups = make([]frame.Group, len(p.Groups))
	for gi, g := range p.Groups {
		ng := frame.Group{Title: g.Title, WidgetKind: frame.WidgetKind(g.Widget)}
		ng.Datasets = make([]frame.Dataset, len(g.Datasets))
		for di, ds := range g.Datasets {
			ng.Datasets[di] = frame.Dataset{
				Title:      ds.Title,
				Units:      ds.Units,
				WidgetKind: frame.WidgetKind(ds.Widget),
				Index:      ds.Index,
				AlarmLow:   ds.AlarmLow,
				AlarmHigh:  ds.AlarmHigh,
				Value:      string(ds.Value),
			}
		}
		tf.Groups[gi] = ng
	}
	return tf
}
