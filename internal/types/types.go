// Package types holds the data shapes shared across the supervisor runtime:
// items flowing through the priority queues, results flowing back out, and
// the envelope format used on the command and monitoring sockets.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority is the two-valued priority class. There is no promotion between
// classes and no third value.
type Priority int

const (
	Low Priority = iota
	High
)

func (p Priority) String() string {
	if p == High {
		return "High"
	}
	return "Low"
}

// ParsePriority maps the wire string form back to a Priority, defaulting to
// Low on anything unrecognised.
func ParsePriority(s string) Priority {
	if s == "High" {
		return High
	}
	return Low
}

// ItemForm is the dataflow representation of an item on the wire.
type ItemForm int

const (
	FormBinary ItemForm = iota
	FormString
	FormFilename
)

func (f ItemForm) String() string {
	switch f {
	case FormBinary:
		return "binary"
	case FormFilename:
		return "filename"
	default:
		return "string"
	}
}

// ParseItemForm maps a config string to an ItemForm.
func ParseItemForm(s string) (ItemForm, bool) {
	switch s {
	case "binary":
		return FormBinary, true
	case "string":
		return FormString, true
	case "filename":
		return FormFilename, true
	default:
		return FormString, false
	}
}

// Item is the opaque payload carried through a priority queue. Exactly one
// of Payload/Text is meaningful, selected by Form. SourcePath records the
// originating file for items fanned out from filename-form ingress.
type Item struct {
	ID         string
	Form       ItemForm
	Priority   Priority
	Payload    []byte
	Text       string
	SourcePath string
	TraceID    string
	EnqueuedAt time.Time
}

// NewItem stamps a fresh item with a trace id and enqueue timestamp, the way
// stream-capture's rtsp callback stamps every captured frame.
func NewItem(form ItemForm, priority Priority) Item {
	return Item{
		ID:         uuid.New().String(),
		Form:       form,
		Priority:   priority,
		TraceID:    uuid.New().String(),
		EnqueuedAt: time.Now(),
	}
}

// Result is what a Worker produces from an Item.
type Result struct {
	Item       Item
	Form       ItemForm
	Payload    []byte
	Text       string
	ProducedAt time.Time
}

// Envelope is the self-describing record carried on the command and
// monitoring sockets. Binary-form ingress and result frames are passed
// through as raw bytes; they are not decoded or encoded as an Envelope.
// Body is left as raw JSON so each consumer decodes the shape it expects.
type Envelope struct {
	Type      int             `json:"type"`
	Subtype   string          `json:"subtype"`
	Time      float64         `json:"time"`
	PidSource string          `json:"pidsource"`
	PidTarget string          `json:"pidtarget"`
	Priority  string          `json:"priority,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// Envelope type tags, per spec.md §4.7/§4.8.
const (
	EnvelopeCommand   = 0
	EnvelopeAlarm     = 2
	EnvelopeConfig    = 3
	EnvelopeLog       = 4
	EnvelopeInfo      = 5
)

// MonitoringBody is the body shape shared by info/alarm/log emissions.
type MonitoringBody struct {
	Level   int    `json:"level"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HeartbeatBody is the per-manager snapshot emitted on getstatus.
type HeartbeatBody struct {
	GlobalName   string `json:"globalname"`
	InputLP      int    `json:"input_lp_size"`
	InputHP      int    `json:"input_hp_size"`
	ResultLP     int    `json:"result_lp_size"`
	ResultHP     int    `json:"result_hp_size"`
	ProcessData  bool   `json:"processdata"`
	StopData     bool   `json:"stopdata"`
	NumWorkers   int    `json:"num_workers"`
}

func NowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
