// Package schema defines the canonical event model shipped to the HoneyHive
// backend: the event envelope with its four semantic sections (inputs,
// outputs, config, metadata), chat messages, and tool calls.
package schema

import (
	"github.com/google/uuid"
)

// EventType classifies a canonical event.
type EventType string

const (
	// EventTypeModel is an LLM invocation.
	EventTypeModel EventType = "model"

	// EventTypeChain is a composite step such as a workflow or pipeline.
	EventTypeChain EventType = "chain"

	// EventTypeTool is a tool, function, or external API call.
	EventTypeTool EventType = "tool"

	// EventTypeSession is the root event of a session.
	EventTypeSession EventType = "session"
)

// Valid reports whether t is one of the four accepted event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeModel, EventTypeChain, EventTypeTool, EventTypeSession:
		return true
	}
	return false
}

// SchemaVersion is the canonical attribute schema version written to spans
// as honeyhive_schema_version.
const SchemaVersion = "1.0"

// Event is the canonical record of a single traced operation. All UUID
// fields are UUIDv4 strings; timestamps are UTC unix milliseconds and
// Duration equals EndTime minus StartTime.
type Event struct {
	ProjectID   string    `json:"project_id"`
	Source      string    `json:"source"`
	SessionID   string    `json:"session_id"`
	EventID     string    `json:"event_id"`
	ParentID    *string   `json:"parent_id"`
	ChildrenIDs []string  `json:"children_ids,omitempty"`
	EventName   string    `json:"event_name"`
	EventType   EventType `json:"event_type"`

	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
	Duration  int64 `json:"duration"`

	Inputs   map[string]any `json:"inputs,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Error          *string        `json:"error"`
	Feedback       map[string]any `json:"feedback,omitempty"`
	Metrics        map[string]any `json:"metrics,omitempty"`
	UserProperties map[string]any `json:"user_properties,omitempty"`
}

// NewEvent creates an Event with a fresh UUIDv4 event id.
func NewEvent(name string, typ EventType) *Event {
	return &Event{
		EventID:   uuid.NewString(),
		EventName: name,
		EventType: typ,
	}
}

// EnsureMetadata returns the metadata section, allocating it when nil.
func (e *Event) EnsureMetadata() map[string]any {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	return e.Metadata
}

// SetError records an error message on the event.
func (e *Event) SetError(msg string) {
	e.Error = &msg
}

// IsUUID reports whether s parses as a UUID. Used by validation paths and
// tests; the SDK only ever generates version-4 ids.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
