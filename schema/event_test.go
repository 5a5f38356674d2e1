package schema

import (
	"encoding/json"
	"testing"
)

func TestEventType_Valid(t *testing.T) {
	for _, typ := range []EventType{EventTypeModel, EventTypeChain, EventTypeTool, EventTypeSession} {
		if !typ.Valid() {
			t.Errorf("%q should be valid", typ)
		}
	}
	for _, typ := range []EventType{"", "span", "generation"} {
		if EventType(typ).Valid() {
			t.Errorf("%q should be invalid", typ)
		}
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("ChatCompletion", EventTypeModel)

	if !IsUUID(e.EventID) {
		t.Errorf("EventID %q is not a UUID", e.EventID)
	}
	if e.EventName != "ChatCompletion" {
		t.Errorf("EventName = %q", e.EventName)
	}
	if e.EventType != EventTypeModel {
		t.Errorf("EventType = %q", e.EventType)
	}

	e2 := NewEvent("x", EventTypeTool)
	if e.EventID == e2.EventID {
		t.Error("event ids must be unique")
	}
}

func TestEvent_JSONShape(t *testing.T) {
	e := NewEvent("fetch_data", EventTypeTool)
	e.ProjectID = "proj"
	e.Source = "production"
	e.SessionID = "2c3a4f8e-9a1b-4c5d-8e6f-0a1b2c3d4e5f"
	e.StartTime = 1000
	e.EndTime = 1500
	e.Duration = 500

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// parent_id and error serialize as explicit nulls.
	if v, ok := m["parent_id"]; !ok || v != nil {
		t.Errorf("parent_id = %v (present=%v), want explicit null", v, ok)
	}
	if v, ok := m["error"]; !ok || v != nil {
		t.Errorf("error = %v (present=%v), want explicit null", v, ok)
	}
	// Empty sections are omitted entirely.
	if _, ok := m["inputs"]; ok {
		t.Error("empty inputs should be omitted")
	}
	if m["event_type"] != "tool" {
		t.Errorf("event_type = %v", m["event_type"])
	}
}

func TestEvent_SetError(t *testing.T) {
	e := NewEvent("x", EventTypeModel)
	e.SetError("rate limited")
	if e.Error == nil || *e.Error != "rate limited" {
		t.Errorf("Error = %v", e.Error)
	}
}

