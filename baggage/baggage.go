// Package baggage propagates tracer-scoped context through OpenTelemetry
// baggage: session, project, source, parent linkage, tracer identity, and
// experiment attributes. A mirrored traceloop.association.properties.* set
// is written alongside for legacy backend compatibility; the mirror is
// write-only and never read back.
package baggage

import (
	"context"
	"strings"

	otelbaggage "go.opentelemetry.io/otel/baggage"
)

// Baggage keys owned by the SDK.
const (
	KeySessionID = "honeyhive.session_id"
	KeyProject   = "honeyhive.project"
	KeySource    = "honeyhive.source"
	KeyParentID  = "honeyhive.parent_id"
	KeyTracerID  = "honeyhive.tracer_id"

	// ExperimentPrefix prefixes experiment attribute keys, e.g.
	// honeyhive.experiment.variant.
	ExperimentPrefix = "honeyhive.experiment."

	// legacyPrefix prefixes the write-only mirrored set.
	legacyPrefix = "traceloop.association.properties."
)

// Values is the SDK's view of the baggage on a context.
type Values struct {
	SessionID string
	Project   string
	Source    string
	ParentID  string
	TracerID  string

	// Experiment holds experiment attributes keyed by their short name
	// (id, name, variant, group).
	Experiment map[string]string
}

// Empty reports whether no SDK baggage is present.
func (v Values) Empty() bool {
	return v.SessionID == "" && v.Project == "" && v.Source == "" &&
		v.ParentID == "" && v.TracerID == "" && len(v.Experiment) == 0
}

// ContextWith returns a context carrying the given values as OTel baggage,
// replacing any previous SDK members while leaving foreign members intact.
// The session id, project, source and parent id are also mirrored under the
// legacy prefix; the tracer id and experiment members are not.
func ContextWith(ctx context.Context, vals Values) context.Context {
	bag := otelbaggage.FromContext(ctx)

	set := func(key, value string) {
		if value == "" {
			return
		}
		if m, err := otelbaggage.NewMemberRaw(key, value); err == nil {
			bag, _ = bag.SetMember(m)
		}
	}
	mirror := func(short, value string) {
		set(legacyPrefix+short, value)
	}

	set(KeySessionID, vals.SessionID)
	mirror("session_id", vals.SessionID)
	set(KeyProject, vals.Project)
	mirror("project", vals.Project)
	set(KeySource, vals.Source)
	mirror("source", vals.Source)
	set(KeyParentID, vals.ParentID)
	mirror("parent_id", vals.ParentID)
	set(KeyTracerID, vals.TracerID)

	for k, v := range vals.Experiment {
		set(ExperimentPrefix+k, v)
	}

	return otelbaggage.ContextWithBaggage(ctx, bag)
}

// WithParentID returns a context whose parent-id baggage member is replaced,
// keeping everything else. Used by span scopes to chain child events.
func WithParentID(ctx context.Context, parentID string) context.Context {
	vals := FromContext(ctx)
	vals.ParentID = parentID
	return ContextWith(ctx, vals)
}

// FromContext reads the SDK values from the context baggage. Only
// honeyhive.* members are consulted; the legacy mirror never participates.
func FromContext(ctx context.Context) Values {
	bag := otelbaggage.FromContext(ctx)
	vals := Values{}
	for _, m := range bag.Members() {
		switch m.Key() {
		case KeySessionID:
			vals.SessionID = m.Value()
		case KeyProject:
			vals.Project = m.Value()
		case KeySource:
			vals.Source = m.Value()
		case KeyParentID:
			vals.ParentID = m.Value()
		case KeyTracerID:
			vals.TracerID = m.Value()
		default:
			if name, ok := strings.CutPrefix(m.Key(), ExperimentPrefix); ok {
				if vals.Experiment == nil {
					vals.Experiment = make(map[string]string)
				}
				vals.Experiment[name] = m.Value()
			}
		}
	}
	return vals
}
