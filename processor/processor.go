// Package processor implements the SDK's span processor: enrichment at span
// start from tracer-scoped baggage, and detection, extraction, and export
// dispatch at span end. Errors never cross the processor boundary into host
// code; they are logged with rate limiting and the span proceeds unaffected.
package processor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/honeyhiveai/honeyhive-go/baggage"
	"github.com/honeyhiveai/honeyhive-go/export"
	"github.com/honeyhiveai/honeyhive-go/internal/log"
	"github.com/honeyhiveai/honeyhive-go/schema"
	"github.com/honeyhiveai/honeyhive-go/ulde"
)

// InstanceInfo is the live identity of the owning tracer, supplied through
// a callback so session-id mutation before the first span is observed.
type InstanceInfo struct {
	TracerID   string
	SessionID  string
	Project    string
	Source     string
	Experiment map[string]string
	Degraded   bool
}

// Processor is an sdktrace.SpanProcessor wired to exactly one export path:
// the event API when constructed with an event exporter, OTLP otherwise.
type Processor struct {
	info   func() InstanceInfo
	engine *ulde.Engine
	events *export.EventExporter
	spans  *export.SpanExporter
	logger *log.Logger

	// onFirstSpan freezes the session id; invoked once per instance on
	// the first span start.
	onFirstSpan func()
}

// Config wires a Processor.
type Config struct {
	Info        func() InstanceInfo
	Engine      *ulde.Engine
	Events      *export.EventExporter
	Spans       *export.SpanExporter
	Logger      *log.Logger
	OnFirstSpan func()
}

// New creates a Processor.
func New(cfg Config) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Info == nil {
		cfg.Info = func() InstanceInfo { return InstanceInfo{} }
	}
	return &Processor{
		info:        cfg.Info,
		engine:      cfg.Engine,
		events:      cfg.Events,
		spans:       cfg.Spans,
		logger:      cfg.Logger,
		onFirstSpan: cfg.OnFirstSpan,
	}
}

// OnStart enriches the span with the session, project, and source resolved
// from baggage or the owning instance, mirrors the legacy attribute set,
// and records experiment context.
func (p *Processor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	defer p.recovered("on_start")

	if p.onFirstSpan != nil {
		p.onFirstSpan()
	}

	vals := baggage.FromContext(parent)
	info := p.info()

	sessionID := info.SessionID
	project := info.Project
	source := info.Source
	// A span carrying another instance's id in baggage keeps that
	// instance's identity.
	if vals.TracerID != "" && vals.TracerID != info.TracerID {
		if vals.SessionID != "" {
			sessionID = vals.SessionID
		}
		if vals.Project != "" {
			project = vals.Project
		}
		if vals.Source != "" {
			source = vals.Source
		}
	}

	kvs := make([]attribute.KeyValue, 0, 10)
	setPair := func(key, legacyShort, value string) {
		if value == "" {
			return
		}
		kvs = append(kvs,
			attribute.String(key, value),
			attribute.String(schema.AttrLegacyPrefix+legacyShort, value),
		)
	}
	setPair(schema.AttrSessionID, "session_id", sessionID)
	setPair(schema.AttrProject, "project", project)
	setPair(schema.AttrSource, "source", source)
	setPair(schema.AttrParentID, "parent_id", vals.ParentID)

	experiment := info.Experiment
	if len(vals.Experiment) > 0 {
		experiment = vals.Experiment
	}
	for k, v := range experiment {
		kvs = append(kvs, attribute.String(schema.AttrPrefixMetadata+"experiment."+k, v))
	}

	s.SetAttributes(kvs...)
}

// OnEnd classifies the span and hands it to the instance's exporter. Spans
// already processed by the pre-end hook take the fast path; third-party
// spans get read-only detection and extraction here.
func (p *Processor) OnEnd(s sdktrace.ReadOnlySpan) {
	defer p.recovered("on_end")

	attrs := AttrMap(s.Attributes())
	processed := attrs[schema.AttrProcessed] == "true"

	var can ulde.Canonical
	if !processed && p.engine != nil {
		det := p.engine.Detect(attrs)
		can = p.engine.Extract(det, attrs)
	}

	if p.events != nil {
		p.events.Export(p.buildEvent(s, attrs, can, processed))
		return
	}
	if p.spans != nil {
		var extra []attribute.KeyValue
		if !processed {
			typ := DetectEventType(s.Name(), attrs)
			extra = FlattenCanonical(can)
			extra = append(extra,
				attribute.String(schema.AttrEventType, string(typ)),
				attribute.String(schema.AttrProcessed, "true"),
				attribute.String(schema.AttrSchemaVersion, schema.SchemaVersion),
			)
		}
		p.spans.Export(s, extra)
	}
}

// Shutdown flushes and stops the wired exporter. Safe to call multiple
// times; the tracer's own shutdown path reaches the same idempotent
// exporter shutdown.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p.events != nil {
		p.events.Shutdown(ctx)
	}
	if p.spans != nil {
		p.spans.Shutdown(ctx)
	}
	return nil
}

// ForceFlush drains the wired exporter until empty or ctx expires.
func (p *Processor) ForceFlush(ctx context.Context) error {
	if p.events != nil {
		p.events.Flush(ctx)
	}
	if p.spans != nil {
		p.spans.Flush(ctx)
	}
	return nil
}

func (p *Processor) recovered(op string) {
	if rec := recover(); rec != nil {
		p.logger.WarnRateLimited("processor."+op, time.Minute,
			"span processing error suppressed", "op", op, "error", rec)
	}
}

// buildEvent assembles the canonical event from the span snapshot plus
// either the freshly extracted sections or, on the fast path, the
// canonical attributes already on the span.
func (p *Processor) buildEvent(s sdktrace.ReadOnlySpan, attrs map[string]any, can ulde.Canonical, processed bool) *schema.Event {
	info := p.info()

	typ := DetectEventType(s.Name(), attrs)
	ev := schema.NewEvent(s.Name(), typ)

	ev.SessionID = stringAttr(attrs, schema.AttrSessionID, info.SessionID)
	ev.ProjectID = stringAttr(attrs, schema.AttrProject, info.Project)
	ev.Source = stringAttr(attrs, schema.AttrSource, info.Source)
	if parent := stringAttr(attrs, schema.AttrParentID, ""); parent != "" {
		ev.ParentID = &parent
	}

	ev.StartTime = s.StartTime().UnixMilli()
	ev.EndTime = s.EndTime().UnixMilli()
	ev.Duration = ev.EndTime - ev.StartTime

	if processed {
		ev.Inputs = SectionFromAttrs(attrs, schema.AttrPrefixInputs)
		ev.Outputs = SectionFromAttrs(attrs, schema.AttrPrefixOutputs)
		ev.Config = SectionFromAttrs(attrs, schema.AttrPrefixConfig)
		ev.Metadata = SectionFromAttrs(attrs, schema.AttrPrefixMetadata)
	} else {
		ev.Inputs = nonEmpty(can.Inputs)
		ev.Outputs = nonEmpty(can.Outputs)
		ev.Config = nonEmpty(can.Config)
		ev.Metadata = nonEmpty(can.Metadata)
		// Enrichment sections written via EnrichSpan ride on attributes
		// regardless of processing path.
		for k, v := range SectionFromAttrs(attrs, schema.AttrPrefixMetadata) {
			ev.EnsureMetadata()[k] = v
		}
	}
	ev.Feedback = SectionFromAttrs(attrs, schema.AttrPrefixFeedback)
	ev.Metrics = SectionFromAttrs(attrs, schema.AttrPrefixMetrics)
	ev.UserProperties = SectionFromAttrs(attrs, schema.AttrPrefixUserProps)

	scope := s.InstrumentationScope()
	if scope.Name != "" {
		ev.EnsureMetadata()["scope"] = map[string]any{
			"name":    scope.Name,
			"version": scope.Version,
		}
	}
	if info.Degraded {
		ev.EnsureMetadata()["degraded"] = true
	}

	if status := s.Status(); status.Code == codes.Error {
		ev.SetError(status.Description)
	}

	return ev
}

func nonEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func stringAttr(attrs map[string]any, key, fallback string) string {
	if v, ok := attrs[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// AttrMap converts an attribute slice to a plain map for detection and
// extraction.
func AttrMap(kvs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

// modelIndicators are attribute keys or key prefixes whose presence marks a
// model event. Every entry is matched as a key prefix.
var modelIndicators = [...]string{
	"gen_ai.request.",
	"llm.model_name",
	"openlit.model",
}

// chain, tool, and session keywords for the span-name heuristics.
var (
	chainKeywords   = [...]string{"chain", "workflow", "pipeline"}
	toolKeywords    = [...]string{"tool", "function", "api", "search"}
	sessionKeywords = [...]string{"session"}
)

// DetectEventType resolves the event type with fixed precedence: the
// explicit honeyhive_event_type attribute, then model-indicative attribute
// keys, then case-insensitive span-name keywords, then "tool". No regex on
// this path.
func DetectEventType(name string, attrs map[string]any) schema.EventType {
	if v, ok := attrs[schema.AttrEventType].(string); ok {
		if t := schema.EventType(v); t.Valid() {
			return t
		}
	}

	for key := range attrs {
		for _, ind := range modelIndicators {
			if key == ind || strings.HasPrefix(key, ind) {
				return schema.EventTypeModel
			}
		}
	}

	lower := strings.ToLower(name)
	for _, kw := range chainKeywords {
		if strings.Contains(lower, kw) {
			return schema.EventTypeChain
		}
	}
	for _, kw := range sessionKeywords {
		if strings.Contains(lower, kw) {
			return schema.EventTypeSession
		}
	}
	for _, kw := range toolKeywords {
		if strings.Contains(lower, kw) {
			return schema.EventTypeTool
		}
	}
	return schema.EventTypeTool
}

// FlattenCanonical converts extracted sections into canonical span
// attributes. Scalars pass through; lists and objects are JSON-encoded
// because the transport forbids nested attribute values.
func FlattenCanonical(can ulde.Canonical) []attribute.KeyValue {
	var out []attribute.KeyValue
	flatten := func(prefix string, section map[string]any) {
		for k, v := range section {
			out = append(out, FlattenValue(prefix+k, v))
		}
	}
	flatten(schema.AttrPrefixInputs, can.Inputs)
	flatten(schema.AttrPrefixOutputs, can.Outputs)
	flatten(schema.AttrPrefixConfig, can.Config)
	flatten(schema.AttrPrefixMetadata, can.Metadata)
	return out
}

// FlattenValue converts one canonical value into a span attribute.
func FlattenValue(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return attribute.String(key, "")
		}
		return attribute.String(key, string(data))
	}
}

// SectionFromAttrs rebuilds a canonical section from prefixed span
// attributes, decoding JSON-encoded composite values so an OTLP round trip
// restores equivalent structures.
func SectionFromAttrs(attrs map[string]any, prefix string) map[string]any {
	var out map[string]any
	for k, v := range attrs {
		name, ok := strings.CutPrefix(k, prefix)
		if !ok || name == "" {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[name] = decodeMaybeJSON(v)
	}
	return out
}

// decodeMaybeJSON decodes strings that carry a JSON object or array;
// everything else passes through untouched.
func decodeMaybeJSON(v any) any {
	s, ok := v.(string)
	if !ok || len(s) == 0 {
		return v
	}
	if s[0] != '{' && s[0] != '[' {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return v
	}
	return parsed
}
