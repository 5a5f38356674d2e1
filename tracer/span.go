package tracer

import (
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeyhiveai/honeyhive-go/core"
	"github.com/honeyhiveai/honeyhive-go/processor"
	"github.com/honeyhiveai/honeyhive-go/schema"
)

// hookSpan wraps a live OTel span with an attribute mirror and a pre-end
// hook. OTel spans are write-only, so every attribute written through this
// wrapper is mirrored locally; the hook reads the mirror while the span is
// still mutable, writes the canonical attribute set, and only then ends the
// underlying span.
type hookSpan struct {
	trace.Span

	name  string
	owner *Tracer

	mu     sync.Mutex
	mirror map[string]any
	ended  bool
}

func newHookSpan(inner trace.Span, name string, owner *Tracer) *hookSpan {
	return &hookSpan{
		Span:   inner,
		name:   name,
		owner:  owner,
		mirror: make(map[string]any),
	}
}

// SetAttributes mirrors the attributes locally and forwards them to the
// underlying span. Writes after End are dropped.
func (h *hookSpan) SetAttributes(kvs ...attribute.KeyValue) {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		return
	}
	for _, kv := range kvs {
		h.mirror[string(kv.Key)] = kv.Value.AsInterface()
	}
	h.mu.Unlock()
	h.Span.SetAttributes(kvs...)
}

// End runs the pre-end hook exactly once, then ends the underlying span.
// The hook never panics into the caller; a failing detection or extraction
// leaves the span to end unprocessed.
func (h *hookSpan) End(opts ...trace.SpanEndOption) {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		return
	}
	h.ended = true
	snapshot := make(map[string]any, len(h.mirror))
	for k, v := range h.mirror {
		snapshot[k] = v
	}
	h.mu.Unlock()

	h.preEnd(snapshot)
	h.Span.End(opts...)
}

func (h *hookSpan) preEnd(attrs map[string]any) {
	defer func() {
		if rec := recover(); rec != nil && h.owner != nil {
			h.owner.logger.WarnRateLimited("span.pre_end", warnInterval,
				"pre-end hook error suppressed", "span", h.name, "error", rec)
		}
	}()
	if h.owner == nil {
		return
	}

	engine := h.owner.engine
	kvs := make([]attribute.KeyValue, 0, 8)
	if engine != nil && engine.Ready() {
		det := engine.Detect(attrs)
		can := engine.Extract(det, attrs)
		kvs = append(kvs, processor.FlattenCanonical(can)...)
	}
	kvs = append(kvs,
		attribute.String(schema.AttrEventType, string(processor.DetectEventType(h.name, attrs))),
		attribute.String(schema.AttrProcessed, "true"),
		attribute.String(schema.AttrSchemaVersion, schema.SchemaVersion),
	)
	h.Span.SetAttributes(kvs...)
}

// Attrs is a convenience alias for span attribute maps.
type Attrs map[string]any

// Enrichment carries typed canonical sections for EnrichSpan. Every section
// is optional; list and object values are JSON-encoded onto the span.
type Enrichment struct {
	EventType      schema.EventType
	Inputs         Attrs
	Outputs        Attrs
	Config         Attrs
	Metadata       Attrs
	Feedback       Attrs
	Metrics        Attrs
	UserProperties Attrs
	Error          string
}

// Span is the public span handle returned by StartSpan. It adapts the
// hooked OTel span to a map-based attribute API.
type Span struct {
	hook *hookSpan
	raw  trace.Span
}

// otelSpan returns the underlying writable span.
func (s *Span) otelSpan() trace.Span {
	if s.hook != nil {
		return s.hook
	}
	return s.raw
}

// End finishes the span, running the pre-end hook.
func (s *Span) End() {
	s.otelSpan().End()
}

// SetAttributes adds key-value attributes to the span.
func (s *Span) SetAttributes(attrs Attrs) {
	s.otelSpan().SetAttributes(attrsToKVs("", attrs)...)
}

// RecordError records err on the span without setting its status.
func (s *Span) RecordError(err error) {
	s.otelSpan().RecordError(err)
}

// SetStatus sets the span's status code and message.
func (s *Span) SetStatus(code otelcodes.Code, msg string) {
	s.otelSpan().SetStatus(code, msg)
}

// SpanContext returns the span's trace identity.
func (s *Span) SpanContext() trace.SpanContext {
	return s.otelSpan().SpanContext()
}

// Enrich writes canonical sections onto the span in place. It fails with a
// shutdown sentinel once the span has ended.
func (s *Span) Enrich(e Enrichment) error {
	if s.hook != nil {
		s.hook.mu.Lock()
		ended := s.hook.ended
		s.hook.mu.Unlock()
		if ended {
			return core.NewError("span.enrich", core.ErrShutdown, "span already ended", nil)
		}
	}

	var kvs []attribute.KeyValue
	if e.EventType != "" && e.EventType.Valid() {
		kvs = append(kvs, attribute.String(schema.AttrEventType, string(e.EventType)))
	}
	kvs = append(kvs, attrsToKVs(schema.AttrPrefixInputs, e.Inputs)...)
	kvs = append(kvs, attrsToKVs(schema.AttrPrefixOutputs, e.Outputs)...)
	kvs = append(kvs, attrsToKVs(schema.AttrPrefixConfig, e.Config)...)
	kvs = append(kvs, attrsToKVs(schema.AttrPrefixMetadata, e.Metadata)...)
	kvs = append(kvs, attrsToKVs(schema.AttrPrefixFeedback, e.Feedback)...)
	kvs = append(kvs, attrsToKVs(schema.AttrPrefixMetrics, e.Metrics)...)
	kvs = append(kvs, attrsToKVs(schema.AttrPrefixUserProps, e.UserProperties)...)
	if len(kvs) > 0 {
		s.otelSpan().SetAttributes(kvs...)
	}
	if e.Error != "" {
		s.otelSpan().SetStatus(otelcodes.Error, e.Error)
	}
	return nil
}

// attrsToKVs converts a section map into span attributes, JSON-encoding
// composite values.
func attrsToKVs(prefix string, attrs Attrs) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, processor.FlattenValue(prefix+k, v))
	}
	return kvs
}
