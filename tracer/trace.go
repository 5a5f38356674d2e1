package tracer

import (
	"context"

	otelcodes "go.opentelemetry.io/otel/codes"

	"github.com/honeyhiveai/honeyhive-go/baggage"
	"github.com/honeyhiveai/honeyhive-go/schema"
)

// SetDefault marks t as the process default tracer used by Trace when no
// tracer is passed and none resolves from context.
func SetDefault(t *Tracer) {
	if t != nil {
		instances.SetDefault(t.id)
	}
}

// Default returns the process default tracer, if one is set and alive.
func Default() (*Tracer, bool) {
	return instances.Default()
}

// FromContext resolves the tracer whose id rides in the context baggage.
func FromContext(ctx context.Context) (*Tracer, bool) {
	vals := baggage.FromContext(ctx)
	if vals.TracerID == "" {
		return nil, false
	}
	return instances.Lookup(vals.TracerID)
}

// TraceOption configures a Trace invocation.
type TraceOption func(*traceConfig)

type traceConfig struct {
	tracer    *Tracer
	eventType schema.EventType
	inputs    Attrs
	config    Attrs
	metadata  Attrs
}

// WithTracer pins the tracer instead of auto-discovery.
func WithTracer(t *Tracer) TraceOption {
	return func(c *traceConfig) { c.tracer = t }
}

// WithEventType sets the event type of the wrapped span. Defaults to tool.
func WithEventType(t schema.EventType) TraceOption {
	return func(c *traceConfig) { c.eventType = t }
}

// WithInputs records the invocation arguments under inputs._params_.
func WithInputs(inputs Attrs) TraceOption {
	return func(c *traceConfig) { c.inputs = inputs }
}

// WithConfig records configuration under the config section.
func WithConfig(cfg Attrs) TraceOption {
	return func(c *traceConfig) { c.config = cfg }
}

// WithMetadata records metadata on the wrapped span.
func WithMetadata(md Attrs) TraceOption {
	return func(c *traceConfig) { c.metadata = md }
}

// Trace wraps fn in a span on the auto-discovered tracer: an explicit
// WithTracer wins, then the context-resolved tracer, then the process
// default. With no tracer available fn runs unmodified.
//
// The recorded arguments land in inputs._params_ and the return value in
// outputs.result. On error the span status is set to error with the message
// recorded, and the error is returned unchanged. Works identically for
// synchronous and goroutine-per-request callers; the context passed to fn
// carries the span and the SDK baggage for nested calls.
func Trace(ctx context.Context, name string, fn func(context.Context) (any, error), opts ...TraceOption) (any, error) {
	cfg := traceConfig{eventType: schema.EventTypeTool}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := cfg.tracer
	if t == nil {
		t, _ = FromContext(ctx)
	}
	if t == nil {
		t, _ = Default()
	}
	if t == nil {
		return fn(ctx)
	}
	return t.Trace(ctx, name, fn, opts...)
}

// Trace wraps fn in a span on this tracer. See the package-level Trace for
// recording semantics.
func (t *Tracer) Trace(ctx context.Context, name string, fn func(context.Context) (any, error), opts ...TraceOption) (any, error) {
	cfg := traceConfig{eventType: schema.EventTypeTool}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := t.StartSpan(ctx, name)
	defer span.End()

	_ = span.Enrich(Enrichment{
		EventType: cfg.eventType,
		Config:    cfg.config,
		Metadata:  cfg.metadata,
	})
	if len(cfg.inputs) > 0 {
		_ = span.Enrich(Enrichment{Inputs: Attrs{"_params_": map[string]any(cfg.inputs)}})
	}

	result, err := fn(ctx)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		span.RecordError(err)
		return result, err
	}

	if result != nil {
		_ = span.Enrich(Enrichment{Outputs: Attrs{"result": result}})
	}
	span.SetStatus(otelcodes.Ok, "")
	return result, nil
}
