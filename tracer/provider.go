package tracer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"

	"github.com/honeyhiveai/honeyhive-go/internal/log"
)

// Global provider coordination. The global tracer provider is mutated at
// most once per process, under this lock, and never downgraded afterwards.
var (
	globalMu    sync.Mutex
	globalOwner string
)

// setupGlobalProvider decides, atomically, whether this instance becomes the
// process's tracing provider ("main provider") or attaches alongside an
// existing functioning one ("independent provider"). Returns true when the
// instance was installed globally.
func setupGlobalProvider(p trace.TracerProvider, tracerID string, logger *log.Logger) bool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalOwner != "" {
		logger.Debug("global provider already owned; attaching as independent provider",
			"owner", globalOwner)
		return false
	}

	current := otel.GetTracerProvider()
	if isFunctioningProvider(current) {
		logger.Debug("existing tracer provider detected; attaching as independent provider")
		return false
	}

	otel.SetTracerProvider(p)
	globalOwner = tracerID
	logger.Debug("installed as global tracer provider", "tracer_id", tracerID)
	return true
}

// releaseGlobalOwner clears ownership when the owning instance shuts down.
// The provider itself stays installed; a no-op swap at shutdown would race
// with host instrumentation already holding tracers.
func releaseGlobalOwner(tracerID string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalOwner == tracerID {
		globalOwner = ""
	}
}

// isFunctioningProvider reports whether tp is a real span-producing
// provider rather than the default no-op or an uninitialized delegator.
// Real providers expose a lifecycle; the SDK's own types are recognized
// directly.
func isFunctioningProvider(tp trace.TracerProvider) bool {
	switch tp.(type) {
	case *sdktrace.TracerProvider, *interceptProvider:
		return true
	}
	type lifecycle interface {
		Shutdown(context.Context) error
	}
	_, ok := tp.(lifecycle)
	return ok
}

// resetGlobalForTest restores the pristine provider state. Test-only.
func resetGlobalForTest() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalOwner = ""
}

// interceptProvider wraps the instance's SDK provider so every tracer it
// hands out produces spans with the pre-end hook installed. It holds the
// tracer id, not the tracer: resolution goes through the registry at span
// time, keeping the provider free of an owning back-reference.
type interceptProvider struct {
	embedded.TracerProvider

	inner    *sdktrace.TracerProvider
	tracerID string
}

func newInterceptProvider(inner *sdktrace.TracerProvider, tracerID string) *interceptProvider {
	return &interceptProvider{inner: inner, tracerID: tracerID}
}

// Tracer returns an intercepting tracer over the underlying SDK tracer.
func (p *interceptProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return &interceptTracer{
		inner:    p.inner.Tracer(name, opts...),
		tracerID: p.tracerID,
	}
}

// Shutdown stops the underlying SDK provider.
func (p *interceptProvider) Shutdown(ctx context.Context) error {
	return p.inner.Shutdown(ctx)
}

// ForceFlush flushes the underlying SDK provider.
func (p *interceptProvider) ForceFlush(ctx context.Context) error {
	return p.inner.ForceFlush(ctx)
}

// interceptTracer wraps span creation: it guarantees instance baggage on
// the context and installs the pre-end hook on every span it starts.
type interceptTracer struct {
	embedded.Tracer

	inner    trace.Tracer
	tracerID string
}

// Start creates the underlying span and wraps it with the attribute mirror
// and pre-end hook. When the owning tracer is no longer alive the span
// passes through unhooked.
func (it *interceptTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	owner, ok := instances.Lookup(it.tracerID)
	if ok {
		ctx = owner.ensureBaggage(ctx)
	}

	ctx, inner := it.inner.Start(ctx, name, opts...)
	if !ok {
		return ctx, inner
	}

	hook := newHookSpan(inner, name, owner)
	return trace.ContextWithSpan(ctx, hook), hook
}
