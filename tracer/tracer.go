// Package tracer is the public facade of the HoneyHive SDK: tracer
// construction and lifecycle, span creation with the pre-end hook,
// enrichment, the Trace function wrapper, and coexistence with other
// tracing providers in the host process.
package tracer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.38.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/honeyhiveai/honeyhive-go/api"
	"github.com/honeyhiveai/honeyhive-go/baggage"
	"github.com/honeyhiveai/honeyhive-go/bundle"
	"github.com/honeyhiveai/honeyhive-go/cache"
	"github.com/honeyhiveai/honeyhive-go/config"
	"github.com/honeyhiveai/honeyhive-go/core"
	"github.com/honeyhiveai/honeyhive-go/export"
	"github.com/honeyhiveai/honeyhive-go/internal/log"
	"github.com/honeyhiveai/honeyhive-go/processor"
	"github.com/honeyhiveai/honeyhive-go/registry"
	"github.com/honeyhiveai/honeyhive-go/ulde"
)

const (
	scopeName = "github.com/honeyhiveai/honeyhive-go"

	warnInterval = time.Minute

	// defaultShutdownTimeout bounds Shutdown when the caller's context
	// carries no deadline.
	defaultShutdownTimeout = 10 * time.Second
)

// instances tracks live tracers for decorator auto-discovery. Weak-valued:
// the registry never keeps a tracer alive.
var instances = registry.New[Tracer]()

// Tracer is a HoneyHive tracer instance. Multiple instances coexist in one
// process, each owning its exporters, cache, and session identity.
type Tracer struct {
	id     string
	cfg    config.Config
	logger *log.Logger

	cache    *cache.Cache
	engine   *ulde.Engine
	proc     *processor.Processor
	provider *interceptProvider
	sdk      *sdktrace.TracerProvider
	otel     trace.Tracer
	noop     trace.Tracer

	events   *export.EventExporter
	spans    *export.SpanExporter
	sessions api.Sessions

	mu            sync.Mutex
	sessionID     string
	sessionName   string
	sessionFrozen bool

	degraded atomic.Bool
	isGlobal bool
	stopped  atomic.Bool
}

// Option configures New beyond the Config struct.
type Option func(*newOptions)

type newOptions struct {
	sessions api.Sessions
	logger   *log.Logger
	loader   *bundle.Loader
}

// WithSessionClient overrides the session API client. Used by tests and by
// hosts that route session creation through their own transport.
func WithSessionClient(s api.Sessions) Option {
	return func(o *newOptions) { o.sessions = s }
}

// WithLogger overrides the SDK logger.
func WithLogger(l *log.Logger) Option {
	return func(o *newOptions) { o.logger = l }
}

// WithBundleLoader overrides the rule-bundle loader.
func WithBundleLoader(l *bundle.Loader) Option {
	return func(o *newOptions) { o.loader = l }
}

// New creates and initializes a Tracer: cache, rule bundle, discovery
// engine, exporters, provider setup, registry registration, and session
// creation, in that order.
//
// A configuration problem returns a non-nil error together with a usable
// tracer running in degraded mode: spans are created and enriched, but
// nothing is exported. The caller decides whether to fail or continue.
func New(cfg config.Config, opts ...Option) (*Tracer, error) {
	cfg.ApplyDefaults()

	var o newOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		if cfg.Verbose {
			logger = log.New(log.WithVerbose())
		} else {
			logger = log.New()
		}
	}

	t := &Tracer{
		id:          uuid.NewString(),
		cfg:         cfg,
		logger:      logger,
		sessionID:   cfg.SessionID,
		sessionName: cfg.SessionName,
		noop:        tracenoop.NewTracerProvider().Tracer(scopeName),
	}
	if t.sessionName == "" {
		t.sessionName = cfg.Project
	}

	cfgErr := cfg.Validate()
	if cfgErr != nil {
		t.degraded.Store(true)
		logger.Warn("configuration invalid; tracer running degraded", "error", cfgErr)
	}

	if cfg.DisableTracing {
		// A disabled tracer keeps the full facade but creates no-op spans
		// and owns no background work.
		t.otel = t.noop
		instances.Register(t.id, t)
		return t, cfgErr
	}

	// Cache before the bundle: compiled extractors land in it.
	t.cache = cache.New(
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithTTL(cfg.CacheTTL),
	)

	loader := o.loader
	if loader == nil {
		loader = bundle.NewLoader()
	}
	b, err := loader.Load()
	if err != nil {
		// Detection is disabled but enrichment still works.
		logger.Warn("rule bundle unavailable; detection disabled", "error", err)
		b = nil
	}
	t.engine = ulde.NewEngine(b, t.cache, logger)

	queueOpts := export.Options{
		Capacity:         cfg.QueueCapacity,
		BatchSize:        cfg.MaxBatchSize,
		BatchDelay:       cfg.MaxBatchDelay(),
		Workers:          cfg.WorkerCount,
		DisableBatch:     cfg.DisableBatch,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		RetryBase:        cfg.RetryBase(),
		RetryCap:         cfg.RetryCap(),
		Logger:           logger,
	}
	if cfg.OTLPEnabled {
		t.spans = export.NewSpanExporter(export.SpanExporterConfig{
			ServerURL:   cfg.ServerURL,
			APIKey:      cfg.APIKey,
			Project:     cfg.Project,
			Source:      cfg.Source,
			HTTPTimeout: cfg.HTTPTimeout(),
			Queue:       queueOpts,
		})
	} else {
		t.events = export.NewEventExporter(export.EventExporterConfig{
			ServerURL:   cfg.ServerURL,
			APIKey:      cfg.APIKey,
			HTTPTimeout: cfg.HTTPTimeout(),
			Queue:       queueOpts,
		})
	}
	t.setExportersDisabled(t.degraded.Load())

	t.proc = processor.New(processor.Config{
		Info:        t.instanceInfo,
		Engine:      t.engine,
		Events:      t.events,
		Spans:       t.spans,
		Logger:      logger,
		OnFirstSpan: t.freezeSession,
	})

	res, resErr := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.Project),
		),
	)
	if resErr != nil {
		res = resource.Default()
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(t.proc),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if cfg.Verbose {
		if dump, err := stdouttrace.New(stdouttrace.WithPrettyPrint()); err == nil {
			tpOpts = append(tpOpts, sdktrace.WithSyncer(dump))
		}
	}
	t.sdk = sdktrace.NewTracerProvider(tpOpts...)
	t.provider = newInterceptProvider(t.sdk, t.id)
	t.otel = t.provider.Tracer(scopeName)

	t.isGlobal = setupGlobalProvider(t.provider, t.id, logger)

	instances.Register(t.id, t)

	t.sessions = o.sessions
	if t.sessions == nil {
		t.sessions = api.NewClient(
			api.WithServerURL(cfg.ServerURL),
			api.WithAPIKey(cfg.APIKey),
			api.WithTimeout(cfg.HTTPTimeout()),
		)
	}
	t.startSession()

	return t, cfgErr
}

// startSession creates the backend session unless one was preset. Failure
// degrades the tracer: it keeps working locally with a client-side session
// id, and its events are tagged and withheld from export.
func (t *Tracer) startSession() {
	t.mu.Lock()
	preset := t.sessionID
	name := t.sessionName
	t.mu.Unlock()

	if preset != "" {
		return
	}
	if t.degraded.Load() {
		t.setSessionID(uuid.NewString())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HTTPTimeout())
	defer cancel()
	resp, err := t.sessions.Start(ctx, api.SessionStartRequest{
		Project:     t.cfg.Project,
		SessionName: name,
		Source:      t.cfg.Source,
	})
	if err != nil {
		t.logger.Warn("session creation failed; tracer running degraded", "error", err)
		t.degraded.Store(true)
		t.setExportersDisabled(true)
		t.setSessionID(uuid.NewString())
		return
	}
	t.setSessionID(resp.SessionID)
}

func (t *Tracer) setSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sessionFrozen {
		t.sessionID = id
	}
}

// freezeSession pins the session id on the first span start.
func (t *Tracer) freezeSession() {
	t.mu.Lock()
	t.sessionFrozen = true
	t.mu.Unlock()
}

// ID returns the tracer's stable instance id.
func (t *Tracer) ID() string {
	return t.id
}

// SessionID returns the current session id.
func (t *Tracer) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SetSessionID replaces the session id. It fails once the first span has
// started.
func (t *Tracer) SetSessionID(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionFrozen {
		return core.NewError("tracer.session", core.ErrConfigInvalid,
			"session id is immutable after the first span", nil)
	}
	t.sessionID = id
	return nil
}

// SetSessionName overrides the session display name used when the backend
// session is created. It has no effect once the session exists.
func (t *Tracer) SetSessionName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionName = name
}

// Degraded reports whether the tracer is withholding export.
func (t *Tracer) Degraded() bool {
	return t.degraded.Load()
}

// IsMainProvider reports whether this instance installed itself as the
// process's global tracer provider.
func (t *Tracer) IsMainProvider() bool {
	return t.isGlobal
}

// TracerProvider exposes the instance's provider for hosts that hand it to
// third-party instrumentors directly.
func (t *Tracer) TracerProvider() trace.TracerProvider {
	if t.provider == nil {
		return tracenoop.NewTracerProvider()
	}
	return t.provider
}

func (t *Tracer) setExportersDisabled(disabled bool) {
	if t.events != nil {
		t.events.SetDisabled(disabled)
	}
	if t.spans != nil {
		t.spans.SetDisabled(disabled)
	}
}

// instanceInfo feeds the span processor the live instance identity.
func (t *Tracer) instanceInfo() processor.InstanceInfo {
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()
	return processor.InstanceInfo{
		TracerID:   t.id,
		SessionID:  sessionID,
		Project:    t.cfg.Project,
		Source:     t.cfg.Source,
		Experiment: t.cfg.Experiment(),
		Degraded:   t.degraded.Load(),
	}
}

// baggageValues returns the instance's baggage set.
func (t *Tracer) baggageValues() baggage.Values {
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()
	return baggage.Values{
		SessionID:  sessionID,
		Project:    t.cfg.Project,
		Source:     t.cfg.Source,
		TracerID:   t.id,
		Experiment: t.cfg.Experiment(),
	}
}

// ensureBaggage guarantees the context carries this instance's baggage.
// Foreign baggage from another live instance is left untouched.
func (t *Tracer) ensureBaggage(ctx context.Context) context.Context {
	vals := baggage.FromContext(ctx)
	if vals.TracerID != "" {
		return ctx
	}
	return baggage.ContextWith(ctx, t.baggageValues())
}

// StartSpan creates a span through the intercepted path: instance baggage
// on the context, enrichment at start, and the pre-end hook on End.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	if t.stopped.Load() || t.otel == nil {
		ctx, raw := t.noop.Start(ctx, name)
		return ctx, &Span{raw: raw}
	}

	ctx, sp := t.otel.Start(ctx, name, opts...)
	if hook, ok := sp.(*hookSpan); ok {
		return ctx, &Span{hook: hook}
	}
	return ctx, &Span{raw: sp}
}

// EnrichSpan writes canonical sections onto an open span. It fails if the
// span already ended.
func (t *Tracer) EnrichSpan(span *Span, e Enrichment) error {
	if span == nil {
		return core.NewError("tracer.enrich", core.ErrConfigInvalid, "nil span", nil)
	}
	return span.Enrich(e)
}

// Flush drains this instance's exporters until empty or the deadline
// passes, returning aggregate counts.
func (t *Tracer) Flush(ctx context.Context) export.FlushResult {
	if t.stopped.Load() {
		return export.FlushResult{}
	}
	var res export.FlushResult
	if t.events != nil {
		r := t.events.Flush(ctx)
		res.Flushed += r.Flushed
		res.Dropped += r.Dropped
		res.Cancelled += r.Cancelled
	}
	if t.spans != nil {
		r := t.spans.Flush(ctx)
		res.Flushed += r.Flushed
		res.Dropped += r.Dropped
		res.Cancelled += r.Cancelled
	}
	return res
}

// Stats returns the aggregate exporter counters.
func (t *Tracer) Stats() export.Stats {
	var s export.Stats
	add := func(x export.Stats) {
		s.Enqueued += x.Enqueued
		s.Exported += x.Exported
		s.Dropped += x.Dropped
		s.Failed += x.Failed
		s.Retries += x.Retries
		s.Cancelled += x.Cancelled
	}
	if t.events != nil {
		add(t.events.Stats())
	}
	if t.spans != nil {
		add(t.spans.Stats())
	}
	return s
}

// Shutdown flushes with a bounded deadline, stops exporters and workers,
// closes clients, deregisters the instance, and clears the cache.
// Idempotent: the second call returns the shutdown sentinel and does
// nothing. After return, no further background work is scheduled.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.stopped.Swap(true) {
		return core.NewError("tracer.shutdown", core.ErrShutdown, "already shut down", nil)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}

	if t.sdk != nil {
		// Provider shutdown reaches the processor, which flushes and
		// stops the wired exporter.
		_ = t.sdk.Shutdown(ctx)
	}
	if closer, ok := t.sessions.(interface{ Close() }); ok && closer != nil {
		closer.Close()
	}
	releaseGlobalOwner(t.id)
	instances.Unregister(t.id)
	if t.cache != nil {
		t.cache.Clear()
	}
	return nil
}
