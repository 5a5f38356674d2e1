// Package export ships completed spans to the HoneyHive backend over one of
// two paths: OTLP/HTTP trace export or the canonical event API. Both share
// the same bounded-queue machinery: a fixed worker pool, batch assembly,
// exponential backoff with full jitter, drop accounting, deadline-bound
// flush, and idempotent shutdown.
package export

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stats is a snapshot of an exporter's counters.
type Stats struct {
	// Enqueued counts items accepted onto the queue.
	Enqueued uint64

	// Exported counts items delivered to the backend.
	Exported uint64

	// Dropped counts items rejected at enqueue: queue full, exporter
	// disabled, or post-shutdown.
	Dropped uint64

	// Failed counts items abandoned after retries were exhausted or a
	// permanent error was returned.
	Failed uint64

	// Retries counts individual retry attempts.
	Retries uint64

	// Cancelled counts in-flight items abandoned by a flush or shutdown
	// deadline.
	Cancelled uint64
}

// counters is the live atomic form of Stats.
type counters struct {
	enqueued  atomic.Uint64
	exported  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
	cancelled atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Enqueued:  c.enqueued.Load(),
		Exported:  c.exported.Load(),
		Dropped:   c.dropped.Load(),
		Failed:    c.failed.Load(),
		Retries:   c.retries.Load(),
		Cancelled: c.cancelled.Load(),
	}
}

// meter holds the package-level OTel meter. Instruments are no-ops unless
// the host application installs a meter provider.
var meter metric.Meter

// Pre-registered SDK self-observability instruments.
var (
	exportedCounter metric.Int64Counter
	droppedCounter  metric.Int64Counter
	retryCounter    metric.Int64Counter

	meterOnce sync.Once
)

func init() {
	meter = otel.Meter("github.com/honeyhiveai/honeyhive-go/export")
}

// initInstruments lazily creates the metric instruments so callers can
// configure the meter provider before first use.
func initInstruments() {
	meterOnce.Do(func() {
		exportedCounter, _ = meter.Int64Counter(
			"honeyhive.export.exported",
			metric.WithDescription("Spans or events delivered to the backend"),
			metric.WithUnit("{item}"),
		)
		droppedCounter, _ = meter.Int64Counter(
			"honeyhive.export.dropped",
			metric.WithDescription("Spans or events dropped before or after send"),
			metric.WithUnit("{item}"),
		)
		retryCounter, _ = meter.Int64Counter(
			"honeyhive.export.retries",
			metric.WithDescription("Export retry attempts"),
			metric.WithUnit("{attempt}"),
		)
	})
}

func recordExported(ctx context.Context, mode string, n int) {
	if exportedCounter != nil {
		exportedCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("mode", mode)))
	}
}

func recordDropped(ctx context.Context, mode, reason string, n int) {
	if droppedCounter != nil {
		droppedCounter.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("reason", reason),
		))
	}
}

func recordRetry(ctx context.Context, mode string) {
	if retryCounter != nil {
		retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	}
}
