package export

import (
	"context"
	"encoding/json"
	"time"

	"github.com/honeyhiveai/honeyhive-go/core"
	"github.com/honeyhiveai/honeyhive-go/internal/httpclient"
	"github.com/honeyhiveai/honeyhive-go/internal/log"
	"github.com/honeyhiveai/honeyhive-go/schema"
)

// eventSender POSTs canonical event batches to the event API.
type eventSender struct {
	http *httpclient.Client
}

func (s *eventSender) Send(ctx context.Context, batch []*schema.Event) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return core.NewError("export.events", core.ErrExportPermanent, "marshal batch", err)
	}
	return s.http.Post(ctx, "/events", "application/json", body)
}

// EventExporter ships canonical events to {server_url}/events with bearer
// auth. It never emits an event whose type is outside the canonical set;
// an unclassified event is normalized to "tool" before enqueueing.
type EventExporter struct {
	queue  *Queue[*schema.Event]
	http   *httpclient.Client
	logger *log.Logger
}

// EventExporterConfig wires an EventExporter.
type EventExporterConfig struct {
	ServerURL   string
	APIKey      string
	HTTPTimeout time.Duration
	Queue       Options
}

// NewEventExporter creates the exporter and starts its workers.
func NewEventExporter(cfg EventExporterConfig) *EventExporter {
	cfg.Queue.Mode = "events"
	client := httpclient.New(
		httpclient.WithBaseURL(cfg.ServerURL),
		httpclient.WithBearerToken(cfg.APIKey),
		httpclient.WithTimeout(cfg.HTTPTimeout),
		httpclient.WithMaxIdleConns(max(cfg.Queue.Workers, 1)),
	)
	logger := cfg.Queue.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &EventExporter{
		queue:  NewQueue[*schema.Event](&eventSender{http: client}, cfg.Queue),
		http:   client,
		logger: logger,
	}
}

// Export offers an event to the queue. It reports whether the event was
// accepted; rejections are counted as drops.
func (e *EventExporter) Export(ev *schema.Event) bool {
	if ev == nil {
		return false
	}
	if !ev.EventType.Valid() {
		e.logger.WarnOnce("events.type."+string(ev.EventType),
			"unclassified event type normalized", "event_type", string(ev.EventType))
		ev.EventType = schema.EventTypeTool
	}
	return e.queue.Enqueue(ev)
}

// SetDisabled toggles degraded mode.
func (e *EventExporter) SetDisabled(disabled bool) {
	e.queue.SetDisabled(disabled)
}

// Flush drains pending events until empty or ctx expires.
func (e *EventExporter) Flush(ctx context.Context) FlushResult {
	return e.queue.Flush(ctx)
}

// Shutdown flushes, stops the workers, and closes the HTTP client.
// Idempotent.
func (e *EventExporter) Shutdown(ctx context.Context) {
	e.queue.Shutdown(ctx)
	e.http.Close()
}

// Stats returns the exporter's counters.
func (e *EventExporter) Stats() Stats {
	return e.queue.Stats()
}
