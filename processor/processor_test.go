package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeyhiveai/honeyhive-go/baggage"
	"github.com/honeyhiveai/honeyhive-go/bundle"
	"github.com/honeyhiveai/honeyhive-go/cache"
	"github.com/honeyhiveai/honeyhive-go/export"
	"github.com/honeyhiveai/honeyhive-go/internal/log"
	"github.com/honeyhiveai/honeyhive-go/schema"
	"github.com/honeyhiveai/honeyhive-go/ulde"
)

const testSessionID = "4a8b6c2d-3e5f-4a7b-8c9d-1e2f3a4b5c6d"

// eventCollector is an httptest backend accumulating posted events.
type eventCollector struct {
	mu     sync.Mutex
	events []map[string]any
	srv    *httptest.Server
}

func newEventCollector() *eventCollector {
	c := &eventCollector{}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []map[string]any
		json.NewDecoder(r.Body).Decode(&batch)
		c.mu.Lock()
		c.events = append(c.events, batch...)
		c.mu.Unlock()
	}))
	return c
}

func (c *eventCollector) all() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.events...)
}

func newEngine(t *testing.T) *ulde.Engine {
	t.Helper()
	b, err := bundle.Load()
	if err != nil {
		t.Fatal(err)
	}
	return ulde.NewEngine(b, cache.New(cache.WithMaxEntries(100)), log.Nop())
}

// pipeline builds a provider with a Processor wired to an event exporter.
func pipeline(t *testing.T) (*eventCollector, *sdktrace.TracerProvider, *export.EventExporter) {
	t.Helper()
	collector := newEventCollector()

	exp := export.NewEventExporter(export.EventExporterConfig{
		ServerURL:   collector.srv.URL,
		APIKey:      "k",
		HTTPTimeout: time.Second,
		Queue:       export.Options{Capacity: 64, DisableBatch: true, Workers: 1},
	})

	proc := New(Config{
		Info: func() InstanceInfo {
			return InstanceInfo{
				TracerID:  "tr-test",
				SessionID: testSessionID,
				Project:   "proj",
				Source:    "test",
			}
		},
		Engine: newEngine(t),
		Events: exp,
		Logger: log.Nop(),
	})
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		collector.srv.Close()
	})
	return collector, tp, exp
}

// A third-party instrumentor span: detection and extraction run read-only
// at span end and the canonical event carries the extracted sections.
func TestOnEnd_ThirdPartySpanExtracted(t *testing.T) {
	collector, tp, exp := pipeline(t)

	tr := tp.Tracer("traceloop")
	_, span := tr.Start(context.Background(), "ChatCompletion")
	span.SetAttributes(
		attribute.String("gen_ai.system", "openai"),
		attribute.String("gen_ai.request.model", "gpt-4o"),
		attribute.Float64("gen_ai.request.temperature", 0.7),
		attribute.String("gen_ai.prompt.0.role", "system"),
		attribute.String("gen_ai.prompt.0.content", "You are helpful."),
		attribute.String("gen_ai.prompt.1.role", "user"),
		attribute.String("gen_ai.prompt.1.content", "2+2?"),
		attribute.String("gen_ai.completion.0.role", "assistant"),
		attribute.String("gen_ai.completion.0.content", "4"),
		attribute.String("gen_ai.completion.0.finish_reason", "stop"),
		attribute.Int("gen_ai.usage.prompt_tokens", 10),
		attribute.Int("gen_ai.usage.completion_tokens", 1),
		attribute.Int("gen_ai.usage.total_tokens", 11),
	)
	span.End()
	exp.Flush(context.Background())

	events := collector.all()
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]

	if ev["event_type"] != "model" {
		t.Errorf("event_type = %v", ev["event_type"])
	}
	if ev["event_name"] != "ChatCompletion" {
		t.Errorf("event_name = %v", ev["event_name"])
	}
	if ev["session_id"] != testSessionID {
		t.Errorf("session_id = %v", ev["session_id"])
	}
	if ev["project_id"] != "proj" || ev["source"] != "test" {
		t.Errorf("project/source = %v/%v", ev["project_id"], ev["source"])
	}

	cfg := ev["config"].(map[string]any)
	if cfg["provider"] != "openai" || cfg["model"] != "gpt-4o" || cfg["temperature"] != 0.7 {
		t.Errorf("config = %v", cfg)
	}

	inputs := ev["inputs"].(map[string]any)
	history := inputs["chat_history"].([]any)
	if len(history) != 2 {
		t.Fatalf("chat_history = %v", history)
	}
	first := history[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "You are helpful." {
		t.Errorf("history[0] = %v", first)
	}

	outputs := ev["outputs"].(map[string]any)
	if outputs["content"] != "4" || outputs["role"] != "assistant" || outputs["finish_reason"] != "stop" {
		t.Errorf("outputs = %v", outputs)
	}

	md := ev["metadata"].(map[string]any)
	if md["prompt_tokens"] != float64(10) || md["completion_tokens"] != float64(1) || md["total_tokens"] != float64(11) {
		t.Errorf("metadata tokens = %v", md)
	}

	// Event identity invariants.
	if !schema.IsUUID(ev["event_id"].(string)) {
		t.Errorf("event_id not a UUID: %v", ev["event_id"])
	}
	if ev["event_id"] == ev["session_id"] {
		t.Error("event_id must differ from session_id")
	}
	start := int64(ev["start_time"].(float64))
	end := int64(ev["end_time"].(float64))
	dur := int64(ev["duration"].(float64))
	if dur != end-start || dur < 0 {
		t.Errorf("duration %d != end-start %d", dur, end-start)
	}
}

// The fast path: a span already carrying canonical attributes skips
// re-extraction, and JSON-encoded sections decode back to structures.
func TestOnEnd_ProcessedFastPath(t *testing.T) {
	collector, tp, exp := pipeline(t)

	tr := tp.Tracer("honeyhive")
	_, span := tr.Start(context.Background(), "ChatCompletion")
	span.SetAttributes(
		attribute.String(schema.AttrProcessed, "true"),
		attribute.String(schema.AttrSchemaVersion, schema.SchemaVersion),
		attribute.String(schema.AttrEventType, "model"),
		attribute.String(schema.AttrPrefixConfig+"provider", "openai"),
		attribute.String(schema.AttrPrefixInputs+"chat_history", `[{"role":"user","content":"hi"}]`),
		attribute.Int(schema.AttrPrefixMetadata+"prompt_tokens", 5),
	)
	span.End()
	exp.Flush(context.Background())

	events := collector.all()
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev["event_type"] != "model" {
		t.Errorf("event_type = %v", ev["event_type"])
	}
	history := ev["inputs"].(map[string]any)["chat_history"].([]any)
	msg := history[0].(map[string]any)
	if msg["role"] != "user" || msg["content"] != "hi" {
		t.Errorf("decoded chat_history = %v", history)
	}
	if ev["config"].(map[string]any)["provider"] != "openai" {
		t.Errorf("config = %v", ev["config"])
	}
}

func TestOnStart_BaggageEnrichment(t *testing.T) {
	collector, tp, exp := pipeline(t)

	// Foreign-instance baggage wins over the processor's own identity.
	ctx := baggage.ContextWith(context.Background(), baggage.Values{
		SessionID: "9f8e7d6c-5b4a-4c3d-8e2f-1a0b9c8d7e6f",
		Project:   "other-proj",
		Source:    "staging",
		TracerID:  "tr-other",
	})

	tr := tp.Tracer("test")
	_, span := tr.Start(ctx, "fetch_data")
	span.End()
	exp.Flush(context.Background())

	events := collector.all()
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev["session_id"] != "9f8e7d6c-5b4a-4c3d-8e2f-1a0b9c8d7e6f" {
		t.Errorf("session_id = %v", ev["session_id"])
	}
	if ev["project_id"] != "other-proj" || ev["source"] != "staging" {
		t.Errorf("project/source = %v/%v", ev["project_id"], ev["source"])
	}
}

func TestDetectEventType(t *testing.T) {
	tests := []struct {
		name     string
		spanName string
		attrs    map[string]any
		want     schema.EventType
	}{
		{"explicit attribute wins", "anything", map[string]any{schema.AttrEventType: "chain"}, schema.EventTypeChain},
		{"invalid explicit ignored", "RunPipeline", map[string]any{schema.AttrEventType: "generation"}, schema.EventTypeChain},
		{"model via gen_ai request prefix", "x", map[string]any{"gen_ai.request.model": "m"}, schema.EventTypeModel},
		{"model via llm.model_name", "x", map[string]any{"llm.model_name": "m"}, schema.EventTypeModel},
		{"model via openlit.model", "x", map[string]any{"openlit.model": "m"}, schema.EventTypeModel},
		{"model beats name heuristics", "my_workflow", map[string]any{"gen_ai.request.model": "m"}, schema.EventTypeModel},
		{"chain by name", "OrderWorkflow", nil, schema.EventTypeChain},
		{"pipeline by name", "data-Pipeline-3", nil, schema.EventTypeChain},
		{"tool by name", "search_documents", nil, schema.EventTypeTool},
		{"session by name", "StartSession", nil, schema.EventTypeSession},
		{"default tool", "unnamable", nil, schema.EventTypeTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectEventType(tt.spanName, tt.attrs); got != tt.want {
				t.Errorf("DetectEventType(%q, %v) = %q, want %q", tt.spanName, tt.attrs, got, tt.want)
			}
		})
	}
}

// Flatten then rebuild: canonical sections survive the span-attribute round
// trip, with composite values JSON-encoded on the wire.
func TestFlattenSectionRoundTrip(t *testing.T) {
	can := ulde.NewCanonical()
	can.Inputs["chat_history"] = []map[string]any{{"role": "user", "content": "hi"}}
	can.Config["model"] = "gpt-4o"
	can.Config["temperature"] = 0.7
	can.Metadata["prompt_tokens"] = 5

	kvs := FlattenCanonical(can)
	attrs := AttrMap(kvs)

	if s, ok := attrs[schema.AttrPrefixInputs+"chat_history"].(string); !ok {
		t.Errorf("composite value should be a JSON string, got %T", attrs[schema.AttrPrefixInputs+"chat_history"])
	} else if !json.Valid([]byte(s)) {
		t.Errorf("not valid JSON: %q", s)
	}

	inputs := SectionFromAttrs(attrs, schema.AttrPrefixInputs)
	history := inputs["chat_history"].([]any)
	msg := history[0].(map[string]any)
	if msg["role"] != "user" || msg["content"] != "hi" {
		t.Errorf("round-tripped history = %v", history)
	}

	cfg := SectionFromAttrs(attrs, schema.AttrPrefixConfig)
	if cfg["model"] != "gpt-4o" {
		t.Errorf("model = %v", cfg["model"])
	}
	if cfg["temperature"] != 0.7 {
		t.Errorf("temperature = %v (%T)", cfg["temperature"], cfg["temperature"])
	}
}

func TestProcessorNeverPanicsIntoHost(t *testing.T) {
	// A processor with a nil engine and nil exporters must swallow
	// everything.
	proc := New(Config{})
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))
	defer tp.Shutdown(context.Background())

	tr := tp.Tracer("test")
	_, span := tr.Start(context.Background(), "op", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("gen_ai.system", "openai"))
	span.End()
}
