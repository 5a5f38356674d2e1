package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/honeyhiveai/honeyhive-go/schema"
)

// Manual trace without any instrumentor: arguments land in
// inputs._params_, the return value in outputs.result, and no provider is
// attributed.
func TestTrace_ManualFunction(t *testing.T) {
	backend := newEventBackend()
	tr := newTestTracer(t, backend, nil)

	result, err := tr.Trace(context.Background(), "fetch_data",
		func(ctx context.Context) (any, error) {
			return map[string]any{"rows": 3}, nil
		},
		WithEventType(schema.EventTypeTool),
		WithInputs(Attrs{"table": "users", "limit": 10}),
	)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if result.(map[string]any)["rows"] != 3 {
		t.Errorf("result = %v", result)
	}

	tr.Flush(context.Background())
	events := backend.all()
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]

	if ev["event_type"] != "tool" {
		t.Errorf("event_type = %v", ev["event_type"])
	}
	params := ev["inputs"].(map[string]any)["_params_"].(map[string]any)
	if params["table"] != "users" || params["limit"] != float64(10) {
		t.Errorf("_params_ = %v", params)
	}
	res := ev["outputs"].(map[string]any)["result"].(map[string]any)
	if res["rows"] != float64(3) {
		t.Errorf("outputs.result = %v", res)
	}
	if cfg, ok := ev["config"].(map[string]any); ok {
		if _, has := cfg["provider"]; has {
			t.Errorf("manual trace must not attribute a provider: %v", cfg)
		}
	}
}

func TestTrace_ErrorPath(t *testing.T) {
	backend := newEventBackend()
	tr := newTestTracer(t, backend, nil)

	boom := errors.New("boom")
	_, err := tr.Trace(context.Background(), "failing_step",
		func(ctx context.Context) (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Trace must re-return the original error, got %v", err)
	}

	tr.Flush(context.Background())
	events := backend.all()
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0]["error"] != "boom" {
		t.Errorf("event error = %v", events[0]["error"])
	}
}

// Auto-discovery order: explicit > context > default > none.
func TestTrace_Discovery(t *testing.T) {
	backendA := newEventBackend()
	trA := newTestTracer(t, backendA, nil)

	t.Run("explicit tracer wins", func(t *testing.T) {
		_, err := Trace(context.Background(), "op",
			func(ctx context.Context) (any, error) { return "ok", nil },
			WithTracer(trA))
		if err != nil {
			t.Fatal(err)
		}
		trA.Flush(context.Background())
		if len(backendA.all()) == 0 {
			t.Error("explicit tracer did not record the span")
		}
	})

	t.Run("context-resolved tracer", func(t *testing.T) {
		before := len(backendA.all())
		ctx, span := trA.StartSpan(context.Background(), "parent")
		_, err := Trace(ctx, "child",
			func(ctx context.Context) (any, error) { return nil, nil })
		if err != nil {
			t.Fatal(err)
		}
		span.End()
		trA.Flush(context.Background())
		if got := len(backendA.all()); got < before+2 {
			t.Errorf("context discovery recorded %d events, want >= %d", got, before+2)
		}
	})

	t.Run("default tracer", func(t *testing.T) {
		SetDefault(trA)
		before := len(backendA.all())
		_, err := Trace(context.Background(), "op-default",
			func(ctx context.Context) (any, error) { return nil, nil })
		if err != nil {
			t.Fatal(err)
		}
		trA.Flush(context.Background())
		if len(backendA.all()) != before+1 {
			t.Error("default tracer did not record the span")
		}
	})

	t.Run("no tracer is a pass-through", func(t *testing.T) {
		instances.SetDefault("")
		ran := false
		result, err := Trace(context.Background(), "bare",
			func(ctx context.Context) (any, error) { ran = true; return 42, nil })
		if err != nil || result != 42 || !ran {
			t.Errorf("pass-through failed: %v %v %v", result, err, ran)
		}
	})
}

func TestFromContext(t *testing.T) {
	tr := newTestTracer(t, newEventBackend(), nil)

	if _, ok := FromContext(context.Background()); ok {
		t.Error("bare context should not resolve a tracer")
	}

	ctx, span := tr.StartSpan(context.Background(), "op")
	defer span.End()

	got, ok := FromContext(ctx)
	if !ok || got != tr {
		t.Errorf("FromContext = %v, %v", got, ok)
	}
}
