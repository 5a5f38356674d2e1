package tracer

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/honeyhiveai/honeyhive-go/config"
)

// freshGlobal simulates a process with no tracer provider installed.
func freshGlobal(t *testing.T) {
	t.Helper()
	resetGlobalForTest()
	otel.SetTracerProvider(tracenoop.NewTracerProvider())
}

func TestIsFunctioningProvider(t *testing.T) {
	if isFunctioningProvider(tracenoop.NewTracerProvider()) {
		t.Error("no-op provider must not count as functioning")
	}
	real := sdktrace.NewTracerProvider()
	defer real.Shutdown(context.Background())
	if !isFunctioningProvider(real) {
		t.Error("SDK provider must count as functioning")
	}
	if !isFunctioningProvider(newInterceptProvider(real, "id")) {
		t.Error("intercept provider must count as functioning")
	}
}

// Atomic provider setup under concurrency: many tracers racing in a fresh
// process produce exactly one main provider; everyone else attaches
// independently.
func TestGlobalProvider_ConcurrentInit(t *testing.T) {
	freshGlobal(t)

	const n = 100
	tracers := make([]*Tracer, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := New(config.Config{APIKey: "k", Project: "p"},
				WithSessionClient(&fakeSessions{}))
			if err != nil {
				t.Errorf("New: %v", err)
				return
			}
			tracers[i] = tr
		}()
	}
	wg.Wait()
	defer func() {
		for _, tr := range tracers {
			if tr != nil {
				tr.Shutdown(context.Background())
			}
		}
	}()

	mains := 0
	for _, tr := range tracers {
		if tr != nil && tr.IsMainProvider() {
			mains++
		}
	}
	if mains != 1 {
		t.Errorf("%d instances became main provider, want exactly 1", mains)
	}

	if _, ok := otel.GetTracerProvider().(*interceptProvider); !ok {
		t.Errorf("global provider is %T, want the installed intercept provider", otel.GetTracerProvider())
	}
}

// Provider selection monotonicity: an existing functioning provider is
// never replaced.
func TestGlobalProvider_NeverDowngrades(t *testing.T) {
	resetGlobalForTest()
	existing := sdktrace.NewTracerProvider()
	defer existing.Shutdown(context.Background())
	otel.SetTracerProvider(existing)

	tr, err := New(config.Config{APIKey: "k", Project: "p"},
		WithSessionClient(&fakeSessions{}))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Shutdown(context.Background())

	if tr.IsMainProvider() {
		t.Error("tracer must not replace a functioning provider")
	}
	if otel.GetTracerProvider() != existing {
		t.Error("existing global provider was swapped out")
	}
}

func TestGlobalProvider_SecondTracerIndependent(t *testing.T) {
	freshGlobal(t)

	first, err := New(config.Config{APIKey: "k", Project: "p"}, WithSessionClient(&fakeSessions{}))
	if err != nil {
		t.Fatal(err)
	}
	defer first.Shutdown(context.Background())
	second, err := New(config.Config{APIKey: "k", Project: "p2"}, WithSessionClient(&fakeSessions{}))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Shutdown(context.Background())

	if !first.IsMainProvider() {
		t.Error("first tracer should install globally in a fresh process")
	}
	if second.IsMainProvider() {
		t.Error("second tracer must attach as independent provider")
	}
}
