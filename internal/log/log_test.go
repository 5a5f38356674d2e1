package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newCaptured(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(WithHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	return l, &buf
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newCaptured(slog.LevelWarn)

	l.Debug("debug msg")
	l.Info("info msg")
	l.Warn("warn msg")
	l.Error("error msg")

	out := buf.String()
	if strings.Contains(out, "debug msg") || strings.Contains(out, "info msg") {
		t.Errorf("low-level messages should be suppressed, got %q", out)
	}
	if !strings.Contains(out, "warn msg") || !strings.Contains(out, "error msg") {
		t.Errorf("warn/error messages missing, got %q", out)
	}
}

func TestWarnOnce(t *testing.T) {
	l, buf := newCaptured(slog.LevelWarn)

	for range 5 {
		l.WarnOnce("openai/parse_messages", "transform failed", "provider", "openai")
	}
	if n := strings.Count(buf.String(), "transform failed"); n != 1 {
		t.Errorf("WarnOnce emitted %d times, want 1", n)
	}

	l.WarnOnce("anthropic/parse_messages", "transform failed")
	if n := strings.Count(buf.String(), "transform failed"); n != 2 {
		t.Errorf("distinct key should emit again, got %d", n)
	}
}

func TestWarnRateLimited(t *testing.T) {
	l, buf := newCaptured(slog.LevelWarn)

	clock := time.Now()
	l.now = func() time.Time { return clock }

	l.WarnRateLimited("proc", time.Minute, "processor error")
	l.WarnRateLimited("proc", time.Minute, "processor error")
	if n := strings.Count(buf.String(), "processor error"); n != 1 {
		t.Errorf("within window emitted %d times, want 1", n)
	}

	clock = clock.Add(2 * time.Minute)
	l.WarnRateLimited("proc", time.Minute, "processor error")
	if n := strings.Count(buf.String(), "processor error"); n != 2 {
		t.Errorf("after window emitted %d times, want 2", n)
	}
}

func TestNop(t *testing.T) {
	// Must not panic and must not write anywhere visible.
	l := Nop()
	l.Debug("a")
	l.Warn("b")
	l.Error("c")
	l.WarnOnce("k", "d")
}
