// Package log provides the SDK's structured logger: a thin wrapper over
// log/slog with level options, plus one-shot and rate-limited warning helpers
// used at the span-processor boundary where errors must never propagate into
// host code.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Logger wraps slog.Logger with convenience methods and suppression state
// for repeated warnings.
type Logger struct {
	inner *slog.Logger

	once sync.Map // string key -> struct{}

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// Option configures a Logger created by New.
type Option func(*loggerConfig)

type loggerConfig struct {
	level   slog.Level
	handler slog.Handler
	writer  *os.File
}

// WithLevel sets the minimum log level. Accepted values: "debug", "info",
// "warn", "error". Defaults to "warn" if the value is unrecognised; an SDK
// embedded in a host process stays quiet unless asked.
func WithLevel(level string) Option {
	return func(cfg *loggerConfig) {
		switch level {
		case "debug":
			cfg.level = slog.LevelDebug
		case "info":
			cfg.level = slog.LevelInfo
		case "warn":
			cfg.level = slog.LevelWarn
		case "error":
			cfg.level = slog.LevelError
		}
	}
}

// WithVerbose lowers the level to debug. It corresponds to the tracer's
// verbose configuration flag.
func WithVerbose() Option {
	return func(cfg *loggerConfig) {
		cfg.level = slog.LevelDebug
	}
}

// WithJSON configures the logger to emit JSON-formatted output.
func WithJSON() Option {
	return func(cfg *loggerConfig) {
		cfg.handler = slog.NewJSONHandler(cfg.writer, &slog.HandlerOptions{
			Level: cfg.level,
		})
	}
}

// WithHandler sets a custom slog handler, overriding the default text
// handler. Useful in tests.
func WithHandler(h slog.Handler) Option {
	return func(cfg *loggerConfig) {
		cfg.handler = h
	}
}

// New creates a Logger with the given options. Without options it defaults
// to warn-level text output on stderr.
func New(opts ...Option) *Logger {
	cfg := &loggerConfig{
		level:  slog.LevelWarn,
		writer: os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.handler == nil {
		cfg.handler = slog.NewTextHandler(cfg.writer, &slog.HandlerOptions{
			Level: cfg.level,
		})
	}
	return &Logger{
		inner: slog.New(cfg.handler).With("component", "honeyhive"),
		last:  make(map[string]time.Time),
		now:   time.Now,
	}
}

// Nop returns a logger that discards everything. Used as the default when a
// component is constructed without an explicit logger.
func Nop() *Logger {
	return &Logger{
		inner: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.Level(127),
		})),
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, args...)
}

// DebugContext logs at debug level with context, for handlers that extract
// trace correlation from ctx.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.inner.DebugContext(ctx, msg, args...)
}

// WarnOnce logs msg at warn level the first time key is seen and suppresses
// every subsequent call with the same key for the life of the process.
func (l *Logger) WarnOnce(key, msg string, args ...any) {
	if _, seen := l.once.LoadOrStore(key, struct{}{}); seen {
		return
	}
	l.inner.Warn(msg, args...)
}

// WarnRateLimited logs msg at warn level at most once per interval for the
// given key. Calls inside the suppression window are dropped silently.
func (l *Logger) WarnRateLimited(key string, interval time.Duration, msg string, args ...any) {
	l.mu.Lock()
	now := l.now()
	if t, ok := l.last[key]; ok && now.Sub(t) < interval {
		l.mu.Unlock()
		return
	}
	l.last[key] = now
	l.mu.Unlock()
	l.inner.Warn(msg, args...)
}
