// Package accesslog records one entry per served request or action and
// warns about slow ones.
package accesslog

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSlowThreshold is the latency above which an entry is also logged
// as a warning.
const DefaultSlowThreshold = time.Second

// Logger writes entries to a Sink.
type Logger struct {
	sink   Sink
	slow   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithSlowThreshold sets the slow-action threshold. Zero disables warnings.
func WithSlowThreshold(d time.Duration) Option {
	return func(l *Logger) {
		l.slow = d
	}
}

// WithLogger sets the logger used for warnings and sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New creates a Logger over sink. A nil sink discards entries.
func New(sink Sink, opts ...Option) *Logger {
	if sink == nil {
		sink = Discard{}
	}
	l := &Logger{
		sink:   sink,
		slow:   DefaultSlowThreshold,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "accesslog")
	return l
}

// Verify prepares the sink.
func (l *Logger) Verify(ctx context.Context) error {
	return l.sink.Verify(ctx)
}

// Record writes e. Sink failures are logged and never returned.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	e.DurationMS = e.Duration.Milliseconds()

	if l.slow > 0 && e.Duration > l.slow {
		l.logger.Warn("slow action",
			"protocol", e.Protocol,
			"action", e.Action,
			"status", e.Status,
			"duration_ms", e.DurationMS)
	}

	if err := l.sink.Write(ctx, e); err != nil {
		l.logger.Error("failed to write log entry", "error", err)
	}
}

// Close closes the sink.
func (l *Logger) Close() error {
	return l.sink.Close()
}
