package diagnostics

import (
	"context"
	"log/slog"
	"time"
)

// SlogSink writes diagnostics through a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a slog-based sink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Record logs the entry at warning level.
func (s *SlogSink) Record(ctx context.Context, e Entry) error {
	s.logger.WarnContext(ctx, "needs manual conversion",
		slog.String("kind", e.Kind),
		slog.String("object", e.Object),
		slog.String("reason", e.Reason),
		slog.String("statement", e.Statement),
	)
	return nil
}

// ObjectDone logs the object outcome.
func (s *SlogSink) ObjectDone(ctx context.Context, kind, object string, duration time.Duration, err error) {
	if err != nil {
		s.logger.ErrorContext(ctx, "object not migrated",
			slog.String("kind", kind),
			slog.String("object", object),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "object migrated",
		slog.String("kind", kind),
		slog.String("object", object),
		slog.Duration("duration", duration),
	)
}

// Close does nothing.
func (s *SlogSink) Close() error {
	return nil
}
