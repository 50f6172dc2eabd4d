package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, event Event) error {
	attrs := []any{"event_id", event.ID, "occurred_at", event.OccurredAt}
	if p := event.Punishment; p != nil {
		attrs = append(attrs,
			"punishment_id", p.ID,
			"type", p.Type.String(),
			"target", p.Target.String(),
			"actor", p.Actor,
			"reason", p.Reason,
		)
		if p.ExpiresAt != nil {
			attrs = append(attrs, "expires_at", *p.ExpiresAt)
		}
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	s.logger.InfoContext(ctx, string(event.Kind), attrs...)
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink records events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
