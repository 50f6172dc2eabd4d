// Package ports declares the collaborators the punishment service depends on.
package ports

import (
	"context"
	"log/slog"
	"time"

	"github.com/Proximyst/ban/internal/notify"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/pkg/requestcontext"
)

// Store persists punishments. Implementations report unreachable backends
// with sentinel.ErrUnavailable and unknown ids with sentinel.ErrNotFound.
type Store interface {
	Insert(ctx context.Context, p *models.Punishment) (*models.Punishment, error)
	Lift(ctx context.Context, id int64, by, reason string, at time.Time) (bool, error)
	History(ctx context.Context, key models.Key, limit, offset int) ([]*models.Punishment, error)
	Get(ctx context.Context, id int64) (*models.Punishment, error)
}

// CacheInvalidator drops cached lookups for every key of a target.
type CacheInvalidator interface {
	InvalidateTarget(t models.Target)
}

// EventPublisher delivers punishment events.
type EventPublisher interface {
	Emit(ctx context.Context, event notify.Event) error
}

// LogAudit logs a punishment event and forwards it to the publisher when one
// is configured. Publisher failures are logged and otherwise ignored.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher EventPublisher, event notify.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		event.RequestID = requestID
		attrs = append(attrs, "request_id", requestID)
	}

	args := append(attrs, "event", string(event.Kind), "log_type", "audit")
	if p := event.Punishment; p != nil {
		args = append(args, "punishment_id", p.ID, "type", p.Type.String(), "target", p.Target.String())
	}

	if logger != nil {
		logger.InfoContext(ctx, string(event.Kind), args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit punishment event", "event", string(event.Kind), "error", err)
	}
}
