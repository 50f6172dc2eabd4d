// Package notify carries punishment events to external subscribers.
//
// Delivery is best effort. Emitting never fails the operation that produced
// the event; sinks that cannot keep up drop events and count them.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/Proximyst/ban/internal/punishment/models"
)

// Kind names what happened to a punishment.
type Kind string

const (
	KindCreated Kind = "punishment_created"
	KindLifted  Kind = "punishment_lifted"
)

// Event is the transport-agnostic payload handed to sinks.
type Event struct {
	ID         uuid.UUID          `json:"id"`
	Kind       Kind               `json:"kind"`
	OccurredAt time.Time          `json:"occurred_at"`
	RequestID  string             `json:"request_id,omitempty"`
	Punishment *models.Punishment `json:"punishment"`
}

// NewEvent snapshots p so later mutations do not leak into the payload.
func NewEvent(kind Kind, p *models.Punishment, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		OccurredAt: at.UTC(),
		Punishment: p.Clone(),
	}
}

// Key groups events of one target so ordered transports keep them in order.
func (e Event) Key() string {
	if e.Punishment == nil {
		return ""
	}
	return e.Punishment.Target.String()
}
