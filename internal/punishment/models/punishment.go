package models

import (
	"time"

	"github.com/Proximyst/ban/pkg/domain"
	dErrors "github.com/Proximyst/ban/pkg/domain-errors"
)

// ErrAlreadyLifted is returned by LiftStrict when the record was lifted before.
var ErrAlreadyLifted = dErrors.New(dErrors.CodeConflict, "punishment already lifted")

// Punishment is a single moderation record.
//
// Invariants:
//   - Target has at least one component
//   - ExpiresAt, when set, is strictly after IssuedAt
//   - Instantaneous types (KICK, NOTE) never carry ExpiresAt
//   - Every field except the lift fields is immutable after construction
//   - Lifting is one-way; LiftedAt, LiftedBy and LiftReason are set iff Lifted
//
// Whether a record is active is derived from the clock (IsActiveAt) and is
// never stored.
type Punishment struct {
	ID         int64      `json:"id"`
	Type       Type       `json:"type"`
	Target     Target     `json:"target"`
	Actor      string     `json:"actor"`
	Reason     string     `json:"reason"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Lifted     bool       `json:"lifted"`
	LiftedAt   *time.Time `json:"lifted_at,omitempty"`
	LiftedBy   *string    `json:"lifted_by,omitempty"`
	LiftReason *string    `json:"lift_reason,omitempty"`
}

// New validates and builds an unsaved punishment (ID 0). Times are
// normalized to UTC millisecond precision, the resolution the store keeps.
func New(typ Type, target Target, actor, reason string, issuedAt time.Time, expiresAt *time.Time) (*Punishment, error) {
	if !typ.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidPunishment, "unknown punishment type")
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	canonicalActor, err := domain.ParseActor(actor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidPunishment, "invalid actor")
	}
	if issuedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidPunishment, "issued at is required")
	}
	issued := NormalizeTime(issuedAt)

	var expires *time.Time
	if expiresAt != nil {
		if typ.Instantaneous() {
			return nil, dErrors.New(dErrors.CodeInvalidPunishment, typ.String()+" cannot have an expiry")
		}
		e := NormalizeTime(*expiresAt)
		if !e.After(issued) {
			return nil, dErrors.New(dErrors.CodeInvalidPunishment, "expires at must be after issued at")
		}
		expires = &e
	}

	if target.HasIP() {
		target.IP = target.IP.Unmap().WithZone("")
	}

	return &Punishment{
		Type:      typ,
		Target:    target,
		Actor:     canonicalActor,
		Reason:    reason,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

// NormalizeTime truncates to the precision persisted by the store.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// IsPermanent reports whether the record has no natural expiry.
func (p *Punishment) IsPermanent() bool {
	return p.ExpiresAt == nil
}

// IsActiveAt reports whether the record is in force at t: not lifted,
// not instantaneous, issued at or before t, and not yet expired.
func (p *Punishment) IsActiveAt(t time.Time) bool {
	if p.Lifted || p.Type.Instantaneous() {
		return false
	}
	if p.IssuedAt.After(t) {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(t)
}

// Lift transitions the record to lifted. Lifting an already lifted record is
// a no-op and returns false; the original lift fields are kept.
func (p *Punishment) Lift(by, reason string, at time.Time) bool {
	if p.Lifted {
		return false
	}
	liftedAt := NormalizeTime(at)
	p.Lifted = true
	p.LiftedAt = &liftedAt
	p.LiftedBy = &by
	p.LiftReason = &reason
	return true
}

// LiftStrict is Lift that reports a repeated lift as ErrAlreadyLifted.
func (p *Punishment) LiftStrict(by, reason string, at time.Time) error {
	if !p.Lift(by, reason, at) {
		return ErrAlreadyLifted
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate shared records.
func (p *Punishment) Clone() *Punishment {
	if p == nil {
		return nil
	}
	c := *p
	c.ExpiresAt = clonePtr(p.ExpiresAt)
	c.LiftedAt = clonePtr(p.LiftedAt)
	c.LiftedBy = clonePtr(p.LiftedBy)
	c.LiftReason = clonePtr(p.LiftReason)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
