package handler

import (
	"context"
	"time"

	"github.com/Proximyst/ban/internal/enforcement"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/internal/punishment/service"
	"github.com/Proximyst/ban/pkg/domain"
	dErrors "github.com/Proximyst/ban/pkg/domain-errors"
	"github.com/Proximyst/ban/pkg/requestcontext"
)

// IssueRequest is the body of POST /v1/punishments. Expiry is either an
// absolute ExpiresAt or a Duration relative to the request time; neither
// means permanent. The actor is taken from the bearer token.
type IssueRequest struct {
	Type      string     `json:"type"`
	PlayerID  string     `json:"player_id,omitempty"`
	IP        string     `json:"ip,omitempty"`
	Reason    string     `json:"reason"`
	Duration  string     `json:"duration,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r IssueRequest) toService(ctx context.Context) (service.IssueRequest, error) {
	typ, err := models.ParseType(r.Type)
	if err != nil {
		return service.IssueRequest{}, err
	}
	target, err := parseTarget(r.PlayerID, r.IP)
	if err != nil {
		return service.IssueRequest{}, err
	}

	expiresAt := r.ExpiresAt
	if r.Duration != "" {
		if expiresAt != nil {
			return service.IssueRequest{}, dErrors.New(dErrors.CodeInvalidInput, "duration and expires_at are mutually exclusive")
		}
		d, err := time.ParseDuration(r.Duration)
		if err != nil || d <= 0 {
			return service.IssueRequest{}, dErrors.New(dErrors.CodeInvalidInput, "duration must be a positive Go duration such as 30m or 72h")
		}
		at := requestcontext.Now(ctx).Add(d)
		expiresAt = &at
	}

	return service.IssueRequest{
		Type:      typ,
		Target:    target,
		Reason:    r.Reason,
		ExpiresAt: expiresAt,
	}, nil
}

// LiftRequest is the optional body of POST /v1/punishments/{id}/lift. With
// Strict set, lifting an already lifted record is a conflict instead of a
// no-op.
type LiftRequest struct {
	Reason string `json:"reason"`
	Strict bool   `json:"strict"`
}

type LiftResponse struct {
	ID     int64 `json:"id"`
	Lifted bool  `json:"lifted"`
}

type HistoryResponse struct {
	Punishments []*models.Punishment `json:"punishments"`
}

// CheckRequest asks whether a player, an address or both may log in or chat.
type CheckRequest struct {
	PlayerID string `json:"player_id,omitempty"`
	IP       string `json:"ip,omitempty"`
}

type DecisionResponse struct {
	Allowed    bool               `json:"allowed"`
	Degraded   bool               `json:"degraded"`
	Reason     string             `json:"reason,omitempty"`
	Punishment *models.Punishment `json:"punishment,omitempty"`
}

func toDecisionResponse(d *enforcement.Decision) DecisionResponse {
	return DecisionResponse{
		Allowed:    d.Allowed,
		Degraded:   d.Degraded,
		Reason:     d.Reason,
		Punishment: d.Punishment,
	}
}

func parseTarget(player, ip string) (models.Target, error) {
	var t models.Target
	if player != "" {
		id, err := domain.ParsePlayerID(player)
		if err != nil {
			return models.Target{}, err
		}
		t.PlayerID = id
	}
	if ip != "" {
		addr, err := domain.ParseIP(ip)
		if err != nil {
			return models.Target{}, err
		}
		t.IP = addr
	}
	if t.IsZero() {
		return models.Target{}, dErrors.New(dErrors.CodeInvalidInput, "player_id or ip is required")
	}
	return t, nil
}
