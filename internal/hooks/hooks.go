// Package hooks adapts host server events to the enforcement gateway and
// applies new punishments to players who are online.
//
// The host owns message formatting; hooks only hands it the punishment
// record that caused a decision.
package hooks

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"

	"github.com/google/uuid"

	"github.com/Proximyst/ban/internal/enforcement"
	"github.com/Proximyst/ban/internal/notify"
	"github.com/Proximyst/ban/internal/punishment/models"
)

// Host is the server the plugin runs in.
type Host interface {
	HasPermission(player uuid.UUID, permission string) bool
	// Online lists connected players matching target: the player itself
	// and every player connected from the target address.
	Online(target models.Target) []uuid.UUID
	Disconnect(player uuid.UUID, p *models.Punishment) error
	// Inform tells a player about a punishment that does not disconnect.
	Inform(player uuid.UUID, p *models.Punishment) error
	// Broadcast sends p to every online player holding permission.
	Broadcast(permission string, p *models.Punishment)
}

// Checker is the gateway surface used by the hooks.
type Checker interface {
	CheckBan(ctx context.Context, target models.Target) (*enforcement.Decision, error)
	CheckMute(ctx context.Context, target models.Target) (*enforcement.Decision, error)
}

type LoginEvent struct {
	PlayerID uuid.UUID
	IP       netip.Addr
}

type ChatEvent struct {
	PlayerID uuid.UUID
	IP       netip.Addr
}

type Hooks struct {
	checker Checker
	host    Host
	logger  *slog.Logger
}

type Option func(*Hooks)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hooks) {
		h.logger = logger
	}
}

func New(checker Checker, host Host, opts ...Option) (*Hooks, error) {
	if checker == nil {
		return nil, errors.New("checker is required")
	}
	if host == nil {
		return nil, errors.New("host is required")
	}
	h := &Hooks{checker: checker, host: host, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// OnLogin decides whether a connecting player may join.
func (h *Hooks) OnLogin(ctx context.Context, ev LoginEvent) (*enforcement.Decision, error) {
	if ev.PlayerID != uuid.Nil && h.host.HasPermission(ev.PlayerID, models.TypeBan.BypassPermission()) {
		return &enforcement.Decision{Allowed: true}, nil
	}
	return h.checker.CheckBan(ctx, models.Target{PlayerID: ev.PlayerID, IP: ev.IP})
}

// OnChat decides whether a chat message may be delivered.
func (h *Hooks) OnChat(ctx context.Context, ev ChatEvent) (*enforcement.Decision, error) {
	if h.host.HasPermission(ev.PlayerID, models.TypeMute.BypassPermission()) {
		return &enforcement.Decision{Allowed: true}, nil
	}
	return h.checker.CheckMute(ctx, models.Target{PlayerID: ev.PlayerID, IP: ev.IP})
}

// OnIssued applies a freshly recorded punishment to matching online players
// and notifies staff holding the type's notify permission.
func (h *Hooks) OnIssued(ctx context.Context, p *models.Punishment) {
	for _, player := range h.host.Online(p.Target) {
		if perm := p.Type.BypassPermission(); perm != "" && h.host.HasPermission(player, perm) {
			continue
		}

		var err error
		switch {
		case p.Type.Applicable():
			err = h.host.Disconnect(player, p)
		case p.Type == models.TypeMute || p.Type == models.TypeWarn:
			err = h.host.Inform(player, p)
		}
		if err != nil {
			h.logger.WarnContext(ctx, "failed to apply punishment to online player",
				"punishment_id", p.ID, "player", player, "error", err)
		}
	}
	h.host.Broadcast(p.Type.NotifyPermission(), p)
}

// Publish lets the hooks subscribe to punishment events so punishments
// issued anywhere are applied on this host.
func (h *Hooks) Publish(ctx context.Context, event notify.Event) error {
	if event.Kind != notify.KindCreated || event.Punishment == nil {
		return nil
	}
	h.OnIssued(ctx, event.Punishment)
	return nil
}
