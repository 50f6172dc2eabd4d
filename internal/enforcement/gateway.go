// Package enforcement answers the login and chat questions "is this target
// banned?" and "is this target muted?" within a bounded time.
//
// Lookups always go through the punishment cache. When a lookup cannot
// complete, the last cached value is consulted first: a ban or mute that
// was known to be active still denies. Only when nothing cached applies
// does the configured failure policy decide. Logins default to fail-closed.
package enforcement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Proximyst/ban/internal/platform/config"
	"github.com/Proximyst/ban/internal/punishment/metrics"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/internal/punishment/resolver"
)

const (
	checkBan  = "ban"
	checkMute = "mute"
)

// Decision reasons.
const (
	ReasonNone        = ""
	ReasonBanned      = "banned"
	ReasonMuted       = "muted"
	ReasonStaleDenied = "stale_cache"
	ReasonFailClosed  = "fail_closed"
	ReasonFailOpen    = "fail_open"
)

// Lookup is the cache surface the gateway reads through.
type Lookup interface {
	GetActive(ctx context.Context, key models.Key) (resolver.Active, error)
	GetActiveStale(ctx context.Context, key models.Key) (resolver.Active, error)
	Peek(key models.Key) (resolver.Active, time.Time, bool)
}

// Decision is the outcome of one check. Punishment is set whenever the
// target is denied because of a record; Degraded marks decisions made
// without a successful lookup.
type Decision struct {
	Allowed    bool
	Punishment *models.Punishment
	Degraded   bool
	Reason     string
}

type Gateway struct {
	lookup  Lookup
	cfg     config.Enforcement
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Gateway)

func WithConfig(cfg config.Enforcement) Option {
	return func(g *Gateway) {
		g.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

func New(lookup Lookup, opts ...Option) (*Gateway, error) {
	if lookup == nil {
		return nil, errors.New("lookup is required")
	}
	g := &Gateway{
		lookup:  lookup,
		cfg:     config.DefaultConfig().Enforcement,
		logger:  slog.Default(),
		metrics: metrics.New(nil),
		tracer:  otel.Tracer("github.com/Proximyst/ban/internal/enforcement"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cfg.LoginTimeout <= 0 || g.cfg.ChatTimeout <= 0 {
		return nil, errors.New("enforcement timeouts must be positive")
	}
	if !g.cfg.FailurePolicy.Valid() || !g.cfg.ChatFailurePolicy.Valid() {
		return nil, errors.New("invalid failure policy")
	}
	return g, nil
}

// CheckBan decides whether target may connect. Bans on the player and on the
// address both apply; the newest active one is reported.
func (g *Gateway) CheckBan(ctx context.Context, target models.Target) (*Decision, error) {
	return g.check(ctx, target, checkBan, models.TypeBan)
}

// CheckMute decides whether target may chat. Stale cached entries are served
// without waiting for the store.
func (g *Gateway) CheckMute(ctx context.Context, target models.Target) (*Decision, error) {
	return g.check(ctx, target, checkMute, models.TypeMute)
}

func (g *Gateway) check(ctx context.Context, target models.Target, check string, typ models.Type) (*Decision, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { g.metrics.ObserveEnforcementDuration(check, time.Since(start).Seconds()) }()

	ctx, span := g.tracer.Start(ctx, "enforcement.Check", trace.WithAttributes(
		attribute.String("enforcement.check", check),
		attribute.String("enforcement.target", target.String()),
	))
	defer span.End()

	timeout, policy := g.cfg.LoginTimeout, g.cfg.FailurePolicy
	if typ == models.TypeMute {
		timeout, policy = g.cfg.ChatTimeout, g.cfg.ChatFailurePolicy
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	keys := target.Keys()
	sets := make([]resolver.Active, len(keys))
	eg, egCtx := errgroup.WithContext(lookupCtx)
	for i, key := range keys {
		eg.Go(func() error {
			var err error
			if typ == models.TypeMute {
				sets[i], err = g.lookup.GetActiveStale(egCtx, key)
			} else {
				sets[i], err = g.lookup.GetActive(egCtx, key)
			}
			return err
		})
	}

	var decision *Decision
	if err := eg.Wait(); err != nil {
		decision = g.degraded(ctx, keys, check, typ, policy, err)
	} else {
		p := resolver.Merge(sets...).Get(typ)
		// A stale entry may still hold a record that expired since it was
		// resolved.
		if p != nil && !p.IsActiveAt(g.now()) {
			p = nil
		}
		decision = deny(p, typ)
	}

	span.SetAttributes(
		attribute.Bool("enforcement.allowed", decision.Allowed),
		attribute.Bool("enforcement.degraded", decision.Degraded),
	)
	g.metrics.ObserveDecision(check, decision.Allowed)
	return decision, nil
}

// degraded decides from the last cached entries when the lookup failed.
func (g *Gateway) degraded(ctx context.Context, keys []models.Key, check string, typ models.Type, policy config.FailurePolicy, cause error) *Decision {
	reason := "store_error"
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		reason = "timeout"
	}
	g.metrics.ObserveDegraded(check, reason)

	now := g.now()
	var stale []resolver.Active
	for _, key := range keys {
		if active, _, ok := g.lookup.Peek(key); ok {
			stale = append(stale, active)
		}
	}
	// The cached entry was resolved at fetch time; re-check expiry now.
	if p := resolver.Merge(stale...).Get(typ); p != nil && p.IsActiveAt(now) {
		g.logger.ErrorContext(ctx, "enforcement lookup failed, denying from cached entry",
			"check", check, "keys", keys, "punishment_id", p.ID, "error", cause)
		return &Decision{Allowed: false, Punishment: p, Degraded: true, Reason: ReasonStaleDenied}
	}

	if policy == config.FailOpen {
		g.logger.ErrorContext(ctx, "enforcement lookup failed, allowing by policy",
			"check", check, "keys", keys, "policy", string(policy), "error", cause)
		return &Decision{Allowed: true, Degraded: true, Reason: ReasonFailOpen}
	}
	g.logger.ErrorContext(ctx, "enforcement lookup failed, denying by policy",
		"check", check, "keys", keys, "policy", string(policy), "error", cause)
	return &Decision{Allowed: false, Degraded: true, Reason: ReasonFailClosed}
}

func deny(p *models.Punishment, typ models.Type) *Decision {
	if p == nil {
		return &Decision{Allowed: true, Reason: ReasonNone}
	}
	reason := ReasonBanned
	if typ == models.TypeMute {
		reason = ReasonMuted
	}
	return &Decision{Allowed: false, Punishment: p, Reason: reason}
}
