// Package handler exposes the punishment engine over an authenticated JSON
// admin API so command layers running out of process can issue, lift and
// query punishments and ask for enforcement decisions.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Proximyst/ban/internal/enforcement"
	"github.com/Proximyst/ban/internal/platform/middleware"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/internal/punishment/service"
	dErrors "github.com/Proximyst/ban/pkg/domain-errors"
	"github.com/Proximyst/ban/pkg/platform/httputil"
)

// Service defines the engine operations the API exposes.
type Service interface {
	Issue(ctx context.Context, req service.IssueRequest) (*models.Punishment, error)
	Lift(ctx context.Context, id int64, by, reason string) (bool, error)
	LiftStrict(ctx context.Context, id int64, by, reason string) error
	History(ctx context.Context, target models.Target, limit, offset int) ([]*models.Punishment, error)
	Get(ctx context.Context, id int64) (*models.Punishment, error)
}

// Checker answers enforcement questions.
type Checker interface {
	CheckBan(ctx context.Context, target models.Target) (*enforcement.Decision, error)
	CheckMute(ctx context.Context, target models.Target) (*enforcement.Decision, error)
}

// Handler handles punishment endpoints.
type Handler struct {
	logger       *slog.Logger
	punishments  Service
	checker      Checker
	latency      middleware.LatencyObserver
	jwtValidator middleware.JWTValidator
	timeout      time.Duration
}

type nopObserver struct{}

func (nopObserver) ObserveHTTPRequest(string, string, int, float64) {}

// New creates a new punishment Handler. A nil latency observer disables
// request metrics.
func New(
	punishments Service,
	checker Checker,
	logger *slog.Logger,
	latency middleware.LatencyObserver,
	jwtValidator middleware.JWTValidator) *Handler {
	if latency == nil {
		latency = nopObserver{}
	}
	return &Handler{
		logger:       logger,
		punishments:  punishments,
		checker:      checker,
		latency:      latency,
		jwtValidator: jwtValidator,
		timeout:      30 * time.Second,
	}
}

// Register registers the punishment routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.RequestTime)
		router.Use(middleware.ClientIP)
		router.Use(middleware.Logger(h.logger))
		router.Use(chimw.Timeout(h.timeout))
		router.Use(middleware.ContentTypeJSON)
		router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		router.With(middleware.Latency(h.latency, "issue")).Post("/v1/punishments", h.handleIssue)
		router.With(middleware.Latency(h.latency, "get")).Get("/v1/punishments/{id}", h.handleGet)
		router.With(middleware.Latency(h.latency, "lift")).Post("/v1/punishments/{id}/lift", h.handleLift)
		router.With(middleware.Latency(h.latency, "history")).Get("/v1/history", h.handleHistory)
		router.With(middleware.Latency(h.latency, "check_login")).Post("/v1/check/login", h.handleCheckLogin)
		router.With(middleware.Latency(h.latency, "check_chat")).Post("/v1/check/chat", h.handleCheckChat)
	})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var body IssueRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := body.toService(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid issue request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	p, err := h.punishments.Issue(ctx, req)
	if err != nil {
		h.fail(ctx, w, err, "failed to issue punishment")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.punishments.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, err, "failed to get punishment")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleLift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var body LiftRequest
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}

	changed := true
	if body.Strict {
		err = h.punishments.LiftStrict(ctx, id, "", body.Reason)
	} else {
		changed, err = h.punishments.Lift(ctx, id, "", body.Reason)
	}
	if err != nil {
		h.fail(ctx, w, err, "failed to lift punishment")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LiftResponse{ID: id, Lifted: changed})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	target, err := parseTarget(q.Get("player"), q.Get("ip"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := parseInt(q.Get("limit"), "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	offset, err := parseInt(q.Get("offset"), "offset")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.punishments.History(ctx, target, limit, offset)
	if err != nil {
		h.fail(ctx, w, err, "failed to read history")
		return
	}
	if records == nil {
		records = []*models.Punishment{}
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{Punishments: records})
}

func (h *Handler) handleCheckLogin(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, h.checker.CheckBan)
}

func (h *Handler) handleCheckChat(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, h.checker.CheckMute)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request, fn func(context.Context, models.Target) (*enforcement.Decision, error)) {
	ctx := r.Context()
	var body CheckRequest
	if !h.decode(w, r, &body) {
		return
	}
	target, err := parseTarget(body.PlayerID, body.IP)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	decision, err := fn(ctx, target)
	if err != nil {
		h.fail(ctx, w, err, "enforcement check failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDecisionResponse(decision))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		ctx := r.Context()
		h.logger.WarnContext(ctx, "invalid request body",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}

// fail writes err. Client errors are logged at warn, everything else at
// error with the message msg.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	requestID := middleware.GetRequestID(ctx)
	if isClientError(err) {
		h.logger.WarnContext(ctx, msg,
			"request_id", requestID,
			"error", err,
		)
	} else {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func isClientError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	status := httputil.StatusFor(dErrors.CodeOf(err))
	return status >= 400 && status < 500
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "punishment id must be a positive integer")
	}
	return id, nil
}

func parseInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, name+" must be an integer")
	}
	return n, nil
}
