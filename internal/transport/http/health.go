package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Proximyst/ban/pkg/platform/httputil"
)

// Probe reports whether one backend is reachable.
type Probe func(ctx context.Context) error

// Health runs named probes concurrently.
type Health struct {
	probes  map[string]Probe
	timeout time.Duration
	logger  *slog.Logger
}

func NewHealth(logger *slog.Logger, timeout time.Duration) *Health {
	return &Health{
		probes:  make(map[string]Probe),
		timeout: timeout,
		logger:  logger,
	}
}

// Add registers a probe. Call before serving.
func (h *Health) Add(name string, probe Probe) *Health {
	h.probes[name] = probe
	return h
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Check runs every probe and reports the result per name.
func (h *Health) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]string, len(h.probes))
	healthy := true

	var g errgroup.Group
	for name, probe := range h.probes {
		g.Go(func() error {
			err := probe(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				results[name] = err.Error()
				h.logger.WarnContext(ctx, "health probe failed", "probe", name, "error", err)
				return nil
			}
			results[name] = "ok"
			return nil
		})
	}
	_ = g.Wait()
	return results, healthy
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	results, healthy := h.Check(r.Context())
	if !healthy {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Checks: results})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: results})
}
