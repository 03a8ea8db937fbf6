package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
)

// Pinger reports whether the product store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	logger  *observability.Logger
	store   Pinger
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(logger *observability.Logger, store Pinger) *HealthHandler {
	return &HealthHandler{logger: logger, store: store, timeout: 2 * time.Second}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, map[string]string{"status": "healthy", "service": "fashion-engine"})
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithContext(r.Context()).Warn().Err(err).Msg("Readiness check failed")
		writeError(w, http.StatusServiceUnavailable, "not ready", "database unreachable")
		return
	}
	writeJSON(w, h.logger, map[string]string{"status": "ready"})
}
