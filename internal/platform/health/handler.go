// Package health serves the liveness and readiness probes. Readiness
// aggregates the registered dependency checks (journal database, index
// redis) so the service is only routable once its collaborators answer.
package health

import (
	"maps"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"aegis/pkg/platform/httputil"
)

// CheckFunc probes one dependency; nil means healthy.
type CheckFunc func() error

// Handler answers the health endpoints.
type Handler struct {
	environment string

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// New creates a health handler for the given environment.
func New(environment string) *Handler {
	return &Handler{
		environment: environment,
		checks:      make(map[string]CheckFunc),
	}
}

// RegisterCheck adds a named dependency to the readiness probe.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Register mounts the probe routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleReadiness)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

// HandleLiveness answers 200 whenever the process is running.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessResponse reports the state of every registered dependency.
type ReadinessResponse struct {
	Status      string            `json:"status"`
	Environment string            `json:"environment"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs every registered check and answers 503 when any
// dependency is down.
func (h *Handler) HandleReadiness(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	maps.Copy(checks, h.checks)
	h.mu.RUnlock()

	response := ReadinessResponse{
		Status:      "ready",
		Environment: h.environment,
		Checks:      make(map[string]string),
	}
	for name, check := range checks {
		if err := check(); err != nil {
			response.Checks[name] = "down: " + err.Error()
		} else {
			response.Checks[name] = "up"
		}
	}
	for _, state := range response.Checks {
		if state != "up" {
			response.Status = "not_ready"
			httputil.WriteJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}
