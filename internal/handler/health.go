package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

type ServiceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // operational, degraded, outage
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks    map[string]Check
	logger    logger.Logger
	startTime time.Time
	// slow marks a passing check as degraded.
	slow time.Duration
}

func NewHealthHandler(checks map[string]Check, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		logger:    log,
		startTime: time.Now(),
		slow:      200 * time.Millisecond,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}, h.logger)
}

// Ready runs every check and reports 503 when any is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	services := make([]ServiceStatus, 0, len(names))
	code := http.StatusOK
	for _, name := range names {
		start := time.Now()
		err := h.checks[name](ctx)
		st := ServiceStatus{Name: name, Status: "operational", LatencyMs: time.Since(start).Milliseconds()}
		switch {
		case err != nil:
			st.Status = "outage"
			st.Error = err.Error()
			code = http.StatusServiceUnavailable
			h.logger.Error("Readiness check failed", map[string]interface{}{
				"check": name,
				"error": err.Error(),
			})
		case time.Since(start) > h.slow:
			st.Status = "degraded"
		}
		services = append(services, st)
	}

	status := "ready"
	if code != http.StatusOK {
		status = "not_ready"
	}
	respondJSON(w, code, map[string]interface{}{
		"status":   status,
		"services": services,
	}, h.logger)
}
