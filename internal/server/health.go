package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teemow/mailauth/internal/auth"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusDegraded     = "degraded"
)

// CycleSource reports the most recent token keeper pass. *auth.Keeper satisfies it.
type CycleSource interface {
	LastCycle() (auth.CycleReport, bool)
}

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	// ready is set once the first keeper pass has finished
	ready        atomic.Bool
	shuttingDown atomic.Bool
	keeper       CycleSource
	startTime    time.Time
}

// NewHealthChecker creates a new HealthChecker. keeper may be nil, in which
// case the checker starts ready.
func NewHealthChecker(keeper CycleSource) *HealthChecker {
	h := &HealthChecker{
		keeper:    keeper,
		startTime: time.Now(),
	}
	h.ready.Store(keeper == nil)
	return h
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load() && !h.shuttingDown.Load()
}

// SetShuttingDown marks the process as draining.
func (h *HealthChecker) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

// ObserveCycle is a keeper cycle hook that marks the server ready after the
// first pass.
func (h *HealthChecker) ObserveCycle(auth.CycleReport) {
	h.ready.Store(true)
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status    string     `json:"status"`
	Uptime    string     `json:"uptime"`
	LastCycle *CycleInfo `json:"last_cycle,omitempty"`
}

// CycleInfo is the JSON view of a keeper pass.
type CycleInfo struct {
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
	Accounts int       `json:"accounts"`
	Failed   int       `json:"failed"`
	Error    string    `json:"error,omitempty"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// Liveness probes indicate whether the process should be restarted.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		checks := map[string]string{
			"keeper":   healthStatusOK,
			"shutdown": healthStatusOK,
		}
		if !h.ready.Load() {
			checks["keeper"] = healthStatusNotReady
		}
		if h.shuttingDown.Load() {
			checks["shutdown"] = healthStatusShuttingDown
		}

		response := HealthResponse{Status: healthStatusOK, Checks: checks}
		status := http.StatusOK
		if !h.IsReady() {
			response.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	})
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed
// endpoint. A last pass with failures reports "degraded" but stays 200.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response := DetailedHealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		}

		if h.keeper != nil {
			if report, ok := h.keeper.LastCycle(); ok {
				info := &CycleInfo{
					Started:  report.Started,
					Duration: report.Duration.String(),
					Accounts: report.Accounts,
					Failed:   report.Failed,
				}
				if report.Err != nil {
					info.Error = report.Err.Error()
				}
				response.LastCycle = info
				if report.Failed > 0 || report.Err != nil {
					response.Status = healthStatusDegraded
				}
			}
		}

		status := http.StatusOK
		switch {
		case h.shuttingDown.Load():
			response.Status = healthStatusShuttingDown
			status = http.StatusServiceUnavailable
		case !h.ready.Load():
			response.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("GET /healthz", h.LivenessHandler())
	mux.Handle("GET /readyz", h.ReadinessHandler())
	mux.Handle("GET /healthz/detailed", h.DetailedHealthHandler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
