// Package health provides liveness and readiness endpoints for the gateway.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	syncerrors "github.com/devrev/pairdb/docsync/internal/errors"
	"go.uber.org/zap"
)

// Pinger is a dependency readiness depends on
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HealthCheck manages health check functionality
type HealthCheck struct {
	checks  map[string]Pinger
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.RWMutex
	ready     bool
	lastCheck time.Time
}

// NewHealthCheck creates a health check over the named dependencies
func NewHealthCheck(checks map[string]Pinger, timeout time.Duration, logger *zap.Logger) *HealthCheck {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthCheck{
		checks:  checks,
		timeout: timeout,
		logger:  logger,
	}
}

// LivenessResponse represents the response for the liveness check
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler returns 200 OK while the process is running
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	syncerrors.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler pings every dependency and returns 503 if any fails
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
	defer cancel()

	resp, ok := hc.Check(ctx)
	if !ok {
		syncerrors.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	syncerrors.WriteJSON(w, http.StatusOK, resp)
}

// Check pings every dependency once
func (hc *HealthCheck) Check(ctx context.Context) (ReadinessResponse, bool) {
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	ok := true
	for _, name := range names {
		if err := hc.checks[name].Ping(ctx); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = "unhealthy"
			if resp.Error == "" {
				resp.Error = name + ": " + err.Error()
			}
			ok = false
			continue
		}
		resp.Checks[name] = "healthy"
	}
	if !ok {
		resp.Status = "not_ready"
	}

	hc.mu.Lock()
	hc.ready = ok
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	return resp, ok
}

// IsReady returns the result of the last check
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}
