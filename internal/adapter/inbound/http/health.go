package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/olegmukhin/thoughtgate/internal/domain/approval"
	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
	"github.com/olegmukhin/thoughtgate/internal/service"
)

// HealthResponse is the JSON body of the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports process readiness and the health of the two
// components whose degradation matters most: the policy engine (is it
// still running on the embedded unsafe default, or has hot reload started
// failing) and the approval pipeline (how many records are pending).
type HealthChecker struct {
	lifecycle *service.Lifecycle
	engine    policy.Engine
	approvals *approval.Store
	version   string
}

// NewHealthChecker builds a HealthChecker. approvals may be nil if the
// approval pipeline is not wired (embedded-default policy with no Approve
// rules ever produced).
func NewHealthChecker(lifecycle *service.Lifecycle, engine policy.Engine, approvals *approval.Store, version string) *HealthChecker {
	return &HealthChecker{lifecycle: lifecycle, engine: engine, approvals: approvals, version: version}
}

// Check runs every component check and aggregates them into one response.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if !h.lifecycle.Ready() {
		checks["lifecycle"] = "not ready"
		healthy = false
	} else {
		checks["lifecycle"] = fmt.Sprintf("ready, in_flight=%d", h.lifecycle.InFlight())
	}

	if h.engine != nil {
		stats := h.engine.Stats()
		if stats.Source == policy.SourceEmbedded {
			checks["policy"] = "degraded: running on the embedded permissive default"
			healthy = false
		} else {
			checks["policy"] = fmt.Sprintf("ok: %d rules, source=%s", stats.PolicyCount, stats.Source)
		}
		if stats.ReloadFailureCount > 0 {
			checks["policy_reload"] = fmt.Sprintf("%d failed reload(s) since start; previous bundle remains active", stats.ReloadFailureCount)
		}
	} else {
		checks["policy"] = "not configured"
	}

	if h.approvals != nil {
		checks["approvals_pending"] = fmt.Sprintf("%d", h.approvals.Len())
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns the /health endpoint's http.Handler.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
