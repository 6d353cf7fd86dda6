package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports liveness and the state of the dependencies.
type HealthHandler struct {
	instanceID string
	checks     map[string]HealthCheck
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string            `json:"status"`
	Instance string            `json:"instance"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// NewHealthHandler creates a HealthHandler running checks on every request.
func NewHealthHandler(instanceID string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{instanceID: instanceID, checks: checks}
}

// Get handles GET /healthz. Any failing check turns the response into a 503.
func (h *HealthHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Instance: h.instanceID}
	status := http.StatusOK

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	return c.JSON(status, resp)
}
