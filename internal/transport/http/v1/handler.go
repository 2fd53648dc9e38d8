// Package v1 provides HTTP handlers for the workflow engine.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentboard/orchestrator/internal/domain"
	"github.com/agentboard/orchestrator/internal/workflow"
)

// Handler handles HTTP requests.
type Handler struct {
	defs  *workflow.Definitions
	sched *workflow.Scheduler
}

// NewHandler creates a new handler.
func NewHandler(defs *workflow.Definitions, sched *workflow.Scheduler) *Handler {
	return &Handler{defs: defs, sched: sched}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Workflow definition API
	e.GET("/v1/workflows", h.ListWorkflows)
	e.GET("/v1/workflows/:workflow_id", h.GetWorkflow)
	e.POST("/v1/workflows", h.CreateWorkflow)
	e.PUT("/v1/workflows/:workflow_id", h.ReplaceWorkflow)
	e.DELETE("/v1/workflows/:workflow_id", h.DeleteWorkflow)
	e.GET("/v1/workflows/:workflow_id/audit", h.GetWorkflowAudit)

	// Run API
	e.POST("/v1/workflows/:workflow_id/runs", h.StartRun)
	e.GET("/v1/workflow-runs", h.ListRuns)
	e.GET("/v1/workflow-runs/:run_id", h.GetRun)
	e.POST("/v1/workflow-runs/:run_id/resume", h.ResumeRun)
	e.POST("/v1/workflow-runs/:run_id/fail", h.FailRun)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// actor extracts the acting principal from the request. Authentication
// itself is an upstream concern; the header is trusted here.
func actor(c echo.Context) string {
	if a := c.Request().Header.Get("X-Actor"); a != "" {
		return a
	}
	return "anonymous"
}

// writeError maps domain errors to HTTP status codes.
func writeError(c echo.Context, err error) error {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotBlocked):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
