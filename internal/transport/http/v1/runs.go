package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentboard/orchestrator/internal/domain"
)

// StartRunRequest is the body for starting a run.
type StartRunRequest struct {
	TaskID  string         `json:"task_id,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ResumeRunRequest is the body for resuming a blocked run.
type ResumeRunRequest struct {
	Context map[string]any `json:"context,omitempty"`
}

// FailRunRequest is the body for force-failing a run.
type FailRunRequest struct {
	Reason string `json:"reason"`
}

// StartRun starts a run of a workflow.
// POST /v1/workflows/:workflow_id/runs
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("workflow_id")

	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	run, err := h.sched.StartRun(ctx, workflowID, req.TaskID, req.Context, actor(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// ListRuns lists runs with optional task_id, workflow_id and status
// filters.
// GET /v1/workflow-runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	filter := domain.RunFilter{
		TaskID:     c.QueryParam("task_id"),
		WorkflowID: c.QueryParam("workflow_id"),
		Status:     domain.RunStatus(c.QueryParam("status")),
	}
	runs, err := h.sched.ListRuns(ctx, filter)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GetRun fetches one run.
// GET /v1/workflow-runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.sched.GetRun(ctx, runID)
	if err != nil {
		return writeError(c, err)
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, run)
}

// ResumeRun resumes a blocked run past its gate.
// POST /v1/workflow-runs/:run_id/resume
func (h *Handler) ResumeRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	var req ResumeRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	run, err := h.sched.ResumeRun(ctx, runID, req.Context, actor(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// FailRun force-fails a run. Administrative escape hatch, audited.
// POST /v1/workflow-runs/:run_id/fail
func (h *Handler) FailRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	var req FailRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Reason == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "reason is required"})
	}

	run, err := h.sched.FailRun(ctx, runID, req.Reason, actor(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}
