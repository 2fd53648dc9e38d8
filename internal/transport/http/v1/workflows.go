package v1

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	"github.com/agentboard/orchestrator/internal/domain"
)

// bindDefinition decodes a workflow definition from the request body.
// JSON is the default; a yaml Content-Type switches to the human-editable
// YAML form.
func bindDefinition(c echo.Context) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.Contains(contentType, "yaml") || strings.Contains(contentType, "yml") {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(body, &def); err != nil {
			return nil, err
		}
		return &def, nil
	}
	if err := c.Bind(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ListWorkflows lists all valid definitions; invalid ones are omitted.
// GET /v1/workflows
func (h *Handler) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	defs, err := h.defs.List(ctx)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflows": defs,
	})
}

// GetWorkflow fetches one definition.
// GET /v1/workflows/:workflow_id
func (h *Handler) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("workflow_id")

	def, err := h.defs.Load(ctx, workflowID)
	if err != nil {
		return writeError(c, err)
	}
	if def == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "workflow not found"})
	}
	return c.JSON(http.StatusOK, def)
}

// CreateWorkflow creates a definition at version 1.
// POST /v1/workflows
func (h *Handler) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	def, err := bindDefinition(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
	}
	if def.ID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "id is required"})
	}

	existing, err := h.defs.Load(ctx, def.ID)
	if err != nil {
		return writeError(c, err)
	}
	if existing != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "workflow already exists"})
	}

	def.Version = 1
	if err := h.defs.Save(ctx, def, actor(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, def)
}

// ReplaceWorkflow replaces a definition; the server computes the next
// version.
// PUT /v1/workflows/:workflow_id
func (h *Handler) ReplaceWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("workflow_id")

	def, err := bindDefinition(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
	}
	if err := h.defs.Replace(ctx, workflowID, def, actor(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

// DeleteWorkflow deletes a definition. Existing runs are unaffected.
// DELETE /v1/workflows/:workflow_id
func (h *Handler) DeleteWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("workflow_id")

	if err := h.defs.Delete(ctx, workflowID, actor(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetWorkflowAudit returns the audit trail for a workflow.
// GET /v1/workflows/:workflow_id/audit
func (h *Handler) GetWorkflowAudit(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("workflow_id")

	entries, err := h.defs.Audit(ctx, workflowID, 100)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}
