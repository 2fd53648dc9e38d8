package v1

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/agentboard/orchestrator/internal/domain"
)

const gatedJSON = `{
	"id": "release",
	"name": "Release",
	"agents": [{"id": "deployer"}],
	"steps": [
		{"id": "approve", "type": "gate", "gate": {"message": "ship it?"}},
		{"id": "deploy", "type": "agent", "agent": "deployer"}
	]
}`

func createGated(t *testing.T, h *Handler) {
	t.Helper()
	c, rec := newContext(http.MethodPost, "/v1/workflows", gatedJSON, echo.MIMEApplicationJSON)
	if err := h.CreateWorkflow(c); err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartRun(t *testing.T) {
	h := newTestHandler(t, &stubInvoker{fn: func(agent domain.AgentDef, prompt string, runCtx map[string]any) (*domain.InvokeResult, error) {
		return &domain.InvokeResult{Success: true, Output: map[string]any{agent.ID + "_ok": true}}, nil
	}})
	createPipeline(t, h)

	body := `{"task_id": "task_42", "context": {"task": "add dark mode"}}`
	c, rec := newContext(http.MethodPost, "/v1/workflows/feature-pipeline/runs", body, echo.MIMEApplicationJSON, "workflow_id", "feature-pipeline")
	if err := h.StartRun(c); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var run domain.WorkflowRun
	decodeBody(t, rec, &run)
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.TaskID != "task_42" || run.Context["planner_ok"] != true {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestStartRunUnknownWorkflow(t *testing.T) {
	h := newTestHandler(t, nil)
	c, rec := newContext(http.MethodPost, "/v1/workflows/nope/runs", "{}", echo.MIMEApplicationJSON, "workflow_id", "nope")
	if err := h.StartRun(c); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetRunNotFound(t *testing.T) {
	h := newTestHandler(t, nil)
	c, rec := newContext(http.MethodGet, "/v1/workflow-runs/nope", "", "", "run_id", "nope")
	if err := h.GetRun(c); err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestResumeRunFlow(t *testing.T) {
	h := newTestHandler(t, nil)
	createGated(t, h)

	c, rec := newContext(http.MethodPost, "/v1/workflows/release/runs", "{}", echo.MIMEApplicationJSON, "workflow_id", "release")
	if err := h.StartRun(c); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	var run domain.WorkflowRun
	decodeBody(t, rec, &run)
	if run.Status != domain.RunStatusBlocked {
		t.Fatalf("expected blocked run, got %s", run.Status)
	}

	body := `{"context": {"approved": true}}`
	c, rec = newContext(http.MethodPost, "/v1/workflow-runs/"+run.RunID+"/resume", body, echo.MIMEApplicationJSON, "run_id", run.RunID)
	if err := h.ResumeRun(c); err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resumed domain.WorkflowRun
	decodeBody(t, rec, &resumed)
	if resumed.Status != domain.RunStatusCompleted || resumed.Context["approved"] != true {
		t.Fatalf("unexpected resumed run: %+v", resumed)
	}

	// Resuming again hits the not-blocked precondition.
	c, rec = newContext(http.MethodPost, "/v1/workflow-runs/"+run.RunID+"/resume", "{}", echo.MIMEApplicationJSON, "run_id", run.RunID)
	if err := h.ResumeRun(c); err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFailRun(t *testing.T) {
	h := newTestHandler(t, nil)
	createGated(t, h)

	c, rec := newContext(http.MethodPost, "/v1/workflows/release/runs", "{}", echo.MIMEApplicationJSON, "workflow_id", "release")
	if err := h.StartRun(c); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	var run domain.WorkflowRun
	decodeBody(t, rec, &run)

	c, rec = newContext(http.MethodPost, "/v1/workflow-runs/"+run.RunID+"/fail", "{}", echo.MIMEApplicationJSON, "run_id", run.RunID)
	if err := h.FailRun(c); err != nil {
		t.Fatalf("FailRun failed: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", rec.Code)
	}

	body := `{"reason": "requirements changed"}`
	c, rec = newContext(http.MethodPost, "/v1/workflow-runs/"+run.RunID+"/fail", body, echo.MIMEApplicationJSON, "run_id", run.RunID)
	if err := h.FailRun(c); err != nil {
		t.Fatalf("FailRun failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var failed domain.WorkflowRun
	decodeBody(t, rec, &failed)
	if failed.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", failed.Status)
	}
}

func TestListRunsFilters(t *testing.T) {
	h := newTestHandler(t, nil)
	createGated(t, h)

	for i := 0; i < 2; i++ {
		c, rec := newContext(http.MethodPost, "/v1/workflows/release/runs", "{}", echo.MIMEApplicationJSON, "workflow_id", "release")
		if err := h.StartRun(c); err != nil {
			t.Fatalf("StartRun failed: %v", err)
		}
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	}

	c, rec := newContext(http.MethodGet, "/v1/workflow-runs?status=BLOCKED&workflow_id=release", "", "")
	if err := h.ListRuns(c); err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Runs []domain.WorkflowRun `json:"runs"`
	}
	decodeBody(t, rec, &body)
	if len(body.Runs) != 2 {
		t.Fatalf("expected 2 blocked runs, got %d", len(body.Runs))
	}

	c, rec = newContext(http.MethodGet, "/v1/workflow-runs?status=COMPLETED", "", "")
	if err := h.ListRuns(c); err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	decodeBody(t, rec, &body)
	if len(body.Runs) != 0 {
		t.Fatalf("expected no completed runs, got %+v", body.Runs)
	}
}
