package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentboard/orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleDefinition(id string, version int) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:      id,
		Name:    "Build pipeline",
		Version: version,
		Agents:  []domain.AgentDef{{ID: "planner"}, {ID: "coder"}},
		Steps: []domain.Step{
			{ID: "plan", Type: domain.StepTypeAgent, Agent: "planner"},
			{ID: "code", Type: domain.StepTypeAgent, Agent: "coder"},
		},
	}
}

func TestSQLiteStoreWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	def := sampleDefinition("wf1", 1)
	if err := store.SaveWorkflow(ctx, def); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}

	got, err := store.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if got == nil || got.Name != "Build pipeline" || len(got.Steps) != 2 {
		t.Fatalf("unexpected workflow: %+v", got)
	}
	if got.Steps[0].ID != "plan" || got.Steps[0].Agent != "planner" {
		t.Fatalf("unexpected first step: %+v", got.Steps[0])
	}

	missing, err := store.GetWorkflow(ctx, "nope")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing workflow, got %+v", missing)
	}
}

func TestSQLiteStoreWorkflowReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SaveWorkflow(ctx, sampleDefinition("wf1", 1)); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}
	if err := store.SaveWorkflow(ctx, sampleDefinition("wf1", 2)); err != nil {
		t.Fatalf("SaveWorkflow (replace) failed: %v", err)
	}

	got, err := store.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}

	ids, err := store.ListWorkflowIDs(ctx)
	if err != nil {
		t.Fatalf("ListWorkflowIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "wf1" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if err := store.DeleteWorkflow(ctx, "wf1"); err != nil {
		t.Fatalf("DeleteWorkflow failed: %v", err)
	}
	got, err = store.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected workflow to be gone, got %+v", got)
	}
}

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &domain.WorkflowRun{
		RunID:           "run_1",
		WorkflowID:      "wf1",
		WorkflowVersion: 1,
		TaskID:          "task_9",
		Status:          domain.RunStatusPending,
		Context:         map[string]any{"goal": "ship it"},
		Steps: []domain.StepRecord{
			{StepID: "plan", Status: domain.StepStatusPending},
			{StepID: "code", Status: domain.StepStatusPending},
		},
		Definition: *sampleDefinition("wf1", 1),
		StartedAt:  time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil || got.Status != domain.RunStatusPending {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.Context["goal"] != "ship it" {
		t.Fatalf("context not round-tripped: %+v", got.Context)
	}
	if len(got.Steps) != 2 || got.Steps[0].StepID != "plan" {
		t.Fatalf("steps not round-tripped: %+v", got.Steps)
	}
	if len(got.Definition.Steps) != 2 {
		t.Fatalf("definition snapshot not round-tripped: %+v", got.Definition)
	}
}

func TestSQLiteStoreSaveRunCAS(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &domain.WorkflowRun{
		RunID:      "run_1",
		WorkflowID: "wf1",
		Status:     domain.RunStatusRunning,
		Context:    map[string]any{},
		Definition: *sampleDefinition("wf1", 1),
		StartedAt:  time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	fresh, err := store.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}

	run.Status = domain.RunStatusCompleted
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	// The copy loaded before the first save now carries a stale seq.
	fresh.Status = domain.RunStatusFailed
	err = store.SaveRun(ctx, fresh)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale write, got %v", err)
	}

	got, err := store.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("stale write must not win: %+v", got.Status)
	}

	missing := &domain.WorkflowRun{RunID: "nope", Context: map[string]any{}, Definition: *sampleDefinition("wf1", 1)}
	if err := store.SaveRun(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreListRunsFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	def := *sampleDefinition("wf1", 1)

	runs := []*domain.WorkflowRun{
		{RunID: "r1", WorkflowID: "wf1", TaskID: "t1", Status: domain.RunStatusCompleted, Definition: def, StartedAt: time.Now().Add(-2 * time.Hour)},
		{RunID: "r2", WorkflowID: "wf1", TaskID: "t2", Status: domain.RunStatusBlocked, Definition: def, StartedAt: time.Now().Add(-time.Hour)},
		{RunID: "r3", WorkflowID: "wf2", TaskID: "t1", Status: domain.RunStatusCompleted, Definition: def, StartedAt: time.Now()},
	}
	for _, r := range runs {
		r.Context = map[string]any{}
		if err := store.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	byTask, err := store.ListRuns(ctx, domain.RunFilter{TaskID: "t1"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(byTask) != 2 {
		t.Fatalf("expected 2 runs for t1, got %d", len(byTask))
	}

	byWorkflow, err := store.ListRuns(ctx, domain.RunFilter{WorkflowID: "wf1"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(byWorkflow) != 2 {
		t.Fatalf("expected 2 runs for wf1, got %d", len(byWorkflow))
	}

	blocked, err := store.ListRuns(ctx, domain.RunFilter{Status: domain.RunStatusBlocked})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(blocked) != 1 || blocked[0].RunID != "r2" {
		t.Fatalf("unexpected blocked runs: %+v", blocked)
	}
}

func TestSQLiteStoreAuditAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	entries := []*domain.AuditEntry{
		{EntryID: "a1", Kind: "workflow_saved", WorkflowID: "wf1", Actor: "alice", CreatedAt: time.Now().Add(-time.Minute)},
		{EntryID: "a2", Kind: "workflow_deleted", WorkflowID: "wf1", Actor: "bob", CreatedAt: time.Now()},
	}
	for _, e := range entries {
		if err := store.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit failed: %v", err)
		}
	}

	got, err := store.ListAudit(ctx, "wf1", 10)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].EntryID != "a2" {
		t.Fatalf("expected newest first, got %+v", got)
	}
}
