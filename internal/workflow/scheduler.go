package workflow

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentboard/orchestrator/internal/domain"
	store "github.com/agentboard/orchestrator/internal/repository"
)

// AccessChecker is the capability check consulted before run-mutating
// operations.
type AccessChecker interface {
	CanStart(ctx context.Context, workflowID, actor string) (bool, error)
	CanResume(ctx context.Context, workflowID, actor string) (bool, error)
}

// Scheduler is the operational surface over the run state machine: the
// only component external callers touch. Advances are serialized per run
// with an in-process lock; the store's compare-and-swap writes reject any
// advance that slips past it.
type Scheduler struct {
	store   store.Store
	defs    *Definitions
	machine *Machine
	acl     AccessChecker

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewScheduler creates a run scheduler.
func NewScheduler(st store.Store, defs *Definitions, machine *Machine, acl AccessChecker) *Scheduler {
	return &Scheduler{
		store:   st,
		defs:    defs,
		machine: machine,
		acl:     acl,
		locks:   make(map[string]*sync.Mutex),
	}
}

// StartRun snapshots the workflow's current version and step list into a
// new run record and drives the first advance. Concurrent starts for the
// same workflow are independent.
func (s *Scheduler) StartRun(ctx context.Context, workflowID, taskID string, initCtx map[string]any, actor string) (*domain.WorkflowRun, error) {
	if s.acl != nil {
		allowed, err := s.acl.CanStart(ctx, workflowID, actor)
		if err != nil {
			return nil, fmt.Errorf("acl check failed: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("start run on %s: %w", workflowID, domain.ErrForbidden)
		}
	}

	def, err := s.defs.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}

	runCtx := make(map[string]any, len(initCtx))
	for k, v := range initCtx {
		runCtx[k] = v
	}
	records := make([]domain.StepRecord, len(def.Steps))
	for i, st := range def.Steps {
		records[i] = domain.StepRecord{StepID: st.ID, Status: domain.StepStatusPending}
	}

	run := &domain.WorkflowRun{
		RunID:           "run_" + uuid.New().String()[:8],
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		TaskID:          taskID,
		Status:          domain.RunStatusPending,
		Context:         runCtx,
		Steps:           records,
		Definition:      *def,
		StartedAt:       time.Now(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	unlock := s.lockRun(run.RunID)
	defer unlock()
	if err := s.machine.Advance(ctx, run); err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		s.forgetLock(run.RunID)
	}
	return run, nil
}

// Advance loads the run and drives the state machine. Safe to call
// repeatedly: advancing a terminal run is a no-op.
func (s *Scheduler) Advance(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	unlock := s.lockRun(runID)
	defer unlock()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	if err := s.machine.Advance(ctx, run); err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		s.forgetLock(runID)
	}
	return run, nil
}

// ResumeRun unblocks a run parked at a gate: merges supplied context,
// completes the gate step and advances. Resuming a run that is not
// blocked is a rejected precondition, not a no-op.
func (s *Scheduler) ResumeRun(ctx context.Context, runID string, extra map[string]any, actor string) (*domain.WorkflowRun, error) {
	unlock := s.lockRun(runID)
	defer unlock()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	if s.acl != nil {
		allowed, err := s.acl.CanResume(ctx, run.WorkflowID, actor)
		if err != nil {
			return nil, fmt.Errorf("acl check failed: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("resume run %s: %w", runID, domain.ErrForbidden)
		}
	}
	if run.Status != domain.RunStatusBlocked {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, domain.ErrNotBlocked)
	}

	for k, v := range extra {
		run.Context[k] = v
	}
	now := time.Now()
	if rec := run.StepRecordByID(run.CurrentStep); rec != nil {
		rec.Status = domain.StepStatusCompleted
		rec.CompletedAt = &now
	}
	run.Status = domain.RunStatusRunning
	if err := s.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	if err := s.machine.Advance(ctx, run); err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		s.forgetLock(runID)
	}
	return run, nil
}

// FailRun force-fails a run out of band. This bypasses the normal state
// graph and is logged and audited distinctly from a natural failure.
func (s *Scheduler) FailRun(ctx context.Context, runID, reason, actor string) (*domain.WorkflowRun, error) {
	unlock := s.lockRun(runID)
	defer unlock()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is already %s", runID, run.Status)
	}

	now := time.Now()
	run.Status = domain.RunStatusFailed
	run.Error = "force-failed: " + reason
	run.CurrentStep = ""
	run.CompletedAt = &now
	if err := s.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	log.Printf("WARN: run %s force-failed by %s: %s", runID, actor, reason)
	s.audit(ctx, "run_force_failed", run.WorkflowID, actor, runID+": "+reason)
	s.forgetLock(runID)
	return run, nil
}

// GetRun returns a run, or nil when absent.
func (s *Scheduler) GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	return s.store.GetRun(ctx, runID)
}

// ListRuns lists runs matching the filter.
func (s *Scheduler) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.WorkflowRun, error) {
	return s.store.ListRuns(ctx, filter)
}

// Poll re-advances runs whose retry backoff elapsed. Run it in its own
// goroutine; it returns when ctx is cancelled.
func (s *Scheduler) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := s.store.ListRunsDue(ctx, 50)
			if err != nil {
				log.Printf("ERROR: failed to list due runs: %v", err)
				continue
			}
			for _, id := range ids {
				if _, err := s.Advance(ctx, id); err != nil {
					log.Printf("ERROR: failed to advance run %s: %v", id, err)
				}
			}
		}
	}
}

// lockRun serializes advances per run id.
func (s *Scheduler) lockRun(runID string) func() {
	s.mu.Lock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// forgetLock drops a terminal run's lock entry so the map stays bounded
// by the number of live runs. A racing advance may mint a fresh mutex for
// the same run; the store's compare-and-swap still rejects stale writes.
func (s *Scheduler) forgetLock(runID string) {
	s.mu.Lock()
	delete(s.locks, runID)
	s.mu.Unlock()
}

func (s *Scheduler) audit(ctx context.Context, kind, workflowID, actor, detail string) {
	entry := &domain.AuditEntry{
		EntryID:    "audit_" + uuid.New().String()[:8],
		Kind:       kind,
		WorkflowID: workflowID,
		Actor:      actor,
		Detail:     detail,
		CreatedAt:  time.Now(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		log.Printf("ERROR: failed to append audit entry: %v", err)
	}
}
