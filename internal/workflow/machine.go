package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentboard/orchestrator/internal/domain"
	store "github.com/agentboard/orchestrator/internal/repository"
)

// Invoker dispatches a rendered prompt to an agent and waits for its
// result. This is the single long-running operation of an advance; the
// engine treats it as an opaque async capability.
type Invoker interface {
	Invoke(ctx context.Context, agent domain.AgentDef, prompt string, runCtx map[string]any) (*domain.InvokeResult, error)
}

// Machine drives a run from PENDING to a terminal state one step at a
// time, applying on_fail and loop policies and persisting every state
// transition before returning, so a crash mid-run loses no more than the
// in-flight step's result. Callers must serialize Advance per run; the
// store's compare-and-swap writes back that discipline up.
type Machine struct {
	store   store.Store
	invoker Invoker
}

// NewMachine creates a run state machine.
func NewMachine(st store.Store, invoker Invoker) *Machine {
	return &Machine{store: st, invoker: invoker}
}

// Advance drives the run until it completes, fails, blocks at a gate, or
// parks behind a retry backoff. Advancing a terminal run is a no-op.
func (m *Machine) Advance(ctx context.Context, run *domain.WorkflowRun) error {
	for {
		progressed, err := m.advanceOnce(ctx, run)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// advanceOnce applies at most one dispatch cycle. It returns true when a
// state transition was committed and the run may be able to make further
// progress.
func (m *Machine) advanceOnce(ctx context.Context, run *domain.WorkflowRun) (bool, error) {
	if run.Status.IsTerminal() || run.Status == domain.RunStatusBlocked {
		return false, nil
	}

	if run.Status == domain.RunStatusPending {
		run.Status = domain.RunStatusRunning
		if run.CurrentStep == "" && len(run.Definition.Steps) > 0 {
			run.CurrentStep = run.Definition.Steps[0].ID
		}
		if err := m.store.SaveRun(ctx, run); err != nil {
			return false, err
		}
		return true, nil
	}

	idx := run.Definition.StepIndex()
	pos, ok := idx[run.CurrentStep]
	if !ok {
		return false, fmt.Errorf("run %s points at unknown step %q", run.RunID, run.CurrentStep)
	}
	step := &run.Definition.Steps[pos]
	rec := run.StepRecordByID(step.ID)
	if rec == nil {
		return false, fmt.Errorf("run %s has no record for step %q", run.RunID, step.ID)
	}

	// A completed record at the cursor means the run was repositioned past
	// it (gate resumed, or an auxiliary verify step already executed by a
	// loop). Move on without dispatching.
	if rec.Status == domain.StepStatusCompleted {
		m.advanceCursor(run, pos)
		if err := m.store.SaveRun(ctx, run); err != nil {
			return false, err
		}
		return true, nil
	}

	if step.Type == domain.StepTypeGate {
		now := time.Now()
		rec.Status = domain.StepStatusBlocked
		if rec.StartedAt == nil {
			rec.StartedAt = &now
		}
		run.Status = domain.RunStatusBlocked
		if err := m.store.SaveRun(ctx, run); err != nil {
			return false, err
		}
		return true, nil
	}

	if ready, _ := IsReady(run, time.Now()); !ready {
		return false, nil
	}

	// Commit the dispatch before any side effect so a crash replays from
	// here instead of from a half-applied transition.
	now := time.Now()
	run.NotBefore = nil
	rec.Status = domain.StepStatusRunning
	rec.Attempts++
	if rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if err := m.store.SaveRun(ctx, run); err != nil {
		return false, err
	}

	res := m.dispatch(ctx, run, step)
	if res.Success {
		mergeOutput(run, rec, res.Output)
		if step.Type == domain.StepTypeLoop {
			return m.finishLoopIteration(ctx, run, step, rec, pos)
		}
		m.completeStep(run, rec, pos)
		return true, m.store.SaveRun(ctx, run)
	}
	return m.handleFailure(ctx, run, step, rec, res.ErrorMessage)
}

// dispatch renders the step's prompt and invokes its agent. Adapter and
// render errors are converted into step failures, never propagated.
func (m *Machine) dispatch(ctx context.Context, run *domain.WorkflowRun, step *domain.Step) *domain.InvokeResult {
	agent := run.Definition.AgentByID(step.Agent)
	if agent == nil {
		return &domain.InvokeResult{ErrorMessage: fmt.Sprintf("step %s references unknown agent %q", step.ID, step.Agent)}
	}
	prompt, err := Render(step.Prompt, run.Context)
	if err != nil {
		return &domain.InvokeResult{ErrorMessage: fmt.Sprintf("failed to render step %s: %v", step.ID, err)}
	}
	res, err := m.invoker.Invoke(ctx, *agent, prompt, run.Context)
	if err != nil {
		return &domain.InvokeResult{ErrorMessage: fmt.Sprintf("agent invocation failed: %v", err)}
	}
	if res == nil {
		return &domain.InvokeResult{ErrorMessage: "agent returned no result"}
	}
	return res
}

// finishLoopIteration runs the loop's verify step and decides whether to
// complete the loop, iterate again, or fail the run.
func (m *Machine) finishLoopIteration(ctx context.Context, run *domain.WorkflowRun, step *domain.Step, rec *domain.StepRecord, pos int) (bool, error) {
	verify := run.Definition.StepByID(step.Loop.VerifyStep)
	vrec := run.StepRecordByID(step.Loop.VerifyStep)
	if verify == nil || vrec == nil {
		return m.handleFailure(ctx, run, step, rec, fmt.Sprintf("loop %s references unknown verify step %q", step.ID, step.Loop.VerifyStep))
	}

	vrec.Attempts++
	vres := m.dispatch(ctx, run, verify)
	rec.Iterations++

	if vres.Success {
		now := time.Now()
		mergeOutput(run, vrec, vres.Output)
		vrec.Status = domain.StepStatusCompleted
		vrec.CompletedAt = &now
		m.completeStep(run, rec, pos)
		return true, m.store.SaveRun(ctx, run)
	}

	if rec.Iterations < step.Loop.MaxIterations {
		rec.Status = domain.StepStatusPending
		log.Printf("INFO: run %s loop %s iteration %d did not verify, retrying", run.RunID, step.ID, rec.Iterations)
		return true, m.store.SaveRun(ctx, run)
	}
	return m.fail(ctx, run, rec, fmt.Sprintf("verification failed after %d iterations: %s", rec.Iterations, vres.ErrorMessage))
}

// handleFailure applies the step's on_fail policy: reposition for a retry
// when attempts remain, otherwise fail the run.
func (m *Machine) handleFailure(ctx context.Context, run *domain.WorkflowRun, step *domain.Step, rec *domain.StepRecord, msg string) (bool, error) {
	if step.OnFail != nil && rec.Attempts-1 < step.OnFail.MaxRetries {
		m.reposition(run, step.OnFail.RetryStep, step.ID)
		if delay := retryDelay(step.OnFail, rec.Attempts); delay > 0 {
			t := time.Now().Add(delay)
			run.NotBefore = &t
		}
		log.Printf("INFO: run %s step %s failed (attempt %d/%d), retrying from %s: %s",
			run.RunID, step.ID, rec.Attempts, step.OnFail.MaxRetries+1, step.OnFail.RetryStep, msg)
		return true, m.store.SaveRun(ctx, run)
	}
	return m.fail(ctx, run, rec, msg)
}

// reposition moves the cursor back to retryStep and resets every record
// from there through the failed step so the stage re-runs. Attempt counts
// are preserved; retries accumulate against max_retries.
func (m *Machine) reposition(run *domain.WorkflowRun, retryStep, failedStep string) {
	idx := run.Definition.StepIndex()
	from, to := idx[retryStep], idx[failedStep]
	for i := from; i <= to; i++ {
		rec := run.StepRecordByID(run.Definition.Steps[i].ID)
		if rec == nil {
			continue
		}
		rec.Status = domain.StepStatusPending
		rec.Error = ""
		rec.CompletedAt = nil
	}
	run.CurrentStep = retryStep
}

func (m *Machine) completeStep(run *domain.WorkflowRun, rec *domain.StepRecord, pos int) {
	now := time.Now()
	rec.Status = domain.StepStatusCompleted
	rec.Error = ""
	rec.CompletedAt = &now
	m.advanceCursor(run, pos)
}

func (m *Machine) advanceCursor(run *domain.WorkflowRun, pos int) {
	if pos+1 < len(run.Definition.Steps) {
		run.CurrentStep = run.Definition.Steps[pos+1].ID
		return
	}
	now := time.Now()
	run.Status = domain.RunStatusCompleted
	run.CurrentStep = ""
	run.CompletedAt = &now
}

func (m *Machine) fail(ctx context.Context, run *domain.WorkflowRun, rec *domain.StepRecord, msg string) (bool, error) {
	now := time.Now()
	rec.Status = domain.StepStatusFailed
	rec.Error = msg
	rec.CompletedAt = &now
	run.Status = domain.RunStatusFailed
	run.Error = fmt.Sprintf("step %s: %s", rec.StepID, msg)
	run.CurrentStep = ""
	run.CompletedAt = &now
	log.Printf("ERROR: run %s failed: %s", run.RunID, run.Error)
	return true, m.store.SaveRun(ctx, run)
}

// retryDelay computes the backoff before retry number retriesDone. The
// policy's backoff string is the initial interval of an exponential
// schedule; an empty or malformed value means no delay.
func retryDelay(p *domain.OnFailPolicy, retriesDone int) time.Duration {
	if p.Backoff == "" {
		return 0
	}
	initial, err := time.ParseDuration(p.Backoff)
	if err != nil || initial <= 0 {
		log.Printf("WARN: ignoring malformed backoff %q", p.Backoff)
		return 0
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Minute
	bo.MaxElapsedTime = 0

	var d time.Duration
	for i := 0; i < retriesDone; i++ {
		d = bo.NextBackOff()
	}
	return d
}

func mergeOutput(run *domain.WorkflowRun, rec *domain.StepRecord, output map[string]any) {
	if output == nil {
		return
	}
	rec.Output = output
	if run.Context == nil {
		run.Context = map[string]any{}
	}
	for k, v := range output {
		run.Context[k] = v
	}
}
