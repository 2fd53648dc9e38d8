package domain

import "time"

// RunStatus represents the status of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusBlocked   RunStatus = "BLOCKED"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// StepStatus represents the status of one step record within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusBlocked   StepStatus = "BLOCKED"
)

// StepRecord is the per-run execution state of one definition step.
// Attempts counts invocations (initial try included); Iterations counts
// completed verify cycles on loop steps.
type StepRecord struct {
	StepID      string         `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	Iterations  int            `json:"iterations,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// WorkflowRun is one execution instance of a workflow definition. The run
// carries its own snapshot of the definition so that later edits or a
// delete of the source workflow never alter an in-flight run.
type WorkflowRun struct {
	RunID           string             `json:"run_id"`
	WorkflowID      string             `json:"workflow_id"`
	WorkflowVersion int                `json:"workflow_version"`
	TaskID          string             `json:"task_id,omitempty"`
	Status          RunStatus          `json:"status"`
	Context         map[string]any     `json:"context"`
	Steps           []StepRecord       `json:"steps"`
	CurrentStep     string             `json:"current_step,omitempty"`
	Definition      WorkflowDefinition `json:"definition"`
	NotBefore       *time.Time         `json:"not_before,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Error           string             `json:"error,omitempty"`

	// Seq is the persistence sequence number used for compare-and-swap
	// writes; a stale save is rejected by the store.
	Seq int64 `json:"-"`
}

// StepRecordByID returns the record for the given step id, or nil.
func (r *WorkflowRun) StepRecordByID(stepID string) *StepRecord {
	for i := range r.Steps {
		if r.Steps[i].StepID == stepID {
			return &r.Steps[i]
		}
	}
	return nil
}

// RunFilter narrows ListRuns results. Zero-valued fields match everything.
type RunFilter struct {
	TaskID     string
	WorkflowID string
	Status     RunStatus
}

// AuditEntry is an append-only record of a definition or ACL-relevant
// change. Entries are written once and never mutated.
type AuditEntry struct {
	EntryID    string    `json:"entry_id"`
	Kind       string    `json:"kind"` // workflow_saved, workflow_deleted, run_force_failed, ...
	WorkflowID string    `json:"workflow_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
