// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/agentboard/orchestrator/internal/domain"
)

// Store defines the interface for data persistence. The engine treats it
// as a key-value-with-query store; SQLite is the shipped implementation.
type Store interface {
	// Workflow definition operations
	SaveWorkflow(ctx context.Context, def *domain.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowDefinition, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error
	ListWorkflowIDs(ctx context.Context) ([]string, error)

	// Run operations. SaveRun is a compare-and-swap on the run's Seq:
	// a stale write returns domain.ErrConflict.
	CreateRun(ctx context.Context, run *domain.WorkflowRun) error
	GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error)
	SaveRun(ctx context.Context, run *domain.WorkflowRun) error
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.WorkflowRun, error)
	ListRunsDue(ctx context.Context, limit int) ([]string, error)

	// Audit operations (append-only)
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, workflowID string, limit int) ([]domain.AuditEntry, error)

	// Lifecycle
	Close() error
}
