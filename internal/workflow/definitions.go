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

// Definitions loads, validates, caches and persists workflow definitions.
// The persisted form is the source of truth; the cache is an optimization
// that is replaced atomically on save and dropped on delete, so readers
// never observe a half-updated definition.
type Definitions struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]*domain.WorkflowDefinition
}

// NewDefinitions creates a definition store service.
func NewDefinitions(st store.Store) *Definitions {
	return &Definitions{
		store: st,
		cache: make(map[string]*domain.WorkflowDefinition),
	}
}

// Load returns the definition for the given id, or nil when none exists.
// A stored definition that fails validation is an error, not a nil result:
// callers distinguish "not found" from "invalid".
func (d *Definitions) Load(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	d.mu.RLock()
	cached, ok := d.cache[id]
	d.mu.RUnlock()
	if ok {
		return cached, nil
	}

	def, err := d.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	if def == nil {
		return nil, nil
	}
	if err := Validate(def); err != nil {
		return nil, fmt.Errorf("stored workflow %s is invalid: %w", id, err)
	}

	d.mu.Lock()
	d.cache[id] = def
	d.mu.Unlock()
	return def, nil
}

// List enumerates all valid definitions. A definition that fails to load
// or validate is skipped with a warning so a single corrupt document does
// not take down board-wide visibility.
func (d *Definitions) List(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	ids, err := d.store.ListWorkflowIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	defs := make([]domain.WorkflowDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := d.Load(ctx, id)
		if err != nil {
			log.Printf("WARN: skipping workflow %s: %v", id, err)
			continue
		}
		if def != nil {
			defs = append(defs, *def)
		}
	}
	return defs, nil
}

// Save validates the definition, persists it verbatim (caller-supplied
// version included) and refreshes the cache entry in one step.
func (d *Definitions) Save(ctx context.Context, def *domain.WorkflowDefinition, actor string) error {
	if err := Validate(def); err != nil {
		return err
	}
	if err := d.store.SaveWorkflow(ctx, def); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", def.ID, err)
	}

	d.mu.Lock()
	d.cache[def.ID] = def
	d.mu.Unlock()

	d.audit(ctx, "workflow_saved", def.ID, actor, fmt.Sprintf("version %d", def.Version))
	return nil
}

// Replace implements PUT semantics: the server computes the next version
// (previous + 1, or 1 when no definition existed) before validating and
// saving.
func (d *Definitions) Replace(ctx context.Context, id string, def *domain.WorkflowDefinition, actor string) error {
	prev, err := d.store.GetWorkflow(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	def.ID = id
	if prev != nil {
		def.Version = prev.Version + 1
	} else {
		def.Version = 1
	}
	return d.Save(ctx, def, actor)
}

// Delete removes the persisted and cached copies. Runs already pinned to a
// (workflow, version) snapshot remain executable.
func (d *Definitions) Delete(ctx context.Context, id string, actor string) error {
	def, err := d.store.GetWorkflow(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	if def == nil {
		return domain.ErrNotFound
	}
	if err := d.store.DeleteWorkflow(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	d.mu.Lock()
	delete(d.cache, id)
	d.mu.Unlock()

	d.audit(ctx, "workflow_deleted", id, actor, "")
	return nil
}

// Audit returns the audit trail for a workflow, newest first.
func (d *Definitions) Audit(ctx context.Context, workflowID string, limit int) ([]domain.AuditEntry, error) {
	return d.store.ListAudit(ctx, workflowID, limit)
}

func (d *Definitions) audit(ctx context.Context, kind, workflowID, actor, detail string) {
	entry := &domain.AuditEntry{
		EntryID:    "audit_" + uuid.New().String()[:8],
		Kind:       kind,
		WorkflowID: workflowID,
		Actor:      actor,
		Detail:     detail,
		CreatedAt:  time.Now(),
	}
	if err := d.store.AppendAudit(ctx, entry); err != nil {
		log.Printf("ERROR: failed to append audit entry: %v", err)
	}
}
