package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentboard/orchestrator/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			workflow_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			document TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_version INTEGER NOT NULL,
			task_id TEXT,
			status TEXT NOT NULL,
			context TEXT,
			steps TEXT,
			definition TEXT NOT NULL,
			current_step TEXT,
			not_before DATETIME,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			error TEXT,
			seq INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON workflow_runs(workflow_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task ON workflow_runs(task_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status_notbefore ON workflow_runs(status, not_before)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			entry_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			workflow_id TEXT,
			actor TEXT,
			detail TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_workflow ON audit_log(workflow_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveWorkflow persists a definition document verbatim, replacing any
// previous version.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, def *domain.WorkflowDefinition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (workflow_id, name, version, document, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(workflow_id) DO UPDATE SET name = excluded.name, version = excluded.version, document = excluded.document, updated_at = CURRENT_TIMESTAMP`,
		def.ID, def.Name, def.Version, string(doc))
	return err
}

// GetWorkflow retrieves a definition by ID. Returns nil when absent.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowDefinition, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM workflows WHERE workflow_id = ?`, workflowID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var def domain.WorkflowDefinition
	if err := json.Unmarshal([]byte(doc), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}
	return &def, nil
}

// DeleteWorkflow removes a definition. Existing runs keep their own
// snapshot and are unaffected.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE workflow_id = ?`, workflowID)
	return err
}

// ListWorkflowIDs enumerates all persisted definition ids.
func (s *SQLiteStore) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT workflow_id FROM workflows ORDER BY workflow_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.WorkflowRun) error {
	contextJSON, stepsJSON, defJSON, err := marshalRunDocs(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (run_id, workflow_id, workflow_version, task_id, status, context, steps, definition, current_step, not_before, started_at, completed_at, error, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		run.RunID, run.WorkflowID, run.WorkflowVersion, nullString(run.TaskID), run.Status,
		contextJSON, stepsJSON, defJSON, nullString(run.CurrentStep), run.NotBefore,
		run.StartedAt, run.CompletedAt, nullString(run.Error))
	if err != nil {
		return err
	}
	run.Seq = 0
	return nil
}

// GetRun retrieves a run by ID. Returns nil when absent.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, workflow_version, task_id, status, context, steps, definition, current_step, not_before, started_at, completed_at, error, seq
		 FROM workflow_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// SaveRun commits a run snapshot. The write is a compare-and-swap on Seq:
// if another writer committed first, domain.ErrConflict is returned and
// the caller must reload.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.WorkflowRun) error {
	contextJSON, stepsJSON, defJSON, err := marshalRunDocs(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, context = ?, steps = ?, definition = ?, current_step = ?, not_before = ?, completed_at = ?, error = ?, seq = seq + 1
		 WHERE run_id = ? AND seq = ?`,
		run.Status, contextJSON, stepsJSON, defJSON, nullString(run.CurrentStep), run.NotBefore,
		run.CompletedAt, nullString(run.Error), run.RunID, run.Seq)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := s.GetRun(ctx, run.RunID)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	run.Seq++
	return nil
}

// ListRuns lists runs matching the filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.WorkflowRun, error) {
	query := `SELECT run_id, workflow_id, workflow_version, task_id, status, context, steps, definition, current_step, not_before, started_at, completed_at, error, seq
	          FROM workflow_runs WHERE 1=1`
	args := []interface{}{}
	if filter.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListRunsDue returns ids of running runs whose backoff deadline elapsed.
// The deadline check happens in Go: datetime string comparison in SQLite
// is fragile across driver timestamp formats.
func (s *SQLiteStore) ListRunsDue(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, not_before FROM workflow_runs
		 WHERE status = ? AND not_before IS NOT NULL
		 ORDER BY not_before ASC LIMIT ?`,
		domain.RunStatusRunning, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	var ids []string
	for rows.Next() {
		var id string
		var notBefore time.Time
		if err := rows.Scan(&id, &notBefore); err != nil {
			return nil, err
		}
		if !notBefore.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// AppendAudit writes an audit entry. Entries are never updated.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (entry_id, kind, workflow_id, actor, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.EntryID, entry.Kind, nullString(entry.WorkflowID), nullString(entry.Actor), nullString(entry.Detail), entry.CreatedAt)
	return err
}

// ListAudit lists audit entries for a workflow, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, workflowID string, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT entry_id, kind, workflow_id, actor, detail, created_at FROM audit_log`
	args := []interface{}{}
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var wfID, actor, detail sql.NullString
		if err := rows.Scan(&e.EntryID, &e.Kind, &wfID, &actor, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.WorkflowID = wfID.String
		e.Actor = actor.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	var taskID, contextJSON, stepsJSON, defJSON, currentStep, errMsg sql.NullString
	var notBefore, completedAt sql.NullTime

	err := row.Scan(&run.RunID, &run.WorkflowID, &run.WorkflowVersion, &taskID, &run.Status,
		&contextJSON, &stepsJSON, &defJSON, &currentStep, &notBefore,
		&run.StartedAt, &completedAt, &errMsg, &run.Seq)
	if err != nil {
		return nil, err
	}

	run.TaskID = taskID.String
	run.CurrentStep = currentStep.String
	run.Error = errMsg.String
	if notBefore.Valid {
		run.NotBefore = &notBefore.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &run.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
		}
	}
	if run.Context == nil {
		run.Context = map[string]any{}
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		if err := json.Unmarshal([]byte(stepsJSON.String), &run.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run steps: %w", err)
		}
	}
	if defJSON.Valid && defJSON.String != "" {
		if err := json.Unmarshal([]byte(defJSON.String), &run.Definition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run definition: %w", err)
		}
	}
	return &run, nil
}

func marshalRunDocs(run *domain.WorkflowRun) (string, string, string, error) {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal run context: %w", err)
	}
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal run steps: %w", err)
	}
	defJSON, err := json.Marshal(run.Definition)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal run definition: %w", err)
	}
	return string(contextJSON), string(stepsJSON), string(defJSON), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
