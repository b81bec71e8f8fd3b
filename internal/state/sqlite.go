// Package state persists workflow snapshots and event logs in SQLite.
// Every transition is committed before being acknowledged to callers, so a
// paused or awaiting_approval workflow survives a process restart.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	_ "modernc.org/sqlite"

	"github.com/aurora-dev/aurora/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStateManager implements core.StateManager with SQLite storage.
type SQLiteStateManager struct {
	dbPath     string
	exportPath string
	db         *sql.DB
	mu         sync.Mutex
}

// Option configures the manager.
type Option func(*SQLiteStateManager)

// WithExportPath mirrors each workflow snapshot to a JSON file for
// operator inspection. Written atomically.
func WithExportPath(path string) Option {
	return func(m *SQLiteStateManager) {
		m.exportPath = path
	}
}

// NewSQLiteStateManager creates a new SQLite state manager.
func NewSQLiteStateManager(dbPath string, opts ...Option) (*SQLiteStateManager, error) {
	m := &SQLiteStateManager{dbPath: dbPath}
	for _, opt := range opts {
		opt(m)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL mode for concurrent readers during the writer's transactions.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	m.db = db

	if err := m.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection.
func (m *SQLiteStateManager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *SQLiteStateManager) migrate() error {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0 // table does not exist yet
	}

	if version < 1 {
		if _, err := m.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// SaveProject persists a project record.
func (m *SQLiteStateManager) SaveProject(ctx context.Context, p *core.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling project: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO projects (id, snapshot, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			snapshot = excluded.snapshot,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		string(p.ID), string(snapshot), string(p.Status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving project %s: %w", p.ID, err)
	}
	return nil
}

// LoadProject loads a project by ID.
func (m *SQLiteStateManager) LoadProject(ctx context.Context, id core.ProjectID) (*core.Project, error) {
	var snapshot string
	err := m.db.QueryRowContext(ctx,
		"SELECT snapshot FROM projects WHERE id = ?", string(id)).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("project", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", id, err)
	}

	var p core.Project
	if err := json.Unmarshal([]byte(snapshot), &p); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("project %s snapshot is not valid JSON", id)).WithCause(err)
	}
	return &p, nil
}

// SaveWorkflow persists the latest committed workflow snapshot. The
// snapshot's version must be strictly greater than the stored one; a stale
// write is a conflict, not a silent overwrite.
func (m *SQLiteStateManager) SaveWorkflow(ctx context.Context, w *core.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshaling workflow: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT version FROM workflows WHERE id = ?", string(w.ID)).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading stored version: %w", err)
	}
	if stored.Valid && w.Version <= stored.Int64 {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("stale workflow snapshot: version %d <= stored %d", w.Version, stored.Int64))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, project_id, status, phase, version, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			status = excluded.status,
			phase = excluded.phase,
			version = excluded.version,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		string(w.ID), string(w.ProjectID), string(w.Status), string(w.Phase),
		w.Version, string(snapshot), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving workflow %s: %w", w.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing workflow %s: %w", w.ID, err)
	}

	if m.exportPath != "" {
		m.exportSnapshot(w, snapshot)
	}
	return nil
}

// exportSnapshot mirrors the snapshot to a JSON file, atomically. Export
// failures are non-fatal: SQLite remains the source of truth.
func (m *SQLiteStateManager) exportSnapshot(w *core.Workflow, snapshot []byte) {
	path := filepath.Join(m.exportPath, fmt.Sprintf("%s.json", w.ID))
	if err := os.MkdirAll(m.exportPath, 0o750); err != nil {
		return
	}
	_ = renameio.WriteFile(path, snapshot, 0o600)
}

// LoadWorkflow loads the latest snapshot for a workflow.
func (m *SQLiteStateManager) LoadWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	var snapshot string
	err := m.db.QueryRowContext(ctx,
		"SELECT snapshot FROM workflows WHERE id = ?", string(id)).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}
	return unmarshalWorkflow(id, snapshot)
}

func unmarshalWorkflow(id core.WorkflowID, snapshot string) (*core.Workflow, error) {
	var w core.Workflow
	if err := json.Unmarshal([]byte(snapshot), &w); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("workflow %s snapshot is not valid JSON", id)).WithCause(err)
	}
	return &w, nil
}

// ListWorkflows returns all workflow snapshots, newest first.
func (m *SQLiteStateManager) ListWorkflows(ctx context.Context) ([]*core.Workflow, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT id, snapshot FROM workflows ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

// ListAwaitingApproval returns workflows suspended at a breakpoint,
// optionally filtered by project.
func (m *SQLiteStateManager) ListAwaitingApproval(ctx context.Context, projectID core.ProjectID) ([]*core.Workflow, error) {
	query := "SELECT id, snapshot FROM workflows WHERE status = ? ORDER BY updated_at ASC"
	args := []interface{}{string(core.WorkflowStatusAwaitingApproval)}
	if projectID != "" {
		query = "SELECT id, snapshot FROM workflows WHERE status = ? AND project_id = ? ORDER BY updated_at ASC"
		args = append(args, string(projectID))
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

func scanWorkflows(rows *sql.Rows) ([]*core.Workflow, error) {
	var result []*core.Workflow
	for rows.Next() {
		var id, snapshot string
		if err := rows.Scan(&id, &snapshot); err != nil {
			return nil, fmt.Errorf("scanning workflow row: %w", err)
		}
		w, err := unmarshalWorkflow(core.WorkflowID(id), snapshot)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// AppendEvent appends to the workflow's durable event log and returns the
// committed sequence number. Sequence numbers are contiguous per workflow.
func (m *SQLiteStateManager) AppendEvent(ctx context.Context, rec *core.EventRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM events WHERE workflow_id = ?",
		string(rec.WorkflowID)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("reading event sequence: %w", err)
	}
	seq++

	committedAt := rec.CommittedAt
	if committedAt.IsZero() {
		committedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO events (workflow_id, seq, type, payload, committed_at) VALUES (?, ?, ?, ?, ?)",
		string(rec.WorkflowID), seq, rec.Type, string(rec.Payload), committedAt)
	if err != nil {
		return 0, fmt.Errorf("appending event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing event: %w", err)
	}

	rec.Seq = seq
	rec.CommittedAt = committedAt
	return seq, nil
}

// LoadEvents returns committed events for a workflow after the given
// sequence number, in commit order.
func (m *SQLiteStateManager) LoadEvents(ctx context.Context, id core.WorkflowID, afterSeq int64) ([]*core.EventRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT seq, type, payload, committed_at FROM events WHERE workflow_id = ? AND seq > ? ORDER BY seq ASC",
		string(id), afterSeq)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	defer rows.Close()

	var result []*core.EventRecord
	for rows.Next() {
		rec := &core.EventRecord{WorkflowID: id}
		var payload sql.NullString
		if err := rows.Scan(&rec.Seq, &rec.Type, &payload, &rec.CommittedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		if payload.Valid {
			rec.Payload = json.RawMessage(payload.String)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
