package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/rulekit/pkg/schema"
)

// LibSQLStore implements WorkflowStore using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/rules.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open libsql: %s", err.Error()).WithCause(err)
	}
	// A single connection serialises writers, so version and sequence reads
	// inside a transaction cannot interleave.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return schema.NewError(schema.ErrCodeStore, err.Error()).WithCause(err)
	}
	return nil
}

// --- Workflows ---

// SaveWorkflow inserts or replaces a definition, incrementing its version and
// appending a saved change in the same transaction.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf schema.Workflow) (*StoredWorkflow, error) {
	if wf.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	def, err := json.Marshal(wf)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "marshal definition: %s", err.Error()).WithCause(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStore("begin save", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stored := &StoredWorkflow{Name: wf.Name, Definition: wf.Clone(), CreatedAt: now, UpdatedAt: now}

	var current int
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT version, created_at FROM workflows WHERE name = ?`, wf.Name,
	).Scan(&current, &createdAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, wrapStore("read version", err)
	default:
		stored.CreatedAt = createdAt
	}
	stored.Version = current + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (name, version, description, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET version=excluded.version, description=excluded.description,
		   definition=excluded.definition, updated_at=excluded.updated_at`,
		wf.Name, stored.Version, nullStr(wf.Description), string(def), stored.CreatedAt, now,
	)
	if err != nil {
		return nil, wrapStore("upsert workflow", err)
	}
	if err := appendChange(ctx, tx, wf.Name, ChangeSaved, stored.Version, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapStore("commit save", err)
	}
	return stored, nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, name string) (*StoredWorkflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, version, definition, created_at, updated_at FROM workflows WHERE name = ?`, name)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", name)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*StoredWorkflow, error) {
	query := `SELECT name, version, definition, created_at, updated_at FROM workflows`
	var args []any
	if filter.NamePrefix != "" {
		query += ` WHERE substr(name, 1, ?) = ?`
		args = append(args, len(filter.NamePrefix), filter.NamePrefix)
	}
	query += " ORDER BY name"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStore("list workflows", err)
	}
	defer rows.Close()

	var out []*StoredWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, wrapStore("list workflows", rows.Err())
}

// DeleteWorkflow removes a definition and appends a deleted change.
func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStore("begin delete", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM workflows WHERE name = ?`, name).Scan(&version)
	if err == sql.ErrNoRows {
		return storeNotFound("workflow", name)
	}
	if err != nil {
		return wrapStore("read version", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name); err != nil {
		return wrapStore("delete workflow", err)
	}
	if err := appendChange(ctx, tx, name, ChangeDeleted, version, time.Now().UTC()); err != nil {
		return err
	}
	return wrapStore("commit delete", tx.Commit())
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*StoredWorkflow, error) {
	wf := &StoredWorkflow{}
	var defJSON string
	if err := row.Scan(&wf.Name, &wf.Version, &defJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, wrapStore("scan workflow", err)
	}
	if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"unmarshal definition of %q: %s", wf.Name, err.Error()).WithCause(err)
	}
	return wf, nil
}

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

// wrapStore converts a driver error into a STORE_ERROR; nil stays nil.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ WorkflowStore = (*LibSQLStore)(nil)
