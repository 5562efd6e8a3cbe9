// Package history records what each operation did, for the status command
// and the dashboard. It never feeds back into an operation.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hme-tools/hme/internal/alias"
)

type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCancelled Outcome = "cancelled" // declined at the confirmation gate
)

// Operation is one run of a mode from the main menu
type Operation struct {
	ID          string
	Mode        string
	Filter      string
	Outcome     Outcome
	Deactivated int
	Deleted     int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is zero while the operation is running.
func (o Operation) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// ProcessedAlias is one alias an operation changed
type ProcessedAlias struct {
	ID          int64
	OperationID string
	Action      string
	Address     string
	Label       string
	ProcessedAt time.Time
}

type Stats struct {
	Operations  int
	Deactivated int
	Deleted     int
	Aborted     int
}

type Store struct {
	db *sql.DB
}

var ErrNotFound = errors.New("operation not found")

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		filter TEXT,
		outcome TEXT NOT NULL,
		deactivated INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_op_started_at ON operations(started_at);

	CREATE TABLE IF NOT EXISTS processed_aliases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id TEXT NOT NULL REFERENCES operations(id) ON DELETE CASCADE,
		action TEXT NOT NULL,
		address TEXT NOT NULL,
		label TEXT,
		processed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pa_operation_id ON processed_aliases(operation_id);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// StartOperation inserts a running operation.
func (s *Store) StartOperation(mode alias.Mode, filter string) (*Operation, error) {
	op := &Operation{
		ID:        uuid.NewString(),
		Mode:      mode.String(),
		Filter:    filter,
		Outcome:   OutcomeRunning,
		StartedAt: time.Now(),
	}
	_, err := s.db.Exec(`INSERT INTO operations (id, mode, filter, outcome, started_at) VALUES (?, ?, ?, ?, ?)`,
		op.ID, op.Mode, op.Filter, string(op.Outcome), op.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert operation: %w", err)
	}
	return op, nil
}

// RecordAlias stores one processed alias of operation opID.
func (s *Store) RecordAlias(opID string, action alias.Action, item alias.Item) error {
	_, err := s.db.Exec(`
	INSERT INTO processed_aliases (operation_id, action, address, label, processed_at)
	VALUES (?, ?, ?, ?, ?)`,
		opID, action.Verb, item.Address, item.Label, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record alias: %w", err)
	}
	return nil
}

// FinishOperation stores the final counts and outcome of op.
func (s *Store) FinishOperation(op *Operation) error {
	if op.FinishedAt.IsZero() {
		op.FinishedAt = time.Now()
	}
	res, err := s.db.Exec(`
	UPDATE operations SET outcome = ?, deactivated = ?, deleted = ?, error = ?, finished_at = ?
	WHERE id = ?`,
		string(op.Outcome), op.Deactivated, op.Deleted, op.Error, op.FinishedAt, op.ID)
	if err != nil {
		return fmt.Errorf("failed to finish operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanOperation handles nullable columns when scanning a row
func scanOperation(scanner interface{ Scan(...any) error }) (*Operation, error) {
	var op Operation
	var filter, errStr sql.NullString
	var outcome string
	var finishedAt sql.NullTime

	err := scanner.Scan(&op.ID, &op.Mode, &filter, &outcome, &op.Deactivated, &op.Deleted,
		&errStr, &op.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	op.Filter = filter.String
	op.Outcome = Outcome(outcome)
	op.Error = errStr.String
	op.FinishedAt = finishedAt.Time
	return &op, nil
}

const operationColumns = `id, mode, filter, outcome, deactivated, deleted, error, started_at, finished_at`

// Operation returns one operation by id.
func (s *Store) Operation(id string) (*Operation, error) {
	op, err := scanOperation(s.db.QueryRow(`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query operation: %w", err)
	}
	return op, nil
}

// RecentOperations returns the newest operations first.
func (s *Store) RecentOperations(limit int) ([]Operation, error) {
	rows, err := s.db.Query(`SELECT `+operationColumns+`
	FROM operations ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// Aliases returns the aliases processed by operation opID in order.
func (s *Store) Aliases(opID string) ([]ProcessedAlias, error) {
	rows, err := s.db.Query(`
	SELECT id, operation_id, action, address, label, processed_at
	FROM processed_aliases WHERE operation_id = ? ORDER BY id`, opID)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	var out []ProcessedAlias
	for rows.Next() {
		var a ProcessedAlias
		var label sql.NullString
		if err := rows.Scan(&a.ID, &a.OperationID, &a.Action, &a.Address, &label, &a.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		a.Label = label.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	var deactivated, deleted, aborted sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), SUM(deactivated), SUM(deleted),
		SUM(CASE WHEN outcome='aborted' THEN 1 ELSE 0 END) FROM operations`).
		Scan(&st.Operations, &deactivated, &deleted, &aborted)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	st.Deactivated = int(deactivated.Int64)
	st.Deleted = int(deleted.Int64)
	st.Aborted = int(aborted.Int64)
	return st, nil
}

// Clear removes every recorded operation and alias.
func (s *Store) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM processed_aliases`); err != nil {
		return fmt.Errorf("failed to clear aliases: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM operations`); err != nil {
		return fmt.Errorf("failed to clear operations: %w", err)
	}
	return tx.Commit()
}
