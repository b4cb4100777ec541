// Package sqlite provides a durable history.Store backed by SQLite (pure Go
// driver, no cgo). Workflow records and events survive process restarts, which
// is what lets a coordinator resume open workflows by replay.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id         TEXT PRIMARY KEY,
	request    TEXT NOT NULL,
	status     TEXT NOT NULL,
	snapshot   TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	key         TEXT NOT NULL,
	type        TEXT NOT NULL,
	payload     TEXT,
	recorded_at TEXT NOT NULL,
	UNIQUE (workflow_id, key)
);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
`

// Store is a history.Store persisted in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serialises writers and keeps ":memory:" databases intact.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func exists(tx *sql.Tx, id string) (bool, error) {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM workflows WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}

	return n > 0, nil
}

// Create stores a new workflow record.
func (s *Store) Create(rec history.WorkflowRecord) error {
	return s.withTx(func(tx *sql.Tx) error {
		ok, err := exists(tx, rec.ID)
		if err != nil {
			return err
		}

		if ok {
			return fmt.Errorf("workflow %s: %w", rec.ID, core.ErrAlreadyExists)
		}

		_, err = tx.Exec(
			`INSERT INTO workflows (id, request, status, snapshot, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, string(rec.Request), string(rec.Status), nullable(rec.Snapshot),
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		)

		return err
	})
}

// Get returns the workflow record.
func (s *Store) Get(id string) (history.WorkflowRecord, error) {
	row := s.db.QueryRow(`SELECT id, request, status, snapshot, created_at, updated_at FROM workflows WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.WorkflowRecord{}, fmt.Errorf("workflow %s: %w", id, core.ErrNotFound)
	}

	return rec, err
}

// List returns every record ordered by creation time.
func (s *Store) List() ([]history.WorkflowRecord, error) {
	rows, err := s.db.Query(`SELECT id, request, status, snapshot, created_at, updated_at FROM workflows ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.WorkflowRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}

// Save replaces status and snapshot of an existing record.
func (s *Store) Save(rec history.WorkflowRecord) error {
	res, err := s.db.Exec(
		`UPDATE workflows SET status = ?, snapshot = ?, updated_at = ? WHERE id = ?`,
		string(rec.Status), nullable(rec.Snapshot), formatTime(rec.UpdatedAt), rec.ID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("workflow %s: %w", rec.ID, core.ErrNotFound)
	}

	return nil
}

// Append adds an event unless one with the same key exists.
func (s *Store) Append(workflowID string, ev history.Event) error {
	return s.withTx(func(tx *sql.Tx) error {
		ok, err := exists(tx, workflowID)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("workflow %s: %w", workflowID, core.ErrNotFound)
		}

		_, err = tx.Exec(
			`INSERT OR IGNORE INTO events (id, workflow_id, key, type, payload, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, workflowID, ev.Key, string(ev.Type), nullable(ev.Payload), formatTime(ev.RecordedAt),
		)

		return err
	})
}

// Events returns the workflow's history in append order.
func (s *Store) Events(workflowID string) ([]history.Event, error) {
	if _, err := s.Get(workflowID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, workflow_id, key, type, payload, recorded_at FROM events WHERE workflow_id = ? ORDER BY seq`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Event

	for rows.Next() {
		var (
			ev         history.Event
			typ        string
			payload    sql.NullString
			recordedAt string
		)

		if err := rows.Scan(&ev.ID, &ev.WorkflowID, &ev.Key, &typ, &payload, &recordedAt); err != nil {
			return nil, err
		}

		ev.Type = history.EventType(typ)
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}

		if ev.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}

		out = append(out, ev)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (history.WorkflowRecord, error) {
	var (
		rec                  history.WorkflowRecord
		request, status      string
		snapshot             sql.NullString
		createdAt, updatedAt string
	)

	if err := row.Scan(&rec.ID, &request, &status, &snapshot, &createdAt, &updatedAt); err != nil {
		return history.WorkflowRecord{}, err
	}

	rec.Request = []byte(request)
	rec.Status = history.Status(status)

	if snapshot.Valid {
		rec.Snapshot = []byte(snapshot.String)
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return history.WorkflowRecord{}, err
	}

	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return history.WorkflowRecord{}, err
	}

	return rec, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}

	return string(b)
}

// timeLayout has a fixed width so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
