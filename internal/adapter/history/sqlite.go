// Package history keeps a log of finished dispatches in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"switchboard/internal/domain"
)

// DefaultRetain is the number of records kept when none is configured.
const DefaultRetain = 1000

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	retain int
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration. Only the newest retain records are kept; retain <= 0
// selects DefaultRetain.
func NewSQLiteStore(dbPath string, retain int) (*SQLiteStore, error) {
	if retain <= 0 {
		retain = DefaultRetain
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db, retain: retain}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatches (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id     TEXT NOT NULL,
			query       TEXT NOT NULL,
			worker_id   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			detail      TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			finished_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores rec and prunes records beyond the retention limit.
func (s *SQLiteStore) Append(ctx context.Context, rec domain.DispatchRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches (task_id, query, worker_id, status, error, detail, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Query, rec.WorkerID, string(rec.Status), string(rec.Error), rec.Detail,
		rec.DurationMs, rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append dispatch %s: %w", rec.TaskID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"DELETE FROM dispatches WHERE seq <= (SELECT MAX(seq) FROM dispatches) - ?", s.retain)
	return err
}

// Recent returns up to limit records, newest first. limit <= 0 returns every
// retained record.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.DispatchRecord, error) {
	if limit <= 0 {
		limit = s.retain
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, query, worker_id, status, error, detail, duration_ms, finished_at
		 FROM dispatches ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DispatchRecord{}
	for rows.Next() {
		var rec domain.DispatchRecord
		var status, kind, finished string
		if err := rows.Scan(&rec.TaskID, &rec.Query, &rec.WorkerID, &status, &kind,
			&rec.Detail, &rec.DurationMs, &finished); err != nil {
			return nil, err
		}
		rec.Status = domain.Status(status)
		rec.Error = domain.ErrorKind(kind)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}
