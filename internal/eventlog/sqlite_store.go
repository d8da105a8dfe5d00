package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentkernel/kernel/pkg/models"
)

// SQLiteStore persists the event log to a SQLite database via the pure-Go
// modernc.org/sqlite driver, so the kernel never needs cgo to survive a
// restart.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) dsn, e.g. "file:kernel.db?cache=shared".
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers anyway
	return newSQLiteStoreFromDB(db)
}

// newSQLiteStoreFromDB wraps an already-open *sql.DB, so tests can hand in
// a go-sqlmock connection instead of a real SQLite file.
func newSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id            INTEGER PRIMARY KEY,
			timestamp     TEXT NOT NULL,
			activation_id TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			type          TEXT NOT NULL,
			severity      TEXT NOT NULL,
			data          TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, entry models.EventEntry) (models.EventEntry, error) {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return models.EventEntry{}, fmt.Errorf("marshal event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, timestamp, activation_id, agent_id, type, severity, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.Format(time.RFC3339Nano), entry.ActivationID, entry.AgentID,
		entry.Type, entry.Severity, string(data))
	if err != nil {
		return models.EventEntry{}, fmt.Errorf("insert event: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) Snapshot(ctx context.Context) ([]models.EventEntry, error) {
	return s.query(ctx, `SELECT id, timestamp, activation_id, agent_id, type, severity, data FROM events ORDER BY id`)
}

func (s *SQLiteStore) From(ctx context.Context, afterID uint64) ([]models.EventEntry, error) {
	return s.query(ctx,
		`SELECT id, timestamp, activation_id, agent_id, type, severity, data FROM events WHERE id > ? ORDER BY id`,
		afterID)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]models.EventEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.EventEntry
	for rows.Next() {
		var e models.EventEntry
		var ts, data string
		if err := rows.Scan(&e.ID, &ts, &e.ActivationID, &e.AgentID, &e.Type, &e.Severity, &data); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	return err
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
