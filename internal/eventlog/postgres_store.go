package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/agentkernel/kernel/pkg/models"
)

// PoolConfig configures the Postgres connection pool, mirroring the
// teacher's CockroachConfig connection-pool tuning idiom.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns conservative pool settings appropriate for a
// single kernel process talking to one Postgres instance.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresStore persists the event log to Postgres via lib/pq, as the
// alternate durable backend alongside SQLiteStore — same Store contract,
// different driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn (a "postgres://" connection string) and
// migrates the events table.
func NewPostgresStore(dsn string, cfg PoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id            BIGINT PRIMARY KEY,
			timestamp     TIMESTAMPTZ NOT NULL,
			activation_id TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			type          TEXT NOT NULL,
			severity      TEXT NOT NULL,
			data          JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry models.EventEntry) (models.EventEntry, error) {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return models.EventEntry{}, fmt.Errorf("marshal event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, timestamp, activation_id, agent_id, type, severity, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Timestamp, entry.ActivationID, entry.AgentID, entry.Type, entry.Severity, data)
	if err != nil {
		return models.EventEntry{}, fmt.Errorf("insert event: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) ([]models.EventEntry, error) {
	return s.query(ctx, `SELECT id, timestamp, activation_id, agent_id, type, severity, data FROM events ORDER BY id`)
}

func (s *PostgresStore) From(ctx context.Context, afterID uint64) ([]models.EventEntry, error) {
	return s.query(ctx,
		`SELECT id, timestamp, activation_id, agent_id, type, severity, data FROM events WHERE id > $1 ORDER BY id`,
		afterID)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...interface{}) ([]models.EventEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.EventEntry
	for rows.Next() {
		var e models.EventEntry
		var data []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActivationID, &e.AgentID, &e.Type, &e.Severity, &data); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	return err
}

func (s *PostgresStore) Close() error { return s.db.Close() }
