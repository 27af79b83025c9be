package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	// Timestamps are unix nanoseconds so ordering and range queries do not
	// depend on the driver's text encoding of time.Time.
	query := `
	CREATE TABLE IF NOT EXISTS packets (
		event_id TEXT PRIMARY KEY,
		ts_ingest INTEGER NOT NULL,
		packet_id INTEGER NOT NULL,
		from_node INTEGER NOT NULL,
		port INTEGER NOT NULL,
		packet JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packets_ts_ingest ON packets(ts_ingest);
	CREATE INDEX IF NOT EXISTS idx_packets_from_node ON packets(from_node);

	CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		ts_snapshot INTEGER NOT NULL,
		last_ingest INTEGER NOT NULL,
		payload JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_snapshot);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}
