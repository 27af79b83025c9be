package postgres

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
)

// ErrUnknownEdgeNodes is returned when an edge references a node that is not
// stored yet.
var ErrUnknownEdgeNodes = errors.New("edge references unknown node")

// Graph mirrors the mesh topology into Postgres.
type Graph struct {
	db *sqlx.DB
}

// New wraps an open connection and creates the schema.
func New(ctx context.Context, db *sqlx.DB) (*Graph, error) {
	g := &Graph{db: db}
	if err := g.Migrate(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Connect opens a pgx-backed connection. With traced set the connection is
// instrumented with OpenTelemetry.
//
// DSN format: "host= dbname= password= user=" or a postgres:// URL.
func Connect(dsn string, traced bool) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	if traced {
		db, err = otelsqlx.Connect("pgx", dsn)
	} else {
		db, err = sqlx.Connect("pgx", dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (g *Graph) Name() string { return "postgres" }

func (g *Graph) Close() error {
	return g.db.Close()
}

const createNodeTableQuery = `
		CREATE TABLE IF NOT EXISTS mesh_nodes(
			num BIGINT PRIMARY KEY,
			last_heard TIMESTAMPTZ NOT NULL,
			timeout_seconds BIGINT NOT NULL
		);
`

const createEdgeTableQuery = `
		CREATE TABLE IF NOT EXISTS mesh_edges(
			source BIGINT NOT NULL REFERENCES mesh_nodes(num) ON DELETE CASCADE,
			target BIGINT NOT NULL REFERENCES mesh_nodes(num) ON DELETE CASCADE,
			snr REAL NOT NULL,
			last_rx_time TIMESTAMPTZ,
			broadcast_interval_seconds BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (source, target)
		);
`

func (g *Graph) Migrate(ctx context.Context) error {
	if _, err := g.db.ExecContext(ctx, createNodeTableQuery); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := g.db.ExecContext(ctx, createEdgeTableQuery); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}
