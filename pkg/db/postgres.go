package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"transcript-summaries/pkg/config"
)

// ReplicationTarget is a relational mirror of the summary collection.
type ReplicationTarget interface {
	DBProvider
	Close() error
}

// OpenReplicationTarget connects to the configured mirror. A plain Postgres
// DSN wins over Supabase settings.
func OpenReplicationTarget(ctx context.Context, cfg config.ReplicationConfig) (ReplicationTarget, error) {
	if cfg.PostgresDSN != "" {
		c := NewPostgresClient(cfg.PostgresDSN, cfg.Workers)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	if cfg.SupabaseURL != "" {
		c := NewSupabaseClient(cfg)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("replication target not configured: set postgres_dsn or supabase_url")
}

// PostgresClient wraps the sql.DB handle used by replication.
type PostgresClient struct {
	db       *sql.DB
	dsn      string
	maxConns int
}

// NewPostgresClient creates an unconnected client. maxConns sizes the pool to
// match the replication worker count.
func NewPostgresClient(dsn string, maxConns int) *PostgresClient {
	return &PostgresClient{dsn: dsn, maxConns: maxConns}
}

// Connect opens the pool and verifies it with a ping.
func (c *PostgresClient) Connect(ctx context.Context) error {
	if c.dsn == "" {
		return fmt.Errorf("postgres DSN is required")
	}

	db, err := openPool(ctx, c.dsn, c.maxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	c.db = db
	return nil
}

func (c *PostgresClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *PostgresClient) DB() *sql.DB {
	return c.db
}

func openPool(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}
