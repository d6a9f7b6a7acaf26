package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	supabase "github.com/supabase-community/supabase-go"

	"transcript-summaries/pkg/config"
)

// SupabaseClient reaches a Supabase project's Postgres directly.
type SupabaseClient struct {
	db  *sql.DB
	cfg config.ReplicationConfig
}

func NewSupabaseClient(cfg config.ReplicationConfig) *SupabaseClient {
	return &SupabaseClient{cfg: cfg}
}

// Connect opens the direct database connection with the project's database
// password.
func (c *SupabaseClient) Connect(ctx context.Context) error {
	dsn, err := SupabaseDSN(c.cfg.SupabaseURL, c.cfg.SupabasePassword)
	if err != nil {
		return err
	}

	// Supabase's pooler rejects cached prepared statements across sessions.
	dsn = withParam(dsn, "statement_cache_capacity", "0")
	dsn = withParam(dsn, "default_query_exec_mode", "simple_protocol")

	db, err := openPool(ctx, dsn, c.cfg.Workers)
	if err != nil {
		return fmt.Errorf("supabase postgres: %w", err)
	}
	c.db = db
	return nil
}

func (c *SupabaseClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SupabaseClient) DB() *sql.DB {
	return c.db
}

// UsesREST reports whether replication should go through the Supabase REST
// API: a project URL and key are set but neither a DSN nor a database password.
func UsesREST(cfg config.ReplicationConfig) bool {
	return cfg.PostgresDSN == "" && cfg.SupabasePassword == "" &&
		cfg.SupabaseURL != "" && cfg.SupabaseKey != ""
}

// NewSupabaseREST creates the SDK client for REST access to the project.
func NewSupabaseREST(cfg config.ReplicationConfig) (*supabase.Client, error) {
	sdk, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase SDK: %w", err)
	}
	return sdk, nil
}

// SupabaseDSN builds the direct connection string for a project URL of the
// form https://<project-ref>.supabase.co.
func SupabaseDSN(projectURL, password string) (string, error) {
	if projectURL == "" {
		return "", fmt.Errorf("supabase URL is required")
	}
	if password == "" {
		return "", fmt.Errorf("supabase database password is required")
	}

	parsed, err := url.Parse(projectURL)
	if err != nil {
		return "", fmt.Errorf("parse supabase URL: %w", err)
	}

	parts := strings.Split(parsed.Host, ".")
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("invalid supabase URL %q: expected <project-ref>.supabase.co", projectURL)
	}

	return fmt.Sprintf("postgresql://postgres:%s@db.%s.supabase.co:5432/postgres?sslmode=require",
		url.QueryEscape(password), parts[0]), nil
}

func withParam(dsn, key, value string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}
