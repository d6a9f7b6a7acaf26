// Package replication mirrors summary documents into a relational table.
package replication

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"transcript-summaries/pkg/db"
	"transcript-summaries/pkg/domain"
)

// Source streams every stored summary.
type Source interface {
	Each(ctx context.Context, fn func(domain.Summary) error) error
}

// Writer persists batches on the relational side.
type Writer interface {
	EnsureSchema(ctx context.Context) error
	// InsertBatch returns how many rows were new.
	InsertBatch(ctx context.Context, batch []domain.Summary) (int, error)
}

// Config wires the replication dependencies.
type Config struct {
	Source    Source
	Writer    Writer
	BatchSize int
	Workers   int
	Logger    *slog.Logger
}

// Stats summarizes one run.
type Stats struct {
	Processed int64
	Inserted  int64
}

// Replicator copies every summary into the mirror, skipping ids already present.
// A run is one-shot; rerunning it only adds the documents stored since.
type Replicator struct {
	source    Source
	writer    Writer
	batchSize int
	workers   int
	logger    *slog.Logger
}

func NewReplicator(cfg Config) (*Replicator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("summary source is required")
	}
	if cfg.Writer == nil {
		return nil, fmt.Errorf("replication writer is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Replicator{
		source:    cfg.Source,
		writer:    cfg.Writer,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		logger:    cfg.Logger,
	}, nil
}

// Run streams the source in batches to a pool of writers and stops at the
// first failure.
func (r *Replicator) Run(ctx context.Context) (Stats, error) {
	if err := r.writer.EnsureSchema(ctx); err != nil {
		return Stats{}, err
	}

	var processed, inserted atomic.Int64
	batches := make(chan []domain.Summary, r.workers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		return r.produce(gctx, batches)
	})

	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for batch := range batches {
				n, err := r.writer.InsertBatch(gctx, batch)
				if err != nil {
					return fmt.Errorf("insert batch of %d starting at id %s: %w", len(batch), batch[0].ID, err)
				}
				total := processed.Add(int64(len(batch)))
				added := inserted.Add(int64(n))
				r.logger.Debug("batch replicated", "size", len(batch), "inserted", n, "processed", total, "inserted_total", added)
			}
			return nil
		})
	}

	err := g.Wait()
	stats := Stats{Processed: processed.Load(), Inserted: inserted.Load()}
	if err != nil {
		return stats, err
	}

	r.logger.Info("replication complete", "processed", stats.Processed, "inserted", stats.Inserted)
	return stats, nil
}

func (r *Replicator) produce(ctx context.Context, out chan<- []domain.Summary) error {
	batch := make([]domain.Summary, 0, r.batchSize)

	send := func() error {
		if len(batch) == 0 {
			return nil
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		batch = make([]domain.Summary, 0, r.batchSize)
		return nil
	}

	err := r.source.Each(ctx, func(s domain.Summary) error {
		if s.ID == "" {
			return nil
		}
		batch = append(batch, s)
		if len(batch) == r.batchSize {
			return send()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read summaries: %w", err)
	}
	return send()
}

// PostgresWriter writes summaries into the `summary` table.
type PostgresWriter struct {
	pg db.DBProvider
}

func NewPostgresWriter(pg db.DBProvider) *PostgresWriter {
	return &PostgresWriter{pg: pg}
}

const summaryDDL = `
CREATE TABLE IF NOT EXISTS summary (
  id TEXT PRIMARY KEY,
  job_name TEXT NOT NULL DEFAULT '',
  summary_text TEXT NOT NULL DEFAULT '',
  source_file TEXT NOT NULL DEFAULT '',
  processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  status TEXT NOT NULL DEFAULT ''
);`

const insertSummarySQL = `
INSERT INTO summary (id, job_name, summary_text, source_file, processed_at, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

func (w *PostgresWriter) EnsureSchema(ctx context.Context) error {
	if w.pg.DB() == nil {
		return fmt.Errorf("postgres DB not connected")
	}
	if _, err := w.pg.DB().ExecContext(ctx, summaryDDL); err != nil {
		return fmt.Errorf("create summary table: %w", err)
	}
	return nil
}

// InsertBatch writes one batch in a transaction.
func (w *PostgresWriter) InsertBatch(ctx context.Context, batch []domain.Summary) (int, error) {
	tx, err := w.pg.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSummarySQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, s := range batch {
		res, err := stmt.ExecContext(ctx, s.ID, s.JobName, s.SummaryText, s.SourceFile, s.ProcessedAt, string(s.Status))
		if err != nil {
			return 0, fmt.Errorf("insert summary id=%s: %w", s.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}
