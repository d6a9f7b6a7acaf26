// Command replicate mirrors every stored summary into a Postgres (or
// Supabase) `summary` table. Rows already present are left untouched. With only
// a Supabase URL and key, rows go through the REST API instead.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"transcript-summaries/pkg/config"
	"transcript-summaries/pkg/db"
	"transcript-summaries/pkg/logging"
	"transcript-summaries/pkg/replication"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		batchSize = flag.Int("batch", cfg.Replication.BatchSize, "Summaries per insert transaction")
		workers   = flag.Int("workers", cfg.Replication.Workers, "Parallel insert workers")
	)
	flag.Parse()
	cfg.Replication.Workers = *workers

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	ctx := context.Background()

	manager := db.NewManager(cfg.Mongo, logger)
	defer manager.Close(ctx)
	store := db.NewSummaryStore(manager, cfg.Mongo.OperationTimeout, logger)

	writer, closeWriter, err := replication.OpenWriter(ctx, cfg.Replication)
	if err != nil {
		log.Fatalf("Failed to connect to replication target: %v", err)
	}
	defer closeWriter()

	r, err := replication.NewReplicator(replication.Config{
		Source:    store,
		Writer:    writer,
		BatchSize: *batchSize,
		Workers:   *workers,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create replicator: %v", err)
	}

	start := time.Now()
	stats, err := r.Run(ctx)
	if err != nil {
		log.Fatalf("Replication failed after %d summaries: %v", stats.Processed, err)
	}
	logger.Info("done", "processed", stats.Processed, "inserted", stats.Inserted, "duration", time.Since(start))
}
