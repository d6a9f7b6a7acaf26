package replication

import (
	"context"
	"fmt"
	"time"

	supabase "github.com/supabase-community/supabase-go"

	"transcript-summaries/pkg/config"
	"transcript-summaries/pkg/db"
	"transcript-summaries/pkg/domain"
)

const summaryTable = "summary"

// summaryRow is the REST payload for one row of the summary table.
type summaryRow struct {
	ID          string    `json:"id"`
	JobName     string    `json:"job_name"`
	SummaryText string    `json:"summary_text"`
	SourceFile  string    `json:"source_file"`
	ProcessedAt time.Time `json:"processed_at"`
	Status      string    `json:"status"`
}

// RESTWriter writes through the Supabase REST API when only a project key is
// available. The table must already exist; REST cannot run DDL.
type RESTWriter struct {
	client *supabase.Client
}

func NewRESTWriter(client *supabase.Client) *RESTWriter {
	return &RESTWriter{client: client}
}

// EnsureSchema checks that the table is reachable.
func (w *RESTWriter) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := w.client.From(summaryTable).Select("id", "", false).Limit(1, "").Execute(); err != nil {
		return fmt.Errorf("summary table not reachable over REST (create it first): %w", err)
	}
	return nil
}

// InsertBatch upserts the batch on id. Summaries never change after insert, so
// merging an existing row leaves it as it was. Every row sent is counted.
func (w *RESTWriter) InsertBatch(ctx context.Context, batch []domain.Summary) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rows := make([]summaryRow, 0, len(batch))
	for _, s := range batch {
		rows = append(rows, summaryRow{
			ID:          s.ID,
			JobName:     s.JobName,
			SummaryText: s.SummaryText,
			SourceFile:  s.SourceFile,
			ProcessedAt: s.ProcessedAt,
			Status:      string(s.Status),
		})
	}

	if _, _, err := w.client.From(summaryTable).Insert(rows, true, "id", "minimal", "").Execute(); err != nil {
		return 0, fmt.Errorf("upsert %d summaries: %w", len(rows), err)
	}
	return len(rows), nil
}

// OpenWriter picks the REST writer when db.UsesREST holds and a direct
// Postgres writer otherwise. The returned func releases the connection.
func OpenWriter(ctx context.Context, cfg config.ReplicationConfig) (Writer, func() error, error) {
	if db.UsesREST(cfg) {
		sdk, err := db.NewSupabaseREST(cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewRESTWriter(sdk), func() error { return nil }, nil
	}

	target, err := db.OpenReplicationTarget(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewPostgresWriter(target), target.Close, nil
}
