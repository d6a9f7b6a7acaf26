// Package handler runs one invocation: classify the envelope, then either
// summarize and store an artifact or answer a summary query.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"

	"transcript-summaries/pkg/db"
	"transcript-summaries/pkg/domain"
	"transcript-summaries/pkg/event"
	"transcript-summaries/pkg/objectstore"
	"transcript-summaries/pkg/response"
)

// SummaryStore persists and queries summary documents.
type SummaryStore interface {
	Insert(ctx context.Context, summary *domain.Summary) (string, error)
	FindOne(ctx context.Context, id string) (*domain.Summary, error)
	FindMany(ctx context.Context, filters map[string]string, limit int64) ([]domain.Summary, error)
}

// Summarizer produces the keyword summary of a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Handler is built once per process and reused by every invocation.
type Handler struct {
	store      SummaryStore
	objects    objectstore.Reader
	summarizer Summarizer
	logger     *slog.Logger
	now        func() time.Time
}

// New wires a Handler.
func New(store SummaryStore, objects objectstore.Reader, summarizer Summarizer, logger *slog.Logger) *Handler {
	return &Handler{
		store:      store,
		objects:    objects,
		summarizer: summarizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle processes one envelope. Every outcome, including failures, is
// returned as a well-formed response; the error result is always nil.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (resp events.APIGatewayProxyResponse, err error) {
	log := h.logger.With("request_id", requestID(ctx))
	origin := event.OriginAPI

	defer func() {
		if r := recover(); r != nil {
			log.Error("invocation panicked", "panic", r)
			resp = response.Failure(ctx, origin, fmt.Errorf("internal error: %v", r))
			err = nil
		}
	}()

	ev, err := event.Classify(raw)
	if err != nil {
		if errors.Is(err, event.ErrInvalidNotification) {
			origin = event.OriginStorage
		}
		log.Error("classify event", "error", err)
		return response.Failure(ctx, origin, err), nil
	}
	origin = ev.Origin()

	switch ev := ev.(type) {
	case event.Ingestion:
		return h.handleIngestion(ctx, log, ev), nil
	case event.SingleQuery:
		return h.handleSingle(ctx, log, ev), nil
	case event.ListQuery:
		return h.handleList(ctx, log, ev), nil
	default:
		return response.Failure(ctx, origin, fmt.Errorf("unhandled event %T", ev)), nil
	}
}

func (h *Handler) handleIngestion(ctx context.Context, log *slog.Logger, ev event.Ingestion) events.APIGatewayProxyResponse {
	log = log.With("source", ev.SourceURI())
	log.Info("processing artifact")

	summary, err := h.Ingest(ctx, ev)
	if err != nil {
		log.Error("ingestion failed", "error", err)
		return response.Failure(ctx, event.OriginStorage, err)
	}

	log.Info("summary stored", "document_id", summary.ID, "job_name", summary.JobName)
	return response.OK(event.OriginStorage, response.Ingested(summary))
}

// Ingest reads the artifact, summarizes it and inserts exactly one document.
// Any failure aborts before the insert.
func (h *Handler) Ingest(ctx context.Context, ev event.Ingestion) (domain.Summary, error) {
	text, err := objectstore.ReadTranscript(ctx, h.objects, ev.Bucket, ev.Key)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("read artifact: %w", err)
	}

	summaryText, err := h.summarizer.Summarize(ctx, text)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("summarize: %w", err)
	}

	doc := domain.Summary{
		JobName:     JobName(ev.Key),
		SummaryText: summaryText,
		SourceFile:  ev.SourceURI(),
		ProcessedAt: h.now().UTC().Truncate(time.Millisecond),
		Status:      domain.StatusCompleted,
	}

	if _, err := h.store.Insert(ctx, &doc); err != nil {
		return domain.Summary{}, err
	}
	return doc, nil
}

func (h *Handler) handleSingle(ctx context.Context, log *slog.Logger, q event.SingleQuery) events.APIGatewayProxyResponse {
	summary, err := h.store.FindOne(ctx, q.ID)
	if errors.Is(err, db.ErrNotFound) {
		log.Info("summary not found", "summary_id", q.ID)
		return response.NotFound()
	}
	if err != nil {
		log.Error("find summary", "summary_id", q.ID, "error", err)
		return response.Failure(ctx, event.OriginAPI, err)
	}
	return response.OK(event.OriginAPI, response.Single(*summary))
}

func (h *Handler) handleList(ctx context.Context, log *slog.Logger, q event.ListQuery) events.APIGatewayProxyResponse {
	summaries, err := h.store.FindMany(ctx, q.Filters, db.DefaultListLimit)
	if err != nil {
		log.Error("list summaries", "filters", q.Filters, "error", err)
		return response.Failure(ctx, event.OriginAPI, err)
	}
	log.Debug("listed summaries", "filters", q.Filters, "count", len(summaries))
	return response.OK(event.OriginAPI, response.List(summaries))
}

// JobName is the key's base name without its extension, or the base name
// itself when stripping would leave nothing.
func JobName(key string) string {
	base := path.Base(key)
	if name := strings.TrimSuffix(base, path.Ext(base)); name != "" {
		return name
	}
	return base
}

func requestID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}
