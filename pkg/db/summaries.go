package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"transcript-summaries/pkg/domain"
)

// DefaultListLimit caps FindMany results. The list path is not paginated.
const DefaultListLimit = 100

const readAttempts = 3

// retryableReadCodes are the server error codes the driver itself treats as
// retryable for reads.
var retryableReadCodes = []int{6, 7, 89, 91, 134, 189, 262, 9001, 10107, 11600, 11602, 13435, 13436}

// ErrNotFound is returned by FindOne when no document has the requested id.
var ErrNotFound = errors.New("summary not found")

// StoreError wraps a connectivity or driver failure from a store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("summary store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// SummaryStore is the only writer of summary documents.
type SummaryStore struct {
	provider  CollectionProvider
	opTimeout time.Duration
	logger    *slog.Logger

	// newBackOff builds the retry policy for idempotent reads.
	newBackOff func() backoff.BackOff
}

// NewSummaryStore creates a store over the given collection provider.
// opTimeout bounds every individual driver call; zero means no extra bound.
func NewSummaryStore(provider CollectionProvider, opTimeout time.Duration, logger *slog.Logger) *SummaryStore {
	return &SummaryStore{
		provider:   provider,
		opTimeout:  opTimeout,
		logger:     logger,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, readAttempts-1)
}

// Insert stores a new summary and returns the generated id as hex.
// Inserts are never retried so a failure cannot produce duplicates.
func (s *SummaryStore) Insert(ctx context.Context, summary *domain.Summary) (string, error) {
	coll, err := s.provider.Collection(ctx)
	if err != nil {
		return "", &StoreError{Op: "insert", Err: err}
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := coll.InsertOne(opCtx, newRecord(*summary))
	if err != nil {
		return "", &StoreError{Op: "insert", Err: err}
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", &StoreError{Op: "insert", Err: fmt.Errorf("unexpected inserted id type %T", res.InsertedID)}
	}

	summary.ID = oid.Hex()
	return summary.ID, nil
}

// FindOne looks a summary up by its hex id. Ids that are not valid ObjectIDs
// cannot exist in the collection and yield ErrNotFound.
func (s *SummaryStore) FindOne(ctx context.Context, id string) (*domain.Summary, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	coll, err := s.provider.Collection(ctx)
	if err != nil {
		return nil, &StoreError{Op: "find_one", Err: err}
	}

	var rec summaryRecord
	err = s.retryRead(ctx, "find_one", func(ctx context.Context) error {
		err := coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&rec)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "find_one", Err: err}
	}

	summary := rec.toDomain()
	return &summary, nil
}

// FindMany returns up to limit summaries matching every filter by equality.
// limit <= 0 or above DefaultListLimit is clamped to DefaultListLimit.
func (s *SummaryStore) FindMany(ctx context.Context, filters map[string]string, limit int64) ([]domain.Summary, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	coll, err := s.provider.Collection(ctx)
	if err != nil {
		return nil, &StoreError{Op: "find_many", Err: err}
	}

	query := buildFilter(filters)

	var records []summaryRecord
	err = s.retryRead(ctx, "find_many", func(ctx context.Context) error {
		cursor, err := coll.Find(ctx, query, options.Find().SetLimit(limit))
		if err != nil {
			return err
		}
		records = records[:0]
		return cursor.All(ctx, &records)
	})
	if err != nil {
		return nil, &StoreError{Op: "find_many", Err: err}
	}

	out := make([]domain.Summary, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

// Each walks every summary in the collection, stopping at the first error from fn.
func (s *SummaryStore) Each(ctx context.Context, fn func(domain.Summary) error) error {
	coll, err := s.provider.Collection(ctx)
	if err != nil {
		return &StoreError{Op: "scan", Err: err}
	}

	cursor, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return &StoreError{Op: "scan", Err: err}
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var rec summaryRecord
		if err := cursor.Decode(&rec); err != nil {
			s.logger.Warn("skipping undecodable summary", "error", err)
			continue
		}
		if err := fn(rec.toDomain()); err != nil {
			return err
		}
	}

	if err := cursor.Err(); err != nil {
		return &StoreError{Op: "scan", Err: fmt.Errorf("cursor error: %w", err)}
	}
	return nil
}

// buildFilter turns caller filters into an equality query. Absent keys leave
// the field unconstrained.
func buildFilter(filters map[string]string) bson.M {
	query := bson.M{}
	for field, value := range filters {
		query[field] = value
	}
	return query
}

func (s *SummaryStore) retryRead(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		err := fn(opCtx)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("store read failed, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(s.newBackOff(), ctx), notify)
}

// transient reports whether a read error can succeed on another attempt.
// Decode and command errors cannot.
func transient(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range retryableReadCodes {
			if se.HasErrorCode(code) {
				return true
			}
		}
	}
	return false
}

func (s *SummaryStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}
