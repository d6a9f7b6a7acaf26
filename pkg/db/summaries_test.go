package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.mongodb.org/mongo-driver/mongo/options"

	"transcript-summaries/pkg/config"
	"transcript-summaries/pkg/domain"
	"transcript-summaries/pkg/logging"
)

// staticCollection serves a fixed collection, skipping the Manager.
type staticCollection struct {
	coll *mongo.Collection
	err  error
}

func (s staticCollection) Collection(ctx context.Context) (*mongo.Collection, error) {
	return s.coll, s.err
}

func newMockStore(coll *mongo.Collection) *SummaryStore {
	s := NewSummaryStore(staticCollection{coll: coll}, time.Second, logging.Discard())
	s.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, readAttempts-1)
	}
	return s
}

func summaryDoc(id primitive.ObjectID, job string, processedAt time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "jobName", Value: job},
		{Key: "summaryText", Value: "Alice Bob park ..."},
		{Key: "sourceFile", Value: "s3://bucket/" + job + ".json"},
		{Key: "processedAt", Value: primitive.NewDateTimeFromTime(processedAt)},
		{Key: "status", Value: "COMPLETED"},
	}
}

// mockOptions disables the driver's own read retry so each mock response
// answers exactly one store attempt.
func mockOptions() *mtest.Options {
	return mtest.NewOptions().ClientType(mtest.Mock).ClientOptions(options.Client().SetRetryReads(false))
}

// networkFailure is a command error the driver labels as a network error.
func networkFailure(msg string) bson.D {
	return mtest.CreateCommandErrorResponse(mtest.CommandError{
		Code: 6, Name: "HostUnreachable", Message: msg, Labels: []string{"NetworkError"},
	})
}

func TestSummaryStore_Insert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns generated id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		store := newMockStore(mt.Coll)

		doc := &domain.Summary{
			JobName:     "clip1",
			SummaryText: "Alice Bob park ...",
			SourceFile:  "s3://bucket/clip1.json",
			ProcessedAt: time.Now().UTC(),
			Status:      domain.StatusCompleted,
		}

		id, err := store.Insert(context.Background(), doc)
		if err != nil {
			mt.Fatalf("Insert() error = %v", err)
		}
		if _, err := primitive.ObjectIDFromHex(id); err != nil {
			mt.Errorf("id %q is not an ObjectID hex: %v", id, err)
		}
		if doc.ID != id {
			mt.Errorf("doc.ID = %q, want %q", doc.ID, id)
		}
	})

	mt.Run("write error is a StoreError", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))
		store := newMockStore(mt.Coll)

		_, err := store.Insert(context.Background(), &domain.Summary{JobName: "clip1"})
		var storeErr *StoreError
		if !errors.As(err, &storeErr) {
			mt.Fatalf("expected *StoreError, got %v", err)
		}
		if storeErr.Op != "insert" {
			mt.Errorf("Op = %q, want insert", storeErr.Op)
		}
	})
}

func TestSummaryStore_Insert_ConnectionUnavailable(t *testing.T) {
	store := NewSummaryStore(staticCollection{err: errors.New("no reachable servers")}, time.Second, logging.Discard())

	_, err := store.Insert(context.Background(), &domain.Summary{JobName: "clip1"})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *StoreError, got %v", err)
	}
}

func TestSummaryStore_FindOne(t *testing.T) {
	mt := mtest.New(t, mockOptions())
	processedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mt.Run("found", func(mt *mtest.T) {
		oid := primitive.NewObjectID()
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, summaryDoc(oid, "clip1", processedAt)))
		store := newMockStore(mt.Coll)

		got, err := store.FindOne(context.Background(), oid.Hex())
		if err != nil {
			mt.Fatalf("FindOne() error = %v", err)
		}
		if got.ID != oid.Hex() || got.JobName != "clip1" || got.Status != domain.StatusCompleted {
			mt.Errorf("unexpected summary: %+v", got)
		}
		if !got.ProcessedAt.Equal(processedAt) {
			mt.Errorf("ProcessedAt = %v, want %v", got.ProcessedAt, processedAt)
		}
	})

	mt.Run("missing document", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		store := newMockStore(mt.Coll)

		_, err := store.FindOne(context.Background(), primitive.NewObjectID().Hex())
		if !errors.Is(err, ErrNotFound) {
			mt.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("retries transient failure", func(mt *mtest.T) {
		oid := primitive.NewObjectID()
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(
			networkFailure("connection reset"),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, summaryDoc(oid, "clip2", processedAt)),
		)
		store := newMockStore(mt.Coll)

		got, err := store.FindOne(context.Background(), oid.Hex())
		if err != nil {
			mt.Fatalf("FindOne() error = %v", err)
		}
		if got.JobName != "clip2" {
			mt.Errorf("JobName = %q, want clip2", got.JobName)
		}
	})

	mt.Run("gives up after bounded attempts", func(mt *mtest.T) {
		mt.AddMockResponses(networkFailure("down"), networkFailure("down"), networkFailure("down"))
		store := newMockStore(mt.Coll)

		_, err := store.FindOne(context.Background(), primitive.NewObjectID().Hex())
		var storeErr *StoreError
		if !errors.As(err, &storeErr) {
			mt.Fatalf("expected *StoreError, got %v", err)
		}
		if errors.Is(err, ErrNotFound) {
			mt.Error("store failure must not be reported as not found")
		}
	})

	mt.Run("command error is not retried", func(mt *mtest.T) {
		oid := primitive.NewObjectID()
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "bad filter"}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, summaryDoc(oid, "clip3", processedAt)),
		)
		store := newMockStore(mt.Coll)

		_, err := store.FindOne(context.Background(), oid.Hex())
		var storeErr *StoreError
		if !errors.As(err, &storeErr) {
			mt.Fatalf("expected *StoreError from the single attempt, got %v", err)
		}
	})
}

func TestSummaryStore_FindOne_InvalidID(t *testing.T) {
	store := NewSummaryStore(staticCollection{err: errors.New("must not be called")}, time.Second, logging.Discard())

	_, err := store.FindOne(context.Background(), "not-an-object-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSummaryStore_FindMany(t *testing.T) {
	mt := mtest.New(t, mockOptions())
	processedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mt.Run("returns all documents in store order", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			summaryDoc(primitive.NewObjectID(), "clip1", processedAt),
			summaryDoc(primitive.NewObjectID(), "clip2", processedAt),
			summaryDoc(primitive.NewObjectID(), "clip3", processedAt),
		))
		store := newMockStore(mt.Coll)

		got, err := store.FindMany(context.Background(), map[string]string{}, 0)
		if err != nil {
			mt.Fatalf("FindMany() error = %v", err)
		}
		if len(got) != 3 {
			mt.Fatalf("expected 3 summaries, got %d", len(got))
		}
		for i, want := range []string{"clip1", "clip2", "clip3"} {
			if got[i].JobName != want {
				mt.Errorf("summary %d JobName = %q, want %q", i, got[i].JobName, want)
			}
			if got[i].ID == "" {
				mt.Errorf("summary %d has no id", i)
			}
		}
	})

	mt.Run("reads string and date processedAt alike", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		legacy := summaryDoc(primitive.NewObjectID(), "legacy", processedAt)
		legacy[4] = bson.E{Key: "processedAt", Value: "2025-04-01T10:00:00.123456"}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			summaryDoc(primitive.NewObjectID(), "clip1", processedAt),
			legacy,
		))
		store := newMockStore(mt.Coll)

		got, err := store.FindMany(context.Background(), nil, 0)
		if err != nil {
			mt.Fatalf("FindMany() error = %v", err)
		}
		if len(got) != 2 {
			mt.Fatalf("expected 2 summaries, got %d", len(got))
		}
		if !got[0].ProcessedAt.Equal(processedAt) {
			mt.Errorf("date processedAt = %v", got[0].ProcessedAt)
		}
		want := time.Date(2025, 4, 1, 10, 0, 0, 123456000, time.UTC)
		if !got[1].ProcessedAt.Equal(want) {
			mt.Errorf("string processedAt = %v, want %v", got[1].ProcessedAt, want)
		}
	})

	mt.Run("sends equality filter and limit", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		store := newMockStore(mt.Coll)

		if _, err := store.FindMany(context.Background(), map[string]string{"status": "COMPLETED"}, 500); err != nil {
			mt.Fatalf("FindMany() error = %v", err)
		}

		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "find" {
			mt.Fatalf("expected a find command, got %+v", started)
		}

		status, err := started.Command.LookupErr("filter", "status")
		if err != nil {
			mt.Fatalf("filter.status missing: %v", err)
		}
		if status.StringValue() != "COMPLETED" {
			mt.Errorf("filter.status = %v, want COMPLETED", status)
		}

		limit, err := started.Command.LookupErr("limit")
		if err != nil {
			mt.Fatalf("limit missing: %v", err)
		}
		if got, ok := limit.Int64OK(); !ok || got != DefaultListLimit {
			mt.Errorf("limit = %v, want %d", limit, DefaultListLimit)
		}
	})
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network label", mongo.CommandError{Code: 6, Labels: []string{"NetworkError"}}, true},
		{"primary stepped down", mongo.CommandError{Code: 189, Name: "PrimarySteppedDown"}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"bad value", mongo.CommandError{Code: 2, Name: "BadValue"}, false},
		{"not found", ErrNotFound, false},
		{"decode", errors.New("error decoding key jobName"), false},
	}

	for _, tt := range tests {
		if got := transient(tt.err); got != tt.want {
			t.Errorf("%s: transient() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSummaryRecord_ProcessedAt(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, err := bson.Marshal(newRecord(domain.Summary{JobName: "clip1", ProcessedAt: at}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if typ := bson.Raw(raw).Lookup("processedAt").Type; typ != bsontype.DateTime {
		t.Errorf("processedAt stored as %s, want a BSON date", typ)
	}

	tests := []struct {
		name    string
		value   any
		want    time.Time
		wantErr bool
	}{
		{"date", primitive.NewDateTimeFromTime(at), at, false},
		{"iso without zone", "2025-03-01T12:00:00", at, false},
		{"iso with offset", "2025-03-01T14:00:00+02:00", at, false},
		{"null", nil, time.Time{}, false},
		{"unparseable string", "??", time.Time{}, true},
		{"number", int32(5), time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := bson.Marshal(bson.D{{Key: "processedAt", Value: tt.value}})
			if err != nil {
				t.Fatal(err)
			}
			var rec summaryRecord
			err = bson.Unmarshal(doc, &rec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !time.Time(rec.ProcessedAt).Equal(tt.want) {
				t.Errorf("ProcessedAt = %v, want %v", time.Time(rec.ProcessedAt), tt.want)
			}
		})
	}
}

func TestBuildFilter(t *testing.T) {
	if got := buildFilter(nil); len(got) != 0 {
		t.Errorf("nil filters should be unconstrained, got %v", got)
	}

	got := buildFilter(map[string]string{"status": "COMPLETED"})
	if len(got) != 1 || got["status"] != "COMPLETED" {
		t.Errorf("unexpected filter: %v", got)
	}
}

// TestIntegration_SummaryStore_RoundTrip runs against a real MongoDB named by
// MONGO_TEST_URI.
func TestIntegration_SummaryStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx := context.Background()
	full := &config.Config{Mongo: config.MongoConfig{URI: uri, Database: "transcription_test", Collection: "summaries_test"}}
	if err := full.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg := full.Mongo

	manager := NewManager(cfg, logging.Discard())
	defer manager.Close(ctx)

	coll, err := manager.Collection(ctx)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	if err := coll.Drop(ctx); err != nil {
		t.Fatalf("drop: %v", err)
	}

	store := NewSummaryStore(manager, 5*time.Second, logging.Discard())

	doc := &domain.Summary{
		JobName:     "clip1",
		SummaryText: "Alice Bob park ...",
		SourceFile:  "s3://bucket/clip1.json",
		ProcessedAt: time.Now().UTC().Truncate(time.Millisecond),
		Status:      domain.StatusCompleted,
	}
	id, err := store.Insert(ctx, doc)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.FindOne(ctx, id)
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if got.ID != doc.ID || got.JobName != doc.JobName || got.SummaryText != doc.SummaryText ||
		got.SourceFile != doc.SourceFile || got.Status != doc.Status || !got.ProcessedAt.Equal(doc.ProcessedAt) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, doc)
	}

	if _, err := store.FindOne(ctx, primitive.NewObjectID().Hex()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}

	list, err := store.FindMany(ctx, map[string]string{"status": "COMPLETED"}, DefaultListLimit)
	if err != nil {
		t.Fatalf("FindMany() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 summary, got %d", len(list))
	}
}
