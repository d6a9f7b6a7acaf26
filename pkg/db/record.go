package db

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"transcript-summaries/pkg/domain"
)

// summaryRecord is the persisted layout: the domain fields plus the store id.
type summaryRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	JobName     string             `bson:"jobName"`
	SummaryText string             `bson:"summaryText"`
	SourceFile  string             `bson:"sourceFile"`
	ProcessedAt storedTime         `bson:"processedAt"`
	Status      domain.Status      `bson:"status"`
}

func newRecord(s domain.Summary) summaryRecord {
	return summaryRecord{
		JobName:     s.JobName,
		SummaryText: s.SummaryText,
		SourceFile:  s.SourceFile,
		ProcessedAt: storedTime(s.ProcessedAt),
		Status:      s.Status,
	}
}

func (r summaryRecord) toDomain() domain.Summary {
	return domain.Summary{
		ID:          r.ID.Hex(),
		JobName:     r.JobName,
		SummaryText: r.SummaryText,
		SourceFile:  r.SourceFile,
		ProcessedAt: time.Time(r.ProcessedAt),
		Status:      r.Status,
	}
}

// storedTime is written as a BSON date. It also reads the ISO-8601 strings
// that older writers of the collection stored; strings without a zone are UTC.
type storedTime time.Time

func (t storedTime) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(time.Time(t))
}

func (t *storedTime) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: typ, Value: data}

	switch typ {
	case bsontype.DateTime:
		*t = storedTime(raw.Time().UTC())
	case bsontype.String:
		parsed, err := dateparse.ParseIn(raw.StringValue(), time.UTC)
		if err != nil {
			return fmt.Errorf("parse processedAt %q: %w", raw.StringValue(), err)
		}
		*t = storedTime(parsed.UTC())
	case bsontype.Null, bsontype.Undefined:
		*t = storedTime(time.Time{})
	default:
		return fmt.Errorf("processedAt has unsupported BSON type %s", typ)
	}
	return nil
}
