// Package event classifies inbound invocation envelopes.
//
// An envelope is either a storage notification (it carries a "Records" key)
// or an API Gateway proxy request. API requests select a single summary when
// pathParameters.summary_id is present and fall back to listing otherwise.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// SummaryIDParam is the path parameter naming a single summary.
const SummaryIDParam = "summary_id"

// StatusFilter is the only query-string filter carried to the list path.
const StatusFilter = "status"

// Origin tells whether an invocation came from storage or from an HTTP caller.
type Origin int

const (
	OriginStorage Origin = iota
	OriginAPI
)

func (o Origin) String() string {
	if o == OriginStorage {
		return "storage"
	}
	return "api"
}

var (
	// ErrInvalidNotification wraps every failure to read a notification envelope.
	ErrInvalidNotification = errors.New("invalid storage notification")

	ErrEmptyEnvelope = errors.New("event envelope is empty")
	ErrNoRecords     = errors.New("notification has no records")
	ErrNoBucket      = errors.New("notification record has no bucket name")
	ErrNoObjectKey   = errors.New("notification record has no object key")
)

// Event is one of Ingestion, SingleQuery or ListQuery.
type Event interface {
	Origin() Origin
	isEvent()
}

// Ingestion asks for the artifact at Bucket/Key to be summarized.
type Ingestion struct {
	Bucket string
	Key    string
}

// SingleQuery asks for one summary by id.
type SingleQuery struct {
	ID string
}

// ListQuery asks for summaries matching Filters. It is also what an API
// envelope without path parameters becomes.
type ListQuery struct {
	Filters map[string]string
}

func (Ingestion) Origin() Origin   { return OriginStorage }
func (SingleQuery) Origin() Origin { return OriginAPI }
func (ListQuery) Origin() Origin   { return OriginAPI }

func (Ingestion) isEvent()   {}
func (SingleQuery) isEvent() {}
func (ListQuery) isEvent()   {}

// SourceURI is the s3:// locator of the artifact.
func (e Ingestion) SourceURI() string {
	return fmt.Sprintf("s3://%s/%s", e.Bucket, e.Key)
}

// envelope captures just the fields classification looks at.
type envelope struct {
	Records               json.RawMessage   `json:"Records"`
	PathParameters        map[string]string `json:"pathParameters"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
}

// Classify decides what the envelope asks for. Classification is driven by
// field presence only:
//
//   - a Records key (any value) makes it an Ingestion; its first record must be usable
//   - otherwise pathParameters.summary_id makes it a SingleQuery
//   - otherwise it is a ListQuery, carrying the status filter when present
//
// The last branch is the documented fallback: an envelope that is neither a
// notification nor a single-item request lists summaries.
func Classify(raw json.RawMessage) (Event, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyEnvelope
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if env.Records != nil {
		ev, err := classifyNotification(env.Records)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
		}
		return ev, nil
	}

	if id, ok := env.PathParameters[SummaryIDParam]; ok {
		return SingleQuery{ID: id}, nil
	}

	return classifyList(env.QueryStringParameters), nil
}

// notificationRecord is the part of an S3 event record classification reads.
// Keys are decoded here rather than by events.S3Object, which rejects a bare "%".
type notificationRecord struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

func classifyNotification(raw json.RawMessage) (Event, error) {
	var records []notificationRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	first := records[0].S3
	if first.Bucket.Name == "" {
		return nil, ErrNoBucket
	}
	if first.Object.Key == "" {
		return nil, ErrNoObjectKey
	}

	return Ingestion{Bucket: first.Bucket.Name, Key: DecodeKey(first.Object.Key)}, nil
}

// DecodeKey undoes S3's form encoding of object keys: "+" is a space and
// %XX is a byte. A "%" not followed by two hex digits is kept as is.
func DecodeKey(key string) string {
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}

	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		switch c := key[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(key) && isHex(key[i+1]) && isHex(key[i+2]):
			b.WriteByte(unhex(key[i+1])<<4 | unhex(key[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}

func classifyList(query map[string]string) ListQuery {
	filters := map[string]string{}
	if status, ok := query[StatusFilter]; ok {
		filters[StatusFilter] = status
	}
	return ListQuery{Filters: filters}
}

// Notification builds a one-record storage notification for bucket/key,
// escaping the key the way S3 does.
func Notification(bucket, key string) (json.RawMessage, error) {
	env := events.S3Event{Records: []events.S3EventRecord{{
		EventSource: "aws:s3",
		EventName:   "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: url.QueryEscape(key)},
		},
	}}}
	return json.Marshal(env)
}

// APIRequest builds a proxy request envelope carrying the given path and
// query parameters.
func APIRequest(method, resource string, pathParams, query map[string]string) (json.RawMessage, error) {
	return json.Marshal(events.APIGatewayProxyRequest{
		HTTPMethod:            method,
		Resource:              resource,
		PathParameters:        pathParams,
		QueryStringParameters: query,
	})
}
