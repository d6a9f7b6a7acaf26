// Package response maps handler outcomes onto API Gateway proxy envelopes.
package response

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"transcript-summaries/pkg/domain"
	"transcript-summaries/pkg/event"
)

const (
	HeaderContentType = "Content-Type"
	HeaderAllowOrigin = "Access-Control-Allow-Origin"

	// NotFoundMessage is the fixed error text of a 404.
	NotFoundMessage = "Summary not found"

	unknownStatus = "UNKNOWN"
)

// IngestionBody is returned after a summary is stored.
type IngestionBody struct {
	Message    string `json:"message"`
	DocumentID string `json:"documentId"`
	Summary    string `json:"summary"`
}

// SummaryBody is returned for a single summary.
type SummaryBody struct {
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	ProcessedAt time.Time `json:"processedAt"`
	Status      string    `json:"status"`
}

// SummaryStub is one entry of a list response.
type SummaryStub struct {
	ID          string    `json:"id"`
	JobName     string    `json:"jobName"`
	ProcessedAt time.Time `json:"processedAt"`
	Status      string    `json:"status"`
}

// ListBody is returned for list queries.
type ListBody struct {
	Count     int           `json:"count"`
	Summaries []SummaryStub `json:"summaries"`
}

// ErrorBody is returned for 404 and 500 responses.
type ErrorBody struct {
	Error         string `json:"error"`
	RemainingTime *int64 `json:"remaining_time,omitempty"`
}

// Ingested builds the body for a stored summary.
func Ingested(s domain.Summary) IngestionBody {
	return IngestionBody{
		Message:    "Successfully processed",
		DocumentID: s.ID,
		Summary:    s.SummaryText,
	}
}

// Single builds the body for one summary.
func Single(s domain.Summary) SummaryBody {
	return SummaryBody{
		Summary:     s.SummaryText,
		Source:      s.SourceFile,
		ProcessedAt: s.ProcessedAt,
		Status:      statusOrUnknown(s.Status),
	}
}

// List builds the body for a list of summaries.
func List(summaries []domain.Summary) ListBody {
	stubs := make([]SummaryStub, 0, len(summaries))
	for _, s := range summaries {
		stubs = append(stubs, SummaryStub{
			ID:          s.ID,
			JobName:     s.JobName,
			ProcessedAt: s.ProcessedAt,
			Status:      statusOrUnknown(s.Status),
		})
	}
	return ListBody{Count: len(stubs), Summaries: stubs}
}

// OK is a 200 carrying body.
func OK(origin event.Origin, body any) events.APIGatewayProxyResponse {
	return build(http.StatusOK, origin, body)
}

// NotFound is the 404 for a missing summary. Only API requests reach it.
func NotFound() events.APIGatewayProxyResponse {
	return build(http.StatusNotFound, event.OriginAPI, ErrorBody{Error: NotFoundMessage})
}

// Failure is the uniform 500. API callers also get the milliseconds left
// before the invocation deadline, when the context has one.
func Failure(ctx context.Context, origin event.Origin, err error) events.APIGatewayProxyResponse {
	body := ErrorBody{Error: err.Error()}
	if origin == event.OriginAPI {
		if ms, ok := RemainingMillis(ctx); ok {
			body.RemainingTime = &ms
		}
	}
	return build(http.StatusInternalServerError, origin, body)
}

// RemainingMillis reports the time left before ctx's deadline.
func RemainingMillis(ctx context.Context) (int64, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	ms := time.Until(deadline).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms, true
}

// Headers returns the headers for a response to origin.
func Headers(origin event.Origin) map[string]string {
	h := map[string]string{HeaderContentType: "application/json"}
	if origin == event.OriginAPI {
		h[HeaderAllowOrigin] = "*"
	}
	return h
}

func build(status int, origin event.Origin, body any) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload, _ = json.Marshal(ErrorBody{Error: "encode response: " + err.Error()})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    Headers(origin),
		Body:       string(payload),
	}
}

func statusOrUnknown(s domain.Status) string {
	if s == "" {
		return unknownStatus
	}
	return string(s)
}
