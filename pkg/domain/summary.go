package domain

import "time"

// Status is the processing state recorded on a summary document.
type Status string

const (
	// StatusCompleted is the only status written by the ingestion path.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed and StatusPending are reserved for future producers.
	StatusFailed  Status = "FAILED"
	StatusPending Status = "PENDING"
)

// Summary is the keyword summary derived from one transcription artifact.
type Summary struct {
	// ID is assigned by the store on insert (ObjectID hex). Empty before insert.
	ID string `bson:"-" json:"id,omitempty"`

	// JobName is the source object's base name without its extension.
	JobName string `bson:"jobName" json:"jobName"`

	// SummaryText is the space-joined keyword list followed by " ...".
	SummaryText string `bson:"summaryText" json:"summaryText"`

	// SourceFile is the fully-qualified locator of the artifact, e.g. s3://bucket/key.
	SourceFile string `bson:"sourceFile" json:"sourceFile"`

	// ProcessedAt is set once at write time.
	ProcessedAt time.Time `bson:"processedAt" json:"processedAt"`

	Status Status `bson:"status" json:"status"`
}
