// Package objectstore reads transcription artifacts.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNoTranscript = errors.New("artifact has no transcripts")
	ErrEmptyObject  = errors.New("object is empty")
)

// Reader fetches the raw bytes of an object.
type Reader interface {
	Read(ctx context.Context, bucket, key string) ([]byte, error)
}

// artifact mirrors the transcription job output layout.
type artifact struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// ParseTranscript returns the text of the first transcript segment.
func ParseTranscript(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyObject
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return "", fmt.Errorf("decode artifact: %w", err)
	}
	if len(a.Results.Transcripts) == 0 {
		return "", ErrNoTranscript
	}
	return a.Results.Transcripts[0].Transcript, nil
}

// ReadTranscript reads the object and extracts its first transcript.
func ReadTranscript(ctx context.Context, r Reader, bucket, key string) (string, error) {
	data, err := r.Read(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	return ParseTranscript(data)
}
