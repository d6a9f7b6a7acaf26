package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// GetObjectAPI is the S3 operation S3Reader needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Reader reads objects from S3 with a per-call timeout. Retries come from
// the client's retryer.
type S3Reader struct {
	client  GetObjectAPI
	timeout time.Duration
}

// NewS3Reader creates a reader. timeout bounds GetObject plus the body read.
func NewS3Reader(client GetObjectAPI, timeout time.Duration) *S3Reader {
	return &S3Reader{client: client, timeout: timeout}
}

// Read downloads the whole object.
func (r *S3Reader) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
