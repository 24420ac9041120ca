// Package archive persists dead-lettered outbox payloads to S3 so rejected
// envelopes stay inspectable after the sync_runs rows age out.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store writes dead-letter documents. Implementations must be safe for
// concurrent use by worker goroutines.
type Store interface {
	PutDeadLetter(ctx context.Context, tenantID string, runID int64, payload []byte) error
}

// S3Store archives payloads under dead-letter/<tenant>/<run>-<ts>.json.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds the archive against the default AWS credential chain.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3Store) PutDeadLetter(ctx context.Context, tenantID string, runID int64, payload []byte) error {
	key := fmt.Sprintf("dead-letter/%s/%d-%d.json", tenantID, runID, time.Now().UTC().Unix())
	contentType := "application/json"
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(payload),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}
