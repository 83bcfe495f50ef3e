// Package objectstore persists artifacts out of line, backed by S3, so
// history stays small. Its only user is the vision chain, which archives
// downloaded image bytes and appends the stored reference to the image
// description; tool results in ToolState.Content are not stored here.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Store puts artifacts into a single bucket, keyed by a generated id.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New wraps an existing S3 client.
func New(client *s3.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads r under a generated key and returns the https URL under which
// it will be reachable (assuming the bucket/prefix is served publicly or via
// a CDN in front of it — bucket policy is an operational concern outside
// this module's scope).
func (s *Store) Put(ctx context.Context, contentType string, r io.Reader) (string, error) {
	key := fmt.Sprintf("%s%s", s.prefix, uuid.NewString())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key), nil
}

// PresignGet is used by adapters that need a time-limited direct link
// instead of relying on bucket-level public access.
func (s *Store) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("objectstore: presign %s: %w", key, err)
	}
	return req.URL, nil
}
