// Package backup stores snapshots of content workflow records when content
// is archived.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// Sink receives archive snapshots.
type Sink interface {
	Backup(ctx context.Context, snapshot Snapshot) error
}

// Snapshot is the archived record written by a Sink.
type Snapshot struct {
	Entity     types.Entity `json:"entity"`
	ArchivedBy string       `json:"archived_by"`
	ArchivedAt time.Time    `json:"archived_at"`
}

// LogSink only logs that a backup was requested.
type LogSink struct {
	Logger *zap.Logger
}

// Backup implements Sink.
func (s LogSink) Backup(_ context.Context, snapshot Snapshot) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("archive backup requested",
		zap.String("content_id", snapshot.Entity.ContentID),
		zap.Int("history_len", len(snapshot.Entity.History)),
		zap.String("archived_by", snapshot.ArchivedBy))
	return nil
}

// PutObjectAPI is the part of the S3 client used by S3Sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes each snapshot as a JSON object under Prefix in Bucket.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Sink creates an S3Sink.
func NewS3Sink(client PutObjectAPI, bucket, prefix string) (*S3Sink, error) {
	if client == nil || bucket == "" {
		return nil, errors.New("s3 client and bucket are required")
	}
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}, nil
}

// Key returns the object key used for a snapshot.
func (s *S3Sink) Key(snapshot Snapshot) string {
	name := fmt.Sprintf("%s-%d.json", snapshot.Entity.ContentID, snapshot.ArchivedAt.UnixMilli())
	return path.Join(s.prefix, "content", snapshot.Entity.ContentID, name)
}

// Backup implements Sink.
func (s *S3Sink) Backup(ctx context.Context, snapshot Snapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", snapshot.Entity.ContentID, err)
	}
	key := s.Key(snapshot)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
