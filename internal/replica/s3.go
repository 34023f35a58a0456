// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package replica

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/anomaly"
)

// s3API is the subset of the S3 client the replica uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an object storage replica.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3 writes each batch as one JSON Lines object keyed by batch id, so a
// redelivered batch overwrites itself.
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// NewS3 creates an S3 replica with static credentials. Endpoint is optional
// and allows S3-compatible stores.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, oops.With("field", "bucket").Errorf("s3 replica bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return newS3(s3.New(opts), cfg.Bucket, cfg.Prefix), nil
}

func newS3(client s3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Name identifies the replica in logs and metrics.
func (s *S3) Name() string { return "s3" }

// ObjectKey returns prefix/YYYY/MM/DD/<batch id>.jsonl, dated by the batch
// id's timestamp.
func (s *S3) ObjectKey(batchID ulid.ULID) string {
	day := ulid.Time(batchID.Time()).UTC().Format("2006/01/02")
	return path.Join(s.prefix, day, batchID.String()+".jsonl")
}

// ReplicateAnomalies uploads the batch.
func (s *S3) ReplicateAnomalies(ctx context.Context, batchID ulid.ULID, entries []anomaly.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i, e := range entries {
		if err := enc.Encode(e); err != nil {
			return oops.With("operation", "encode anomaly entry").With("index", i).Wrap(err)
		}
	}

	key := s.ObjectKey(batchID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"batch-id":    batchID.String(),
			"entry-count": strconv.Itoa(len(entries)),
		},
	})
	if err != nil {
		return oops.With("operation", "put batch object").
			With("bucket", s.bucket).
			With("key", key).
			Wrap(err)
	}
	return nil
}
