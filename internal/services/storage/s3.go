package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/rs/zerolog"
)

// ErrStorageUnreachable is returned when the bucket cannot be reached at
// construction time, distinguishing configuration errors from later
// delivery errors.
var ErrStorageUnreachable = errors.New("object storage unreachable")

// ObjectAPI is the subset of the S3 client used by the backend. It allows
// mocking the client in tests.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Backend stores artifacts in an S3 (or S3-compatible) bucket.
type S3Backend struct {
	client ObjectAPI
	bucket string
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewS3 creates an S3 backend and verifies the bucket is reachable.
func NewS3(ctx context.Context, logger zerolog.Logger, cfg models.ResolvedStorage) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 storage requires a region")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		logger.Debug().Msg("using static credentials for s3 storage")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// Path-style addressing for S3-compatible services (MinIO etc.).
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	backend := NewS3WithClient(logger, client, cfg.Bucket, cfg.Prefix)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %q: %w: %w", cfg.Bucket, ErrStorageUnreachable, err)
	}

	logger.Info().Str("bucket", cfg.Bucket).Str("region", cfg.Region).Msg("connected to s3 storage")
	return backend, nil
}

// NewS3WithClient creates an S3 backend with a custom client (for testing).
// No reachability check is performed.
func NewS3WithClient(logger zerolog.Logger, client ObjectAPI, bucket, prefix string) *S3Backend {
	return &S3Backend{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// Deliver uploads the artifact under the configured key prefix. The file is
// read fully into memory; artifacts are already materialized on disk and
// bounded by available space, so this is acceptable.
func (b *S3Backend) Deliver(ctx context.Context, artifactPath, filename string) (string, error) {
	data, err := os.ReadFile(artifactPath) //nolint:gosec // path is produced by the dump pipeline
	if err != nil {
		return "", fmt.Errorf("reading artifact: %w", err)
	}

	key := b.prefix + filename
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("uploading s3://%s/%s: %w", b.bucket, key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", b.bucket, key)
	b.logger.Info().Str("location", location).Int("size_bytes", len(data)).Msg("backup uploaded to s3")
	return location, nil
}

// CleanupOlderThan paginates over objects under the key prefix and deletes
// those strictly older than now-cutoff. Per-object deletion failures are
// logged and skipped.
func (b *S3Backend) CleanupOlderThan(ctx context.Context, cutoff time.Duration) (int, error) {
	cutoffTime := b.now().Add(-cutoff)
	deleted := 0

	var continuationToken *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(b.prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return deleted, fmt.Errorf("listing s3://%s/%s: %w", b.bucket, b.prefix, err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil || obj.LastModified == nil {
				continue
			}
			if !obj.LastModified.Before(cutoffTime) {
				continue
			}

			_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				b.logger.Warn().Err(err).Str("key", *obj.Key).Msg("failed to delete old s3 object")
				continue
			}

			b.logger.Info().Str("key", *obj.Key).Msg("deleted old s3 object")
			deleted++
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return deleted, nil
}

// Location returns the bucket and prefix.
func (b *S3Backend) Location() string {
	return fmt.Sprintf("s3://%s/%s", b.bucket, b.prefix)
}
