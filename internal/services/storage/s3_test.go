package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockObjectAPI struct {
	putFunc    func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	listFunc   func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	deleteFunc func(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)

	putCalls    []s3.PutObjectInput
	deletedKeys []string
}

func (m *mockObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.putCalls = append(m.putCalls, *params)
	if m.putFunc != nil {
		return m.putFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockObjectAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, params, optFns...)
	}
	return &s3.ListObjectsV2Output{}, nil
}

func (m *mockObjectAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deletedKeys = append(m.deletedKeys, aws.ToString(params.Key))
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, params, optFns...)
	}
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockObjectAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Deliver_UploadsUnderPrefix(t *testing.T) {
	mock := &mockObjectAPI{}
	backend := NewS3WithClient(testLogger(), mock, "b", "p/")

	artifact := filepath.Join(t.TempDir(), "bk.dump.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0o600))

	location, err := backend.Deliver(context.Background(), artifact, "bk.dump.gz")

	require.NoError(t, err)
	assert.Equal(t, "s3://b/p/bk.dump.gz", location)

	require.Len(t, mock.putCalls, 1)
	put := mock.putCalls[0]
	assert.Equal(t, "b", aws.ToString(put.Bucket))
	assert.Equal(t, "p/bk.dump.gz", aws.ToString(put.Key))

	body, err := io.ReadAll(put.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestS3Deliver_UploadError(t *testing.T) {
	mock := &mockObjectAPI{
		putFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, errors.New("access denied")
		},
	}
	backend := NewS3WithClient(testLogger(), mock, "b", "p/")

	artifact := filepath.Join(t.TempDir(), "bk.dump.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0o600))

	_, err := backend.Deliver(context.Background(), artifact, "bk.dump.gz")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3Deliver_MissingArtifact(t *testing.T) {
	mock := &mockObjectAPI{}
	backend := NewS3WithClient(testLogger(), mock, "b", "p/")

	_, err := backend.Deliver(context.Background(), "/nonexistent/file", "f")

	require.Error(t, err)
	assert.Empty(t, mock.putCalls, "no upload should be attempted")
}

func TestS3Cleanup_PaginatesAndDeletesStrictlyOlder(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	cutoff := 24 * time.Hour

	page1 := &s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("p/ancient.dump.gz"), LastModified: aws.Time(now.Add(-48 * time.Hour))},
			{Key: aws.String("p/boundary.dump.gz"), LastModified: aws.Time(now.Add(-cutoff))},
		},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("token-1"),
	}
	page2 := &s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("p/old.dump.gz"), LastModified: aws.Time(now.Add(-25 * time.Hour))},
			{Key: aws.String("p/fresh.dump.gz"), LastModified: aws.Time(now.Add(-time.Hour))},
		},
		IsTruncated: aws.Bool(false),
	}

	var gotTokens []string
	mock := &mockObjectAPI{
		listFunc: func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			if params.ContinuationToken == nil {
				return page1, nil
			}
			gotTokens = append(gotTokens, *params.ContinuationToken)
			return page2, nil
		},
	}

	backend := NewS3WithClient(testLogger(), mock, "b", "p/")
	backend.now = func() time.Time { return now }

	deleted, err := backend.CleanupOlderThan(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, []string{"token-1"}, gotTokens)
	assert.ElementsMatch(t, []string{"p/ancient.dump.gz", "p/old.dump.gz"}, mock.deletedKeys)
}

func TestS3Cleanup_DeletionFailuresAreTolerated(t *testing.T) {
	now := time.Now()
	mock := &mockObjectAPI{
		listFunc: func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			return &s3.ListObjectsV2Output{
				Contents: []types.Object{
					{Key: aws.String("p/a.dump.gz"), LastModified: aws.Time(now.Add(-48 * time.Hour))},
					{Key: aws.String("p/b.dump.gz"), LastModified: aws.Time(now.Add(-48 * time.Hour))},
				},
				IsTruncated: aws.Bool(false),
			}, nil
		},
		deleteFunc: func(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
			if aws.ToString(params.Key) == "p/a.dump.gz" {
				return nil, errors.New("locked")
			}
			return &s3.DeleteObjectOutput{}, nil
		},
	}

	backend := NewS3WithClient(testLogger(), mock, "b", "p/")

	deleted, err := backend.CleanupOlderThan(context.Background(), 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "only the successful deletion counts")
}

func TestS3Cleanup_ListError(t *testing.T) {
	mock := &mockObjectAPI{
		listFunc: func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			return nil, errors.New("network down")
		},
	}

	backend := NewS3WithClient(testLogger(), mock, "b", "p/")

	_, err := backend.CleanupOlderThan(context.Background(), time.Hour)

	require.Error(t, err)
}

func TestS3Location(t *testing.T) {
	backend := NewS3WithClient(testLogger(), &mockObjectAPI{}, "b", "p/")
	assert.Equal(t, "s3://b/p/", backend.Location())
}
