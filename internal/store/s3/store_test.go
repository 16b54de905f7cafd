package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// fakeS3 is an in-memory bucket that pages ListObjectsV2 by MaxKeys.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
	gets    int
	lists   int
}

func newFakeS3(objects map[string]string) *fakeS3 {
	f := &fakeS3{objects: make(map[string][]byte)}
	for k, v := range objects {
		f.objects[k] = []byte(v)
	}
	return f
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.fail != nil {
		return nil, f.fail
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.fail != nil {
		return nil, f.fail
	}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start = sort.SearchStrings(keys, tok)
	}
	end := len(keys)
	if in.MaxKeys != nil && start+int(*in.MaxKeys) < end {
		end = start + int(*in.MaxKeys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return &s3.HeadBucketOutput{}, nil
}

func newTestStore(t *testing.T, client API, cfg Config) *Store {
	t.Helper()
	if cfg.Bucket == "" {
		cfg.Bucket = "models"
	}
	s, err := NewWithClient(client, cfg, nil)
	require.NoError(t, err)
	return s
}

func TestNewWithClient_EmptyBucket(t *testing.T) {
	s, err := NewWithClient(newFakeS3(nil), Config{}, nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestStore_ListPaginates(t *testing.T) {
	client := newFakeS3(map[string]string{
		"prod/a.model":         "a",
		"prod/b.model":         "b",
		"prod/b_metadata.json": "{}",
		"prod/c.model":         "c",
		"prod/nested/d.model":  "d",
		"prod/readme.txt":      "x",
		"staging/other.model":  "o",
	})
	s := newTestStore(t, client, Config{Prefix: "/prod", ListPageSize: 2})

	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Greater(t, client.lists, 1, "listing should need more than one page")
}

func TestStore_Fetch(t *testing.T) {
	client := newFakeS3(map[string]string{"churn.model": "payload"})
	s := newTestStore(t, client, Config{})
	ctx := context.Background()

	data, err := s.Fetch(ctx, "churn")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = s.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = s.Fetch(ctx, "../escape")
	assert.ErrorIs(t, err, errors.ErrInvalidIdentifier)
}

func TestStore_FetchMetadata(t *testing.T) {
	client := newFakeS3(map[string]string{
		"m/churn_metadata.json":  `{"version":"3","type":"classifier"}`,
		"m/broken_metadata.json": `nope`,
	})
	s := newTestStore(t, client, Config{Prefix: "m"})
	ctx := context.Background()

	doc, err := s.FetchMetadata(ctx, "churn")
	require.NoError(t, err)
	assert.Equal(t, "3", doc["version"])

	doc, err = s.FetchMetadata(ctx, "plain")
	require.NoError(t, err)
	assert.Nil(t, doc)

	_, err = s.FetchMetadata(ctx, "broken")
	assert.ErrorIs(t, err, errors.ErrCorruptArtifact)
}

func TestStore_NotFoundDoesNotTripBreaker(t *testing.T) {
	s := newTestStore(t, newFakeS3(nil), Config{BreakerFailures: 2})

	for i := 0; i < 5; i++ {
		_, err := s.Fetch(context.Background(), "missing")
		assert.ErrorIs(t, err, errors.ErrNotFound)
	}
}

func TestStore_BreakerOpensOnFailures(t *testing.T) {
	client := newFakeS3(map[string]string{"churn.model": "payload"})
	client.fail = stderrors.New("connection reset by peer")
	s := newTestStore(t, client, Config{BreakerFailures: 2, BreakerTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Fetch(ctx, "churn")
		assert.ErrorIs(t, err, errors.ErrStorageRead)
	}

	gets := client.gets
	_, err := s.Fetch(ctx, "churn")
	assert.ErrorIs(t, err, errors.ErrServiceUnavailable)
	assert.Equal(t, gets, client.gets, "an open breaker must not reach the bucket")
}

func TestStore_Ping(t *testing.T) {
	client := newFakeS3(nil)
	s := newTestStore(t, client, Config{})
	require.NoError(t, s.Ping(context.Background()))

	client.fail = stderrors.New("access denied")
	assert.ErrorIs(t, s.Ping(context.Background()), errors.ErrStorageRead)
}
