package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// flakyStore fails the first failures calls of each method with err.
type flakyStore struct {
	failures int
	err      error
	calls    map[string]int
}

func (f *flakyStore) fail(op string) error {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	if f.calls[op] <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyStore) List(context.Context) ([]string, error) {
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	return []string{"churn"}, nil
}

func (f *flakyStore) Fetch(_ context.Context, id string) ([]byte, error) {
	if err := f.fail("fetch"); err != nil {
		return nil, err
	}
	return []byte(id), nil
}

func (f *flakyStore) FetchMetadata(context.Context, string) (artifact.Document, error) {
	if err := f.fail("metadata"); err != nil {
		return nil, err
	}
	return artifact.Document{"version": "1.0.0"}, nil
}

func TestRetrying_RecoversFromReadErrors(t *testing.T) {
	flaky := &flakyStore{failures: 2, err: errors.New(errors.ErrCodeStorageRead, "disk hiccup")}
	s := NewRetrying(flaky, 3, nil)
	ctx := context.Background()

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"churn"}, ids)

	data, err := s.Fetch(ctx, "churn")
	require.NoError(t, err)
	assert.Equal(t, []byte("churn"), data)

	doc, err := s.FetchMetadata(ctx, "churn")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", doc["version"])

	assert.Equal(t, map[string]int{"list": 3, "fetch": 3, "metadata": 3}, flaky.calls)
}

func TestRetrying_GivesUp(t *testing.T) {
	flaky := &flakyStore{failures: 5, err: errors.New(errors.ErrCodeStorageRead, "disk gone")}
	_, err := NewRetrying(flaky, 2, nil).Fetch(context.Background(), "churn")

	assert.ErrorIs(t, err, errors.ErrStorageRead)
	assert.Equal(t, 2, flaky.calls["fetch"])
}

func TestRetrying_NotFoundIsNotRetried(t *testing.T) {
	flaky := &flakyStore{failures: 5, err: errors.New(errors.ErrCodeNotFound, "no such model")}
	_, err := NewRetrying(flaky, 3, nil).Fetch(context.Background(), "churn")

	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, 1, flaky.calls["fetch"])
}

func TestRetrying_SingleAttempt(t *testing.T) {
	flaky := &flakyStore{failures: 1, err: errors.ErrStorageRead}
	_, err := NewRetrying(flaky, 0, nil).List(context.Background())

	assert.ErrorIs(t, err, errors.ErrStorageRead)
	assert.Equal(t, 1, flaky.calls["list"])
}

func TestRetrying_Ping(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, NewRetrying(&flakyStore{}, 3, nil).Ping(ctx))

	dir := NewDir(t.TempDir()+"/missing", "", nil)
	assert.ErrorIs(t, NewRetrying(dir, 3, nil).Ping(ctx), errors.ErrStorageRead)
}
