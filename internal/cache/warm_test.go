package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

func TestWarm_PartialFailure(t *testing.T) {
	s := newMemStore()
	s.put(t, "a", nil)
	s.put(t, "b", nil)
	s.putRaw("broken", []byte("{"))
	c, _ := newTestCache(t, s, 5)

	res, err := Warm(context.Background(), c, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, res.Loaded)
	require.Contains(t, res.Failed, "broken")
	assert.ErrorIs(t, res.Failed["broken"], errors.ErrCorruptArtifact)
	assert.Equal(t, []string{"a", "b"}, c.List())
	assert.True(t, c.Ready())
}

func TestWarm_RespectsCapacity(t *testing.T) {
	s := newMemStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		s.put(t, id, nil)
	}
	c, _ := newTestCache(t, s, 2)

	res, err := Warm(context.Background(), c, 0)
	require.NoError(t, err)

	assert.Len(t, res.Loaded, 4)
	assert.Len(t, c.List(), 2)
}

func TestWarm_EmptyStore(t *testing.T) {
	c, _ := newTestCache(t, newMemStore(), 2)

	res, err := Warm(context.Background(), c, 4)
	require.NoError(t, err)
	assert.Empty(t, res.Loaded)
	assert.Empty(t, res.Failed)
	assert.False(t, c.Ready())
}
