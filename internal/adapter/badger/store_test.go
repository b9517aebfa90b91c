package badger

import (
	"bytes"
	"context"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/modelcache/internal/adapter/cachetest"
	"github.com/vertextoedge/modelcache/internal/port"
)

func TestConformance(t *testing.T) {
	cachetest.RunConformanceSuite(t, func(t *testing.T) port.CacheStore {
		store, err := Open(t.TempDir())
		require.NoError(t, err)
		store.segmentSize = 4096
		t.Cleanup(func() {
			store.Close()
		})
		return store
	})
}

func TestConformance_InMemory(t *testing.T) {
	cachetest.RunConformanceSuite(t, func(t *testing.T) port.CacheStore {
		store, err := OpenInMemory()
		require.NoError(t, err)
		t.Cleanup(func() {
			store.Close()
		})
		return store
	})
}

func TestRunGC_NothingToRewrite(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RunGC(0.5))
}

func countSegments(t *testing.T, s *Store) int {
	t.Helper()
	n := 0
	err := s.scan([]byte(prefixSegment), func(_ []byte, _ *badgerdb.Item) error {
		n++
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestPutObject_Segments(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	store.segmentSize = 1000
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "model.bin", bytes.Repeat([]byte{7}, 2500)))
	assert.Equal(t, 3, countSegments(t, store))

	require.NoError(t, store.PutObject(ctx, "model.bin", bytes.Repeat([]byte{8}, 500)))
	assert.Equal(t, 1, countSegments(t, store), "segments of the replaced object must be pruned")

	got, err := store.GetObject(ctx, "model.bin")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{8}, 500), got)

	require.NoError(t, store.DeleteObject(ctx, "model.bin"))
	assert.Equal(t, 0, countSegments(t, store))
}

func TestPutObject_SegmentsDoNotLeakAcrossIdentities(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()
	store.segmentSize = 100
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "a", bytes.Repeat([]byte("a"), 250)))
	require.NoError(t, store.PutObject(ctx, "a_b", bytes.Repeat([]byte("b"), 250)))
	require.NoError(t, store.DeleteObject(ctx, "a"))

	got, err := store.GetObject(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("b"), 250), got)
	assert.Equal(t, 3, countSegments(t, store))
}

func TestListObjects_CreatedAtAdvancesOnRewrite(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "model.bin", []byte("v1")))
	first, err := store.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, store.PutObject(ctx, "model.bin", []byte("v2")))
	second, err := store.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.True(t, second[0].CreatedAt.After(first[0].CreatedAt))
}
