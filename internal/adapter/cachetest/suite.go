// Package cachetest provides a conformance suite that every port.CacheStore
// implementation must pass.
package cachetest

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

// Factory creates a fresh, empty store for one subtest
type Factory func(t *testing.T) port.CacheStore

// RunConformanceSuite runs every store contract check against stores made by newStore
func RunConformanceSuite(t *testing.T, newStore Factory) {
	t.Run("ChunkRoundTrip", func(t *testing.T) { testChunkRoundTrip(t, newStore(t)) })
	t.Run("ChunkOverwrite", func(t *testing.T) { testChunkOverwrite(t, newStore(t)) })
	t.Run("ChunkMissing", func(t *testing.T) { testChunkMissing(t, newStore(t)) })
	t.Run("DeleteChunksByIdentity", func(t *testing.T) { testDeleteChunks(t, newStore(t)) })
	t.Run("DeleteChunksPrefixCollision", func(t *testing.T) { testDeleteChunksPrefixCollision(t, newStore(t)) })
	t.Run("ObjectRoundTrip", func(t *testing.T) { testObjectRoundTrip(t, newStore(t)) })
	t.Run("ObjectMissing", func(t *testing.T) { testObjectMissing(t, newStore(t)) })
	t.Run("ObjectsAndChunksAreSeparate", func(t *testing.T) { testSeparateNamespaces(t, newStore(t)) })
	t.Run("ListObjects", func(t *testing.T) { testListObjects(t, newStore(t)) })
	t.Run("ListObjectsCreatedAt", func(t *testing.T) { testListObjectsCreatedAt(t, newStore(t)) })
	t.Run("LargeObject", func(t *testing.T) { testLargeObject(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
	t.Run("EmptyPayload", func(t *testing.T) { testEmptyPayload(t, newStore(t)) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceledContext(t, newStore(t)) })
}

func testChunkRoundTrip(t *testing.T, s port.CacheStore) {
	ctx := context.Background()
	data := bytes.Repeat([]byte{0xAB}, 4096)

	ok, err := s.HasChunk(ctx, "model.bin", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutChunk(ctx, "model.bin", 0, data))

	ok, err = s.HasChunk(ctx, "model.bin", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetChunk(ctx, "model.bin", 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func testChunkOverwrite(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, "model.bin", 3, []byte("first")))
	require.NoError(t, s.PutChunk(ctx, "model.bin", 3, []byte("second")))

	got, err := s.GetChunk(ctx, "model.bin", 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func testChunkMissing(t *testing.T, s port.CacheStore) {
	_, err := s.GetChunk(context.Background(), "absent", 0)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "GetChunk() error = %v, want ErrNotFound", err)
}

func testDeleteChunks(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutChunk(ctx, "model.bin", i, []byte{byte(i)}))
	}
	require.NoError(t, s.PutChunk(ctx, "other.bin", 0, []byte("keep")))
	require.NoError(t, s.PutObject(ctx, "model.bin", []byte("whole")))

	n, err := s.DeleteChunks(ctx, "model.bin")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	for i := 0; i < 5; i++ {
		ok, err := s.HasChunk(ctx, "model.bin", i)
		require.NoError(t, err)
		assert.False(t, ok, "chunk %d should be deleted", i)
	}

	ok, err := s.HasChunk(ctx, "other.bin", 0)
	require.NoError(t, err)
	assert.True(t, ok, "chunks of other identities must survive")

	obj, err := s.GetObject(ctx, "model.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("whole"), obj, "whole object must survive chunk eviction")

	n, err = s.DeleteChunks(ctx, "model.bin")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testDeleteChunksPrefixCollision(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, "a", 0, []byte("a0")))
	require.NoError(t, s.PutChunk(ctx, "a_b", 0, []byte("ab0")))

	n, err := s.DeleteChunks(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.HasChunk(ctx, "a_b", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testObjectRoundTrip(t *testing.T, s port.CacheStore) {
	ctx := context.Background()
	data := bytes.Repeat([]byte("0123456789"), 1000)

	require.NoError(t, s.PutObject(ctx, "model.bin", data))

	got, err := s.GetObject(ctx, "model.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.DeleteObject(ctx, "model.bin"))
	_, err = s.GetObject(ctx, "model.bin")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, s.DeleteObject(ctx, "model.bin"), "deleting a missing object is not an error")
}

func testObjectMissing(t *testing.T, s port.CacheStore) {
	_, err := s.GetObject(context.Background(), "absent")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "GetObject() error = %v, want ErrNotFound", err)
}

func testSeparateNamespaces(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, "model.bin", 0, []byte("chunk")))
	_, err := s.GetObject(ctx, "model.bin")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "a chunk must not be visible as an object")

	require.NoError(t, s.PutObject(ctx, "model.bin", []byte("object")))
	got, err := s.GetChunk(ctx, "model.bin", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk"), got)
}

func testListObjects(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "b.bin", []byte("bb")))
	require.NoError(t, s.PutObject(ctx, "a.bin", []byte("a")))
	require.NoError(t, s.PutChunk(ctx, "c.bin", 0, []byte("c")))

	infos, err := s.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	sort.Slice(infos, func(i, j int) bool { return infos[i].Identity < infos[j].Identity })
	assert.Equal(t, "a.bin", infos[0].Identity)
	assert.Equal(t, int64(1), infos[0].Size)
	assert.Equal(t, "b.bin", infos[1].Identity)
	assert.Equal(t, int64(2), infos[1].Size)
}

func testListObjectsCreatedAt(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	// Written oldest first, in reverse key order
	names := []string{"zz-old", "mm-mid", "aa-new"}
	for i, name := range names {
		if i > 0 {
			time.Sleep(20 * time.Millisecond)
		}
		require.NoError(t, s.PutObject(ctx, name, []byte(name)))
	}

	infos, err := s.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, infos, len(names))

	for _, info := range infos {
		assert.False(t, info.CreatedAt.IsZero(), "%s has no creation time", info.Identity)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	got := make([]string, len(infos))
	for i, info := range infos {
		got[i] = info.Identity
	}
	assert.Equal(t, names, got, "objects must sort oldest first by CreatedAt")
}

// testLargeObject writes an object big enough to span several storage
// segments when the store is opened with a small segment size, then
// replaces it with a shorter one
func testLargeObject(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	data := make([]byte, 200_003)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, s.PutObject(ctx, "model.bin", data))

	got, err := s.GetObject(ctx, "model.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	shorter := data[:70_001]
	require.NoError(t, s.PutObject(ctx, "model.bin", shorter))

	got, err = s.GetObject(ctx, "model.bin")
	require.NoError(t, err)
	assert.Equal(t, shorter, got)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Objects)
	assert.Equal(t, int64(len(shorter)), stats.ObjectBytes)

	infos, err := s.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, int64(len(shorter)), infos[0].Size)

	require.NoError(t, s.DeleteObject(ctx, "model.bin"))
	_, err = s.GetObject(ctx, "model.bin")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func testStats(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "a.bin", []byte("aaaa")))
	require.NoError(t, s.PutChunk(ctx, "b.bin", 0, []byte("bb")))
	require.NoError(t, s.PutChunk(ctx, "b.bin", 1, []byte("b")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Objects)
	assert.Equal(t, int64(4), stats.ObjectBytes)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, int64(3), stats.ChunkBytes)

	require.NoError(t, s.Ping(ctx))
}

func testEmptyPayload(t *testing.T, s port.CacheStore) {
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "empty.bin", []byte{}))
	got, err := s.GetObject(ctx, "empty.bin")
	require.NoError(t, err)
	assert.Len(t, got, 0)
}

func testCanceledContext(t *testing.T, s port.CacheStore) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.PutChunk(ctx, "model.bin", 0, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
