package port

import (
	"context"

	"github.com/vertextoedge/modelcache/internal/domain"
)

// ChunkStore persists individual chunks keyed by (identity, index).
// Absent entries are reported as domain.ErrNotFound.
type ChunkStore interface {
	// HasChunk reports whether chunk_{identity}_{index} exists
	HasChunk(ctx context.Context, identity string, index int) (bool, error)

	// GetChunk returns the chunk payload
	GetChunk(ctx context.Context, identity string, index int) ([]byte, error)

	// PutChunk stores a chunk, overwriting any previous payload
	PutChunk(ctx context.Context, identity string, index int, data []byte) error

	// DeleteChunks removes every chunk entry of identity
	// Returns the number of entries deleted
	DeleteChunks(ctx context.Context, identity string) (int, error)
}

// ObjectStore persists fully assembled resources keyed by identity.
// Absent entries are reported as domain.ErrNotFound.
type ObjectStore interface {
	// GetObject returns the assembled resource
	GetObject(ctx context.Context, identity string) ([]byte, error)

	// PutObject stores the assembled resource in a single all-or-nothing write
	PutObject(ctx context.Context, identity string, data []byte) error

	// DeleteObject removes the assembled resource; deleting a missing object is not an error
	DeleteObject(ctx context.Context, identity string) error

	// ListObjects returns every whole-object entry
	ListObjects(ctx context.Context) ([]domain.ObjectInfo, error)
}

// CacheStore is a backend holding both chunk and whole-object entries
type CacheStore interface {
	ChunkStore
	ObjectStore

	// Stats returns entry counts and sizes
	Stats(ctx context.Context) (*domain.CacheStats, error)

	// Ping checks backend health
	Ping(ctx context.Context) error

	// Close releases backend resources
	Close() error
}

// GarbageCollector is implemented by backends that reclaim space lazily
type GarbageCollector interface {
	// RunGC rewrites storage files whose discardable share exceeds discardRatio
	RunGC(discardRatio float64) error
}
