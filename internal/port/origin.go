package port

import (
	"context"

	"github.com/vertextoedge/modelcache/internal/domain"
)

// ProgressFunc receives the cumulative number of bytes received so far
// for a single request (not the global total).
type ProgressFunc func(received int64)

// Origin is a remote server holding the resource bytes
type Origin interface {
	// Probe returns the resource length without downloading the body
	// Returns *domain.SizeUnknownError if the origin does not report one
	Probe(ctx context.Context, url string) (int64, error)

	// FetchRange downloads exactly one chunk using a range request
	FetchRange(ctx context.Context, url string, chunk domain.ChunkDescriptor, onBytes ProgressFunc) ([]byte, error)

	// FetchAll downloads the whole body without a known length
	// This is the non-resumable fallback path
	FetchAll(ctx context.Context, url string, onBytes ProgressFunc) ([]byte, error)
}
