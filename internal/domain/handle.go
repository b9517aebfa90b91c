package domain

import (
	"bytes"
	"time"
)

// Handle is a loaded resource ready to be handed to a consumer.
// The consumer never sees chunk-level detail.
type Handle struct {
	Identity string
	Size     int64
	Data     []byte

	// FromCache is true when the whole object was served from the cache
	// without any network activity.
	FromCache bool

	// Digest is the verified content digest, empty when none was requested
	Digest string
}

// Reader returns a reader over the resource bytes. The returned reader
// implements io.ReaderAt and io.Seeker.
func (h *Handle) Reader() *bytes.Reader {
	return bytes.NewReader(h.Data)
}

// ObjectInfo describes one whole-object cache entry
type ObjectInfo struct {
	Identity  string
	Size      int64
	CreatedAt time.Time
}

// CacheStats summarizes the content of a cache store
type CacheStats struct {
	Objects     int
	ObjectBytes int64
	Chunks      int
	ChunkBytes  int64
}
