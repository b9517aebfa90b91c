package loader

import (
	"context"
	_ "crypto/sha256" // registers the canonical digest algorithm
	_ "crypto/sha512"
	"fmt"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/domain"
)

// Assemble concatenates chunk buffers in ascending index order into one
// pre-sized buffer. results[i] must hold the bytes of chunks[i].
func Assemble(chunks []domain.ChunkDescriptor, results [][]byte) ([]byte, error) {
	if len(results) != len(chunks) {
		return nil, fmt.Errorf("%w: %d buffers for %d chunks", domain.ErrAssembly, len(results), len(chunks))
	}

	var total int64
	for i, c := range chunks {
		if results[i] == nil && c.Size > 0 {
			return nil, fmt.Errorf("%w: chunk %d missing", domain.ErrAssembly, i)
		}
		if int64(len(results[i])) != c.Size {
			return nil, fmt.Errorf("%w: chunk %d has %d bytes, want %d", domain.ErrAssembly, i, len(results[i]), c.Size)
		}
		total += c.Size
	}

	out := make([]byte, total)
	for i, c := range chunks {
		copy(out[c.Start:c.End+1], results[i])
	}
	return out, nil
}

// parseDigest validates an optional expected digest
func parseDigest(s string) (digest.Digest, error) {
	if s == "" {
		return "", nil
	}
	d, err := digest.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: digest %q: %v", domain.ErrInvalidInput, s, err)
	}
	return d, nil
}

// verifyDigest reports whether data matches want; an empty want always matches
func verifyDigest(want digest.Digest, data []byte) bool {
	if want == "" {
		return true
	}
	v := want.Verifier()
	v.Write(data)
	return v.Verified()
}

// commit persists an assembled resource and reclaims its chunk entries.
// If the whole-object write fails, chunks are kept for a later resume.
func (l *Loader) commit(ctx context.Context, identity string, data []byte, want digest.Digest, logger *zap.Logger) (*domain.Handle, error) {
	if !verifyDigest(want, data) {
		// Chunks with wrong bytes would poison every resumed attempt
		if n, err := l.store.DeleteChunks(ctx, identity); err != nil {
			logger.Warn("failed to evict chunks after digest mismatch", zap.Error(err))
		} else {
			logger.Info("evicted chunks after digest mismatch", zap.Int("count", n))
		}
		return nil, fmt.Errorf("%s: %w: want %s", identity, domain.ErrDigestMismatch, want)
	}

	if err := l.store.PutObject(ctx, identity, data); err != nil {
		return nil, domain.NewCacheWriteError(domain.ObjectKey(identity), err)
	}

	if n, err := l.store.DeleteChunks(ctx, identity); err != nil {
		logger.Warn("failed to evict chunks", zap.Error(err))
	} else if n > 0 {
		logger.Debug("evicted chunks", zap.Int("count", n))
	}

	return &domain.Handle{
		Identity: identity,
		Size:     int64(len(data)),
		Data:     data,
		Digest:   want.String(),
	}, nil
}
