package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultChunkSize is the nominal chunk size used when none is configured
const DefaultChunkSize int64 = 10 * 1024 * 1024

// ChunkDescriptor is one contiguous byte range of a resource.
// Start and End are inclusive offsets.
type ChunkDescriptor struct {
	Index int
	Start int64
	End   int64
	Size  int64
}

// RangeHeader returns the value of the HTTP Range header for the chunk
func (c ChunkDescriptor) RangeHeader() string {
	return fmt.Sprintf("bytes=%d-%d", c.Start, c.End)
}

// PlanChunks partitions [0, fileSize) into ceil(fileSize/chunkSize) ranges.
// The partition depends only on its inputs, so chunk indices stay stable
// across resumed sessions. The last chunk may be shorter than chunkSize.
func PlanChunks(fileSize, chunkSize int64) ([]ChunkDescriptor, error) {
	if fileSize < 0 {
		return nil, fmt.Errorf("%w: negative file size %d", ErrInvalidInput, fileSize)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidInput, chunkSize)
	}

	count := (fileSize + chunkSize - 1) / chunkSize
	chunks := make([]ChunkDescriptor, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize - 1
		if end >= fileSize {
			end = fileSize - 1
		}
		chunks = append(chunks, ChunkDescriptor{
			Index: int(i),
			Start: start,
			End:   end,
			Size:  end - start + 1,
		})
	}
	return chunks, nil
}

// chunkKeyPrefix is prepended to every chunk entry key
const chunkKeyPrefix = "chunk_"

// ObjectKey returns the cache key of the assembled resource
func ObjectKey(identity string) string {
	return identity
}

// ChunkKey returns the cache key of one chunk: chunk_{identity}_{index}
func ChunkKey(identity string, index int) string {
	return ChunkKeyPrefix(identity) + strconv.Itoa(index)
}

// ChunkKeyPrefix returns the key prefix shared by all chunks of identity
func ChunkKeyPrefix(identity string) string {
	return chunkKeyPrefix + identity + "_"
}

// IsChunkKey reports whether key is a chunk entry and returns its identity
// and index. Keys are split at the last underscore, so identities may
// themselves contain underscores.
func IsChunkKey(key string) (identity string, index int, ok bool) {
	if !strings.HasPrefix(key, chunkKeyPrefix) {
		return "", 0, false
	}
	rest := key[len(chunkKeyPrefix):]
	sep := strings.LastIndexByte(rest, '_')
	if sep <= 0 || sep == len(rest)-1 {
		return "", 0, false
	}
	idx, ok := parseIndex(rest[sep+1:])
	if !ok {
		return "", 0, false
	}
	return rest[:sep], idx, true
}

// MatchesChunkKey reports whether key is a chunk entry of identity.
// A plain prefix match is not enough: the prefix of identity "a" is also
// a prefix of every chunk key of identity "a_b".
func MatchesChunkKey(key, identity string) bool {
	prefix := ChunkKeyPrefix(identity)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	_, ok := parseIndex(key[len(prefix):])
	return ok
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ValidateIdentity checks that a resource identity can be used as a cache key
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("%w: empty resource identity", ErrInvalidInput)
	}
	if strings.HasPrefix(identity, chunkKeyPrefix) {
		return fmt.Errorf("%w: identity %q collides with chunk key namespace", ErrInvalidInput, identity)
	}
	if strings.ContainsRune(identity, 0) {
		return fmt.Errorf("%w: identity %q contains NUL", ErrInvalidInput, identity)
	}
	return nil
}
