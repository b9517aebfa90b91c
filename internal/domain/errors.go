package domain

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Common domain errors
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrSizeUnknown    = errors.New("origin did not report content length")
	ErrDigestMismatch = errors.New("content digest mismatch")
	ErrNoSpace        = errors.New("not enough cache space")

	// ErrAssembly signals a broken assembly invariant (missing chunk buffer or
	// a size that does not match the plan). It should never surface in practice.
	ErrAssembly = errors.New("chunk assembly invariant violated")
)

// SizeUnknownError is returned when the origin does not report the resource
// length, so no chunk plan can be computed.
type SizeUnknownError struct {
	URL        string
	StatusCode int
}

// Error returns the error message
func (e *SizeUnknownError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("size probe for %s failed with status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("size probe for %s: %s", e.URL, ErrSizeUnknown.Error())
}

// Unwrap returns ErrSizeUnknown so callers can match with errors.Is
func (e *SizeUnknownError) Unwrap() error {
	return ErrSizeUnknown
}

// ChunkFetchError describes a failed range request for one chunk.
// StatusCode is zero when the request never produced a response.
type ChunkFetchError struct {
	Index      int
	StatusCode int
	Err        error
}

// Error returns the error message
func (e *ChunkFetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("chunk %d: unexpected status %d: %v", e.Index, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("chunk %d: unexpected status %d", e.Index, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
	default:
		return fmt.Sprintf("chunk %d: fetch failed", e.Index)
	}
}

// Unwrap returns the underlying error
func (e *ChunkFetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt at the same range could succeed:
// transport failures, truncated bodies, 408, 429 and 5xx responses.
func (e *ChunkFetchError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusOK || e.StatusCode == http.StatusPartialContent:
		return errors.Is(e.Err, io.ErrUnexpectedEOF)
	}
	return false
}

// NewChunkFetchError creates a new chunk fetch error
func NewChunkFetchError(index, statusCode int, err error) *ChunkFetchError {
	return &ChunkFetchError{Index: index, StatusCode: statusCode, Err: err}
}

// CacheWriteError wraps a failed cache write for the given key.
type CacheWriteError struct {
	Key string
	Err error
}

// Error returns the error message
func (e *CacheWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache write %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("cache write %q failed", e.Key)
}

// Unwrap returns the underlying error
func (e *CacheWriteError) Unwrap() error {
	return e.Err
}

// NewCacheWriteError creates a new cache write error
func NewCacheWriteError(key string, err error) *CacheWriteError {
	return &CacheWriteError{Key: key, Err: err}
}

// IsSizeUnknown returns true if the origin did not report a length
func IsSizeUnknown(err error) bool {
	var se *SizeUnknownError
	return errors.As(err, &se) || errors.Is(err, ErrSizeUnknown)
}

// IsChunkFetchError returns true if err carries a ChunkFetchError
func IsChunkFetchError(err error) bool {
	var ce *ChunkFetchError
	return errors.As(err, &ce)
}

// IsCacheWrite returns true if err carries a CacheWriteError
func IsCacheWrite(err error) bool {
	var we *CacheWriteError
	return errors.As(err, &we)
}

// IsRetryable returns true if the error is a chunk fetch failure worth retrying
func IsRetryable(err error) bool {
	var ce *ChunkFetchError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}
