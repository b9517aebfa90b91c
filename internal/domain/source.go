package domain

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Source is where the bytes of a resource come from. It is a closed set:
// RemoteSource, FileSource and BytesSource. Callers decide the variant at
// the boundary instead of passing an untyped value around.
type Source interface {
	sourceKind() string
}

// RemoteSource is an HTTP(S) origin supporting range requests
type RemoteSource struct {
	URL string
}

// FileSource is a file already present on local disk
type FileSource struct {
	Path string
}

// BytesSource is an in-memory buffer
type BytesSource struct {
	Data []byte
}

func (RemoteSource) sourceKind() string { return "remote" }
func (FileSource) sourceKind() string   { return "file" }
func (BytesSource) sourceKind() string  { return "bytes" }

// SourceKind returns a short label for logging
func SourceKind(s Source) string {
	if s == nil {
		return "none"
	}
	return s.sourceKind()
}

// ParseSource turns a command line argument into a Source: http and https
// URLs become RemoteSource, existing paths become FileSource.
func ParseSource(arg string) (Source, error) {
	if arg == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidInput)
	}
	if u, err := url.Parse(arg); err == nil && u.Host != "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return RemoteSource{URL: arg}, nil
		default:
			return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, u.Scheme)
		}
	}
	info, err := os.Stat(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is neither a URL nor a readable file: %v", ErrInvalidInput, arg, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidInput, arg)
	}
	return FileSource{Path: arg}, nil
}

// ParseRemoteSource accepts only http and https URLs
func ParseRemoteSource(raw string) (RemoteSource, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return RemoteSource{}, fmt.Errorf("%w: invalid url %q", ErrInvalidInput, raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return RemoteSource{URL: raw}, nil
	default:
		return RemoteSource{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, u.Scheme)
	}
}
