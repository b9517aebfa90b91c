// Package httporigin fetches resource bytes from an HTTP origin using size
// probes and inclusive byte-range requests.
package httporigin

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

const readSize = 256 * 1024

// Config contains optional client configuration
type Config struct {
	BufferSizeMB          int           // Transport read/write buffer size in MB (default: 8)
	ProbeTimeout          time.Duration // Timeout for size probes (default: 30s)
	ResponseHeaderTimeout time.Duration // Time to wait for response headers on downloads (default: 30s)
	MaxConnsPerHost       int           // Connection cap towards one origin (default: 50)
	UserAgent             string
	SkipTLSVerify         bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BufferSizeMB:          8,
		ProbeTimeout:          30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxConnsPerHost:       50,
		UserAgent:             "modelcache/1",
	}
}

// Client is an HTTP origin client
type Client struct {
	config         Config
	probeClient    *http.Client
	downloadClient *http.Client
}

// Ensure Client implements port.Origin
var _ port.Origin = (*Client)(nil)

// NewClient creates a new origin client
func NewClient(cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.BufferSizeMB <= 0 {
		cfg.BufferSizeMB = defaults.BufferSizeMB
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = defaults.ResponseHeaderTimeout
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = defaults.MaxConnsPerHost
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	bufferSize := cfg.BufferSizeMB * 1024 * 1024

	probeTransport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	downloadTransport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		// Connection pooling
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     120 * time.Second,

		// Buffer sizes for high-speed transfers
		WriteBufferSize: bufferSize,
		ReadBufferSize:  bufferSize,

		ForceAttemptHTTP2: true,

		// Model files are already compressed or incompressible; a transparent
		// gzip layer would also make Content-Length disappear
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	return &Client{
		config: cfg,
		probeClient: &http.Client{
			Transport: probeTransport,
			Timeout:   cfg.ProbeTimeout,
		},
		downloadClient: &http.Client{
			Transport: downloadTransport,
			Timeout:   0, // No timeout for downloads
		},
	}
}

// Probe returns the resource length reported by a HEAD request
func (c *Client) Probe(ctx context.Context, url string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return 0, err
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("size probe for %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &domain.SizeUnknownError{URL: url, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength < 0 {
		return 0, &domain.SizeUnknownError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.ContentLength, nil
}

// FetchRange downloads one chunk with a Range request. Both 206 and 200 are
// accepted; a 200 body is cut at the chunk size.
func (c *Client) FetchRange(ctx context.Context, url string, chunk domain.ChunkDescriptor, onBytes port.ProgressFunc) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", chunk.RangeHeader())

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, domain.NewChunkFetchError(chunk.Index, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, domain.NewChunkFetchError(chunk.Index, resp.StatusCode, nil)
	}

	buf := make([]byte, chunk.Size)
	var offset int64
	for offset < chunk.Size {
		end := offset + readSize
		if end > chunk.Size {
			end = chunk.Size
		}

		n, readErr := resp.Body.Read(buf[offset:end])
		if n > 0 {
			offset += int64(n)
			if onBytes != nil {
				onBytes(offset)
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if offset < chunk.Size {
				return nil, domain.NewChunkFetchError(chunk.Index, resp.StatusCode, io.ErrUnexpectedEOF)
			}
			break
		}
		if errors.Is(readErr, io.ErrUnexpectedEOF) {
			return nil, domain.NewChunkFetchError(chunk.Index, resp.StatusCode, io.ErrUnexpectedEOF)
		}
		return nil, domain.NewChunkFetchError(chunk.Index, 0, fmt.Errorf("reading body: %w", readErr))
	}

	return buf, nil
}

// FetchAll downloads the whole body with a plain GET. The buffer is
// pre-sized when the response carries a length and grows otherwise.
func (c *Client) FetchAll(ctx context.Context, url string, onBytes port.ProgressFunc) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	capacity := int64(readSize)
	if resp.ContentLength > 0 {
		capacity = resp.ContentLength
	}
	buf := make([]byte, 0, capacity)

	var received int64
	for {
		if len(buf) == cap(buf) {
			buf = append(buf, 0)[:len(buf)]
		}
		n, readErr := resp.Body.Read(buf[len(buf):cap(buf)])
		if n > 0 {
			buf = buf[:len(buf)+n]
			received += int64(n)
			if onBytes != nil {
				onBytes(received)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("fetch %s: reading body: %w", url, readErr)
		}
	}

	if resp.ContentLength >= 0 && received != resp.ContentLength {
		return nil, fmt.Errorf("fetch %s: %w", url, io.ErrUnexpectedEOF)
	}
	return buf, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	return req, nil
}
