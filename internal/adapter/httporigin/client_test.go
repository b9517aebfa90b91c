package httporigin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/modelcache/internal/domain"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newRangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "model.bin", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbe(t *testing.T) {
	data := testPayload(12345)
	srv := newRangeServer(t, data)

	size, err := NewClient(DefaultConfig()).Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
}

func TestProbe_SizeUnknown(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "no content length",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "not found",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(DefaultConfig()).Probe(context.Background(), srv.URL)
			require.Error(t, err)
			assert.True(t, domain.IsSizeUnknown(err))

			var se *domain.SizeUnknownError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantStatus, se.StatusCode)
		})
	}
}

func TestFetchRange_PartialContent(t *testing.T) {
	data := testPayload(1_000_000)
	srv := newRangeServer(t, data)
	client := NewClient(DefaultConfig())

	chunk := domain.ChunkDescriptor{Index: 1, Start: 300_000, End: 899_999, Size: 600_000}

	var reports []int64
	got, err := client.FetchRange(context.Background(), srv.URL, chunk, func(received int64) {
		reports = append(reports, received)
	})
	require.NoError(t, err)
	assert.Equal(t, data[300_000:900_000], got)

	require.NotEmpty(t, reports)
	assert.Equal(t, chunk.Size, reports[len(reports)-1])
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1])
	}
}

func TestFetchRange_SendsRangeHeader(t *testing.T) {
	var gotRange, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.UserAgent = "test-agent"
	chunk := domain.ChunkDescriptor{Index: 2, Start: 20, End: 29, Size: 10}

	_, err := NewClient(cfg).FetchRange(context.Background(), srv.URL, chunk, nil)
	require.NoError(t, err)
	assert.Equal(t, "bytes=20-29", gotRange)
	assert.Equal(t, "test-agent", gotAgent)
}

func TestFetchRange_FullContentIsTruncated(t *testing.T) {
	data := testPayload(500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}))
	defer srv.Close()

	chunk := domain.ChunkDescriptor{Index: 0, Start: 0, End: 99, Size: 100}
	got, err := NewClient(DefaultConfig()).FetchRange(context.Background(), srv.URL, chunk, nil)
	require.NoError(t, err)
	assert.Equal(t, data[:100], got)
}

func TestFetchRange_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	chunk := domain.ChunkDescriptor{Index: 4, Start: 40, End: 49, Size: 10}
	_, err := NewClient(DefaultConfig()).FetchRange(context.Background(), srv.URL, chunk, nil)
	require.Error(t, err)

	var ce *domain.ChunkFetchError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 4, ce.Index)
	assert.Equal(t, http.StatusForbidden, ce.StatusCode)
	assert.False(t, ce.Retryable())
	assert.Contains(t, err.Error(), "chunk 4")
	assert.Contains(t, err.Error(), "403")
}

func TestFetchRange_ShortBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	chunk := domain.ChunkDescriptor{Index: 0, Start: 0, End: 99, Size: 100}
	_, err := NewClient(DefaultConfig()).FetchRange(context.Background(), srv.URL, chunk, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, domain.IsRetryable(err))
}

func TestFetchRange_CanceledContext(t *testing.T) {
	srv := newRangeServer(t, testPayload(100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunk := domain.ChunkDescriptor{Index: 0, Start: 0, End: 99, Size: 100}
	_, err := NewClient(DefaultConfig()).FetchRange(ctx, srv.URL, chunk, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetchAll(t *testing.T) {
	data := testPayload(700_000)

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "with length",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.ServeContent(w, r, "model.bin", time.Time{}, bytes.NewReader(data))
			},
		},
		{
			name: "chunked",
			handler: func(w http.ResponseWriter, r *http.Request) {
				flusher := w.(http.Flusher)
				for off := 0; off < len(data); off += 100_000 {
					w.Write(data[off : off+100_000])
					flusher.Flush()
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			var last int64
			got, err := NewClient(DefaultConfig()).FetchAll(context.Background(), srv.URL, func(received int64) {
				assert.GreaterOrEqual(t, received, last)
				last = received
			})
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.Equal(t, int64(len(data)), last)
		})
	}
}

func TestFetchAll_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(DefaultConfig()).FetchAll(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "500"))
}
