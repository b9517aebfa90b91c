package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/adapter/filesystem"
	"github.com/vertextoedge/modelcache/internal/adapter/httporigin"
	"github.com/vertextoedge/modelcache/internal/service/loader"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	origin  *httptest.Server
	store   *filesystem.Manager
	data    []byte
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	t.Helper()

	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model.bin" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "model.bin", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(origin.Close)

	store, err := filesystem.NewManager(t.TempDir())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	l := loader.New(&loader.Config{ChunkSize: 1024, MaxParallel: 2}, store,
		httporigin.NewClient(httporigin.DefaultConfig()), loader.NewMetrics(reg), zap.NewNop())
	t.Cleanup(l.Shutdown)

	s := New(cfg, l, store, reg, zap.NewNop())
	return &testEnv{server: s, handler: s.Handler(), origin: origin, store: store, data: data}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) startLoad(t *testing.T, name string) string {
	t.Helper()
	body := `{"name":"` + name + `","url":"` + e.origin.URL + `/model.bin"}`
	rec := e.do(t, http.MethodPost, "/api/v1/loads", strings.NewReader(body), nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp loadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	assert.Equal(t, name, resp.Name)
	return resp.ID
}

func (e *testEnv) waitLoad(t *testing.T, id string) loader.SessionStatus {
	t.Helper()
	var st loader.SessionStatus
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/v1/loads/"+id, nil, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		st = loader.SessionStatus{}
		if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
			return false
		}
		return st.State != loader.StateRunning
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("disk gone") }

func TestServer_HealthUnhealthy(t *testing.T) {
	s := New(nil, nil, failingPinger{}, prometheus.NewRegistry(), zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk gone")
}

func TestServer_LoadLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	id := env.startLoad(t, "model.bin")
	st := env.waitLoad(t, id)
	require.Equal(t, loader.StateDone, st.State, st.Error)
	assert.Equal(t, int64(len(env.data)), st.Loaded)
	assert.Equal(t, int64(len(env.data)), st.Total)
	assert.Equal(t, "model.bin", st.Identity)

	// listed
	rec := env.do(t, http.MethodGet, "/api/v1/models", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models []modelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	require.Len(t, models, 1)
	assert.Equal(t, "model.bin", models[0].Name)
	assert.Equal(t, int64(len(env.data)), models[0].Size)

	// served whole
	rec = env.do(t, http.MethodGet, "/models/model.bin", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, env.data, rec.Body.Bytes())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	// served by range
	rec = env.do(t, http.MethodGet, "/models/model.bin", nil, http.Header{"Range": {"bytes=100-199"}})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, env.data[100:200], rec.Body.Bytes())

	// evicted
	rec = env.do(t, http.MethodDelete, "/api/v1/models/model.bin", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/models/model.bin", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SecondLoadIsCacheHit(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.waitLoad(t, env.startLoad(t, "model.bin"))
	require.Equal(t, loader.StateDone, first.State)
	assert.False(t, first.FromCache)

	second := env.waitLoad(t, env.startLoad(t, "model.bin"))
	require.Equal(t, loader.StateDone, second.State)
	assert.True(t, second.FromCache)

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `modelcache_loads_total{result="hit"} 1`)
	assert.Contains(t, rec.Body.String(), `modelcache_loads_total{result="downloaded"} 1`)
}

func TestServer_FailedLoad(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"name":"missing.bin","url":"` + env.origin.URL + `/missing.bin"}`
	rec := env.do(t, http.MethodPost, "/api/v1/loads", strings.NewReader(body), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp loadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	st := env.waitLoad(t, resp.ID)
	assert.Equal(t, loader.StateFailed, st.State)
	assert.NotEmpty(t, st.Error)
}

func TestServer_StartLoadValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	good := env.origin.URL + "/model.bin"

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"empty name", `{"name":"","url":"` + good + `"}`},
		{"reserved name", `{"name":"chunk_x","url":"` + good + `"}`},
		{"file url", `{"name":"m.bin","url":"file:///etc/passwd"}`},
		{"local path", `{"name":"m.bin","url":"/etc/passwd"}`},
		{"bad digest", `{"name":"m.bin","url":"` + good + `","digest":"sha256:nothex"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/loads", strings.NewReader(tt.body), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_UnknownLoad(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/loads/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetUncachedModelDoesNotDownload(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/models/model.bin", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stats, err := env.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Objects)
	assert.Equal(t, 0, stats.Chunks)
}

func TestServer_BasicAuth(t *testing.T) {
	env := newTestEnv(t, &Config{AdminUsername: "admin", AdminPassword: "secret"})

	rec := env.do(t, http.MethodDelete, "/api/v1/models/model.bin", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/models/model.bin", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/models/model.bin", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// reads stay open
	rec = env.do(t, http.MethodGet, "/api/v1/models", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/v1/models", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartStop(t *testing.T) {
	env := newTestEnv(t, &Config{BindAddr: "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() {
		done <- env.server.Start(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.server.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}
