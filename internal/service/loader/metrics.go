package loader

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Load results used as the "result" label
const (
	ResultHit        = "hit"
	ResultDownloaded = "downloaded"
	ResultImported   = "imported"
	ResultFallback   = "fallback"
	ResultError      = "error"
)

// Metrics tracks loader Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// LoadsTotal counts finished loads by result
	LoadsTotal *prometheus.CounterVec

	// LoadDuration tracks end-to-end load latency
	LoadDuration prometheus.Histogram

	// ChunksTotal counts chunks by where their bytes came from ("network", "cache")
	ChunksTotal *prometheus.CounterVec

	// ChunkRetries counts repeated range requests
	ChunkRetries prometheus.Counter

	// BytesFetched counts bytes received from origins
	BytesFetched prometheus.Counter

	// FetchesInFlight tracks range requests currently running
	FetchesInFlight prometheus.Gauge
}

// NewMetrics creates loader metrics with the modelcache_ prefix and registers
// them on reg. Panics if registration fails.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelcache_loads_total",
				Help: "Total resource loads by result",
			},
			[]string{"result"},
		),
		LoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "modelcache_load_duration_seconds",
				Help:    "Resource load duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		ChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelcache_chunks_total",
				Help: "Chunks used by loads, by origin of the bytes",
			},
			[]string{"source"},
		),
		ChunkRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "modelcache_chunk_retries_total",
				Help: "Range requests repeated after a transient failure",
			},
		),
		BytesFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "modelcache_fetched_bytes_total",
				Help: "Bytes received from origins",
			},
		),
		FetchesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "modelcache_fetches_in_flight",
				Help: "Range requests currently in flight",
			},
		),
	}

	reg.MustRegister(
		m.LoadsTotal,
		m.LoadDuration,
		m.ChunksTotal,
		m.ChunkRetries,
		m.BytesFetched,
		m.FetchesInFlight,
	)

	return m
}

// RecordLoad records a finished load
func (m *Metrics) RecordLoad(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(result).Inc()
	m.LoadDuration.Observe(durationSeconds)
}

// RecordChunk records one chunk of a load
func (m *Metrics) RecordChunk(source string) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(source).Inc()
}

// RecordRetry records a repeated range request
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.ChunkRetries.Inc()
}

// AddFetched adds bytes received from an origin
func (m *Metrics) AddFetched(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesFetched.Add(float64(n))
}

// FetchStarted increments the in-flight gauge
func (m *Metrics) FetchStarted() {
	if m == nil {
		return
	}
	m.FetchesInFlight.Inc()
}

// FetchDone decrements the in-flight gauge
func (m *Metrics) FetchDone() {
	if m == nil {
		return
	}
	m.FetchesInFlight.Dec()
}
