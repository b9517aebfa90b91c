package commands

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/adapter/badger"
	"github.com/vertextoedge/modelcache/internal/adapter/filesystem"
	"github.com/vertextoedge/modelcache/internal/adapter/httporigin"
	"github.com/vertextoedge/modelcache/internal/adapter/sqlite"
	"github.com/vertextoedge/modelcache/internal/config"
	"github.com/vertextoedge/modelcache/internal/logger"
	"github.com/vertextoedge/modelcache/internal/port"
	"github.com/vertextoedge/modelcache/internal/service/loader"
)

// runtime holds the components a command needs
type runtime struct {
	cfg      *config.Config
	store    port.CacheStore
	loader   *loader.Loader
	registry *prometheus.Registry
	logger   *zap.Logger
}

// setup loads configuration, initializes logging and opens the cache store
func setup(opts *globalOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return newRuntime(cfg, logger.GetZapLogger())
}

func newRuntime(cfg *config.Config, log *zap.Logger) (*runtime, error) {
	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	origin := httporigin.NewClient(originConfig(cfg.Download))
	l := loader.New(loaderConfig(cfg), store, origin, loader.NewMetrics(registry), log.Named("loader"))

	log.Debug("cache store opened",
		zap.String("backend", cfg.Store.Backend),
		zap.String("path", cfg.Store.Path))

	return &runtime{
		cfg:      cfg,
		store:    store,
		loader:   l,
		registry: registry,
		logger:   log,
	}, nil
}

// Close cancels running loads and closes the store
func (r *runtime) Close() error {
	r.loader.Shutdown()
	return r.store.Close()
}

// openStore opens the configured cache backend under cfg.Path
func openStore(cfg config.StoreConfig) (port.CacheStore, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		dbPath := filepath.Join(cfg.Path, "cache.db")
		store, err := sqlite.OpenWithCacheSize(dbPath, cfg.CacheSizeMB)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store at %s: %w", dbPath, err)
		}
		return store, nil
	case config.BackendBadger:
		dir := filepath.Join(cfg.Path, "badger")
		store, err := badger.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store at %s: %w", dir, err)
		}
		return store, nil
	case config.BackendFilesystem:
		store, err := filesystem.NewManagerWithBufferSize(cfg.Path, cfg.GetBufferSize())
		if err != nil {
			return nil, fmt.Errorf("failed to open filesystem store at %s: %w", cfg.Path, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func loaderConfig(cfg *config.Config) *loader.Config {
	return &loader.Config{
		MaxParallel:         cfg.Download.MaxParallel,
		ChunkSize:           cfg.Download.GetChunkSize(),
		ProgressThreshold:   cfg.Download.GetProgressThreshold(),
		MaxRetries:          cfg.Download.MaxRetries,
		RetryDelay:          cfg.Download.GetRetryDelay(),
		AllowFallback:       cfg.Download.AllowFallback,
		MaxCacheSizeBytes:   cfg.Store.GetMaxSizeBytes(),
		MaxDiskUsagePercent: float64(cfg.Store.MaxDiskUsagePercent),
		EvictWhenFull:       cfg.Store.EvictWhenFull,
		ProgressLogInterval: cfg.Download.GetProgressLogInterval(),
	}
}

func originConfig(cfg config.DownloadConfig) httporigin.Config {
	return httporigin.Config{
		BufferSizeMB:          cfg.BufferSizeMB,
		ProbeTimeout:          cfg.GetProbeTimeout(),
		ResponseHeaderTimeout: cfg.GetResponseHeaderTimeout(),
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		UserAgent:             cfg.UserAgent,
		SkipTLSVerify:         cfg.SkipTLSVerify,
	}
}
