package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// Interval is how often housekeeping runs
	Interval time.Duration

	// TempFileMaxAge is the maximum age of staged temp files before cleanup
	TempFileMaxAge time.Duration

	// SessionRetention is how long finished load sessions stay queryable
	SessionRetention time.Duration

	// GCDiscardRatio is passed to stores that reclaim space lazily
	GCDiscardRatio float64
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:         10 * time.Minute,
		TempFileMaxAge:   time.Hour,
		SessionRetention: time.Hour,
		GCDiscardRatio:   0.5,
	}
}

// SessionPruner forgets finished load sessions
type SessionPruner interface {
	PruneSessions(olderThan time.Duration) int
}

// StatsReader reports cache content
type StatsReader interface {
	Stats(ctx context.Context) (*domain.CacheStats, error)
}

// Deps are the housekeeping targets. Nil members are skipped.
type Deps struct {
	Sessions SessionPruner
	Stats    StatsReader
	Temp     port.TempCleaner
	GC       port.GarbageCollector
}

// Service handles periodic maintenance tasks
type Service struct {
	config *Config
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, deps Deps, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = time.Hour
	}
	if cfg.SessionRetention == 0 {
		cfg.SessionRetention = time.Hour
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = 0.5
	}

	return &Service{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
}

// Start runs the maintenance loop until ctx is canceled or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("session_retention", s.config.SessionRetention))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single housekeeping pass
func (s *Service) RunOnce(ctx context.Context) {
	s.pruneSessions()
	s.cleanupTempFiles()
	s.collectGarbage()
	s.logStats(ctx)
}

func (s *Service) pruneSessions() {
	if s.deps.Sessions == nil {
		return
	}
	if n := s.deps.Sessions.PruneSessions(s.config.SessionRetention); n > 0 {
		s.logger.Info("pruned finished load sessions", zap.Int("count", n))
	}
}

func (s *Service) cleanupTempFiles() {
	if s.deps.Temp == nil {
		return
	}
	fileCount, err := s.deps.Temp.CleanOldTempFiles(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
	} else if fileCount > 0 {
		s.logger.Info("cleaned up old temp files", zap.Int("count", fileCount))
	}
}

func (s *Service) collectGarbage() {
	if s.deps.GC == nil {
		return
	}
	if err := s.deps.GC.RunGC(s.config.GCDiscardRatio); err != nil {
		s.logger.Warn("value log gc failed", zap.Error(err))
	}
}

func (s *Service) logStats(ctx context.Context) {
	if s.deps.Stats == nil {
		return
	}
	stats, err := s.deps.Stats.Stats(ctx)
	if err != nil {
		s.logger.Error("failed to read cache stats", zap.Error(err))
		return
	}
	s.logger.Info("cache stats",
		zap.Int("objects", stats.Objects),
		zap.String("object_bytes", humanize.IBytes(uint64(stats.ObjectBytes))),
		zap.Int("chunks", stats.Chunks),
		zap.String("chunk_bytes", humanize.IBytes(uint64(stats.ChunkBytes))))
}
