// Package loader turns a resource identity and a source into a loadable
// handle, reusing whole objects and chunks persisted in a cache store.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

// Defaults for zero-valued Config and Options fields
const (
	DefaultMaxParallel         = 6
	DefaultProgressThreshold   = 100 * 1024
	DefaultRetryDelay          = 500 * time.Millisecond
	DefaultProgressLogInterval = 5 * time.Second
)

// Config contains loader configuration
type Config struct {
	MaxParallel         int
	ChunkSize           int64
	ProgressThreshold   int64
	MaxRetries          int
	RetryDelay          time.Duration
	AllowFallback       bool
	MaxCacheSizeBytes   int64   // 0 disables the cache size check
	MaxDiskUsagePercent float64 // 0 disables the disk usage check
	EvictWhenFull       bool    // evict the oldest objects instead of failing with ErrNoSpace
	ProgressLogInterval time.Duration
}

// DefaultConfig returns default loader configuration
func DefaultConfig() *Config {
	return &Config{
		MaxParallel:         DefaultMaxParallel,
		ChunkSize:           domain.DefaultChunkSize,
		ProgressThreshold:   DefaultProgressThreshold,
		RetryDelay:          DefaultRetryDelay,
		ProgressLogInterval: DefaultProgressLogInterval,
	}
}

// Options tune a single load. Zero fields take the loader configuration;
// a negative MaxRetries disables retries for this load.
type Options struct {
	MaxParallel       int
	ChunkSize         int64
	ProgressThreshold int64
	MaxRetries        int
	RetryDelay        time.Duration
	AllowFallback     bool

	// Digest is an optional expected content digest such as "sha256:..."
	Digest string

	// OnProgress receives non-decreasing (loaded, total) reports
	OnProgress ProgressFunc
}

// Loader loads resources through a cache store
type Loader struct {
	config  *Config
	store   port.CacheStore
	origin  port.Origin
	space   *SpaceManager
	evictor *Evictor
	metrics *Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	active   map[string]*Session
	wg       sync.WaitGroup
}

// New creates a new Loader. metrics may be nil.
func New(cfg *Config, store port.CacheStore, origin port.Origin, metrics *Metrics, logger *zap.Logger) *Loader {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = domain.DefaultChunkSize
	}
	if cfg.ProgressThreshold <= 0 {
		cfg.ProgressThreshold = DefaultProgressThreshold
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.ProgressLogInterval <= 0 {
		cfg.ProgressLogInterval = DefaultProgressLogInterval
	}

	l := &Loader{
		config:   cfg,
		store:    store,
		origin:   origin,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[string]*Session),
		active:   make(map[string]*Session),
	}

	if cfg.MaxCacheSizeBytes > 0 || cfg.MaxDiskUsagePercent > 0 {
		disk, _ := store.(port.DiskReporter)
		l.space = NewSpaceManager(store, disk, cfg.MaxCacheSizeBytes, cfg.MaxDiskUsagePercent)
		if cfg.EvictWhenFull {
			l.evictor = NewEvictor(store, l.space, logger.Named("evictor"))
		}
	}

	return l
}

// LoadResource loads the resource at url under identity
func (l *Loader) LoadResource(ctx context.Context, url, identity string, opts Options) (*domain.Handle, error) {
	return l.Load(ctx, domain.RemoteSource{URL: url}, identity, opts)
}

// Load loads a resource from src under identity. Remote sources are served
// from the whole-object cache when present and downloaded in chunks
// otherwise; file and byte sources are written to the cache as they are.
func (l *Loader) Load(ctx context.Context, src domain.Source, identity string, opts Options) (*domain.Handle, error) {
	return l.load(ctx, uuid.NewString(), src, identity, opts)
}

func (l *Loader) load(ctx context.Context, id string, src domain.Source, identity string, opts Options) (*domain.Handle, error) {
	if err := domain.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	want, err := parseDigest(opts.Digest)
	if err != nil {
		return nil, err
	}
	opts = l.withDefaults(opts)

	logger := l.logger.With(
		zap.String("load_id", id),
		zap.String("identity", identity),
		zap.String("source", domain.SourceKind(src)))

	start := time.Now()
	var h *domain.Handle
	var result string

	switch s := src.(type) {
	case domain.RemoteSource:
		h, result, err = l.loadRemote(ctx, s, identity, want, opts, logger)
	case domain.FileSource:
		h, err = l.loadFile(ctx, s, identity, want, opts, logger)
		result = ResultImported
	case domain.BytesSource:
		h, err = l.loadBytes(ctx, s, identity, want, opts, logger)
		result = ResultImported
	default:
		err = fmt.Errorf("%w: unsupported source %T", domain.ErrInvalidInput, src)
	}

	elapsed := time.Since(start)
	if err != nil {
		l.metrics.RecordLoad(ResultError, elapsed.Seconds())
		logger.Warn("load failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, err
	}

	l.metrics.RecordLoad(result, elapsed.Seconds())
	logger.Info("resource ready",
		zap.String("result", result),
		zap.Int64("size", h.Size),
		zap.Duration("elapsed", elapsed))
	return h, nil
}

func (l *Loader) withDefaults(opts Options) Options {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = l.config.MaxParallel
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = l.config.ChunkSize
	}
	if opts.ProgressThreshold <= 0 {
		opts.ProgressThreshold = l.config.ProgressThreshold
	}
	switch {
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	case opts.MaxRetries == 0:
		opts.MaxRetries = l.config.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = l.config.RetryDelay
	}
	opts.AllowFallback = opts.AllowFallback || l.config.AllowFallback
	return opts
}

func (l *Loader) loadRemote(ctx context.Context, src domain.RemoteSource, identity string, want digest.Digest, opts Options, logger *zap.Logger) (*domain.Handle, string, error) {
	if h, ok := l.lookup(ctx, identity, want, logger); ok {
		if opts.OnProgress != nil {
			opts.OnProgress(h.Size, h.Size)
		}
		return h, ResultHit, nil
	}
	return l.download(ctx, src.URL, identity, want, opts, logger)
}

func (l *Loader) loadFile(ctx context.Context, src domain.FileSource, identity string, want digest.Digest, opts Options, logger *zap.Logger) (*domain.Handle, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Path, err)
	}
	return l.loadBytes(ctx, domain.BytesSource{Data: data}, identity, want, opts, logger)
}

func (l *Loader) loadBytes(ctx context.Context, src domain.BytesSource, identity string, want digest.Digest, opts Options, logger *zap.Logger) (*domain.Handle, error) {
	data := src.Data
	if data == nil {
		data = []byte{}
	}
	if err := l.ensureSpace(ctx, int64(len(data)), identity, logger); err != nil {
		return nil, err
	}
	h, err := l.commit(ctx, identity, data, want, logger)
	if err != nil {
		return nil, err
	}
	if opts.OnProgress != nil {
		opts.OnProgress(h.Size, h.Size)
	}
	return h, nil
}

// lookup returns the whole object for identity if it is cached and intact.
// A hit also clears chunk entries left behind by earlier attempts.
func (l *Loader) lookup(ctx context.Context, identity string, want digest.Digest, logger *zap.Logger) (*domain.Handle, bool) {
	data, err := l.store.GetObject(ctx, identity)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("whole-object lookup failed", zap.Error(err))
		}
		return nil, false
	}

	if !verifyDigest(want, data) {
		logger.Warn("cached object does not match digest, discarding",
			zap.String("digest", want.String()))
		if err := l.store.DeleteObject(ctx, identity); err != nil {
			logger.Warn("failed to delete cached object", zap.Error(err))
		}
		return nil, false
	}

	if n, err := l.store.DeleteChunks(ctx, identity); err != nil {
		logger.Warn("failed to clear stale chunks", zap.Error(err))
	} else if n > 0 {
		logger.Debug("cleared stale chunks", zap.Int("count", n))
	}

	return &domain.Handle{
		Identity:  identity,
		Size:      int64(len(data)),
		Data:      data,
		FromCache: true,
		Digest:    want.String(),
	}, true
}

func (l *Loader) ensureSpace(ctx context.Context, need int64, identity string, logger *zap.Logger) error {
	if l.space == nil || need <= 0 {
		return nil
	}
	res, err := l.space.CheckSpace(ctx, need)
	if err != nil {
		logger.Warn("space check failed", zap.Error(err))
		return nil
	}
	if !res.HasSpace && l.evictor != nil {
		res, _, err = l.evictor.EvictUntilSpace(ctx, need, identity)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("eviction failed", zap.Error(err))
			return nil
		}
	}
	if !res.HasSpace {
		return fmt.Errorf("%w: need %d bytes (cache %d of %d bytes, disk %.1f%% of %.1f%%)",
			domain.ErrNoSpace, need, res.CacheSizeBytes, res.MaxCacheSizeBytes, res.DiskUsedPct, res.MaxDiskUsagePct)
	}
	return nil
}

// Open returns the cached whole object for identity without any network
// activity. Returns domain.ErrNotFound when it is not cached.
func (l *Loader) Open(ctx context.Context, identity string) (*domain.Handle, error) {
	data, err := l.store.GetObject(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &domain.Handle{
		Identity:  identity,
		Size:      int64(len(data)),
		Data:      data,
		FromCache: true,
	}, nil
}

// Evict removes the whole object and every chunk of identity.
// Returns the number of chunks removed.
func (l *Loader) Evict(ctx context.Context, identity string) (int, error) {
	if err := domain.ValidateIdentity(identity); err != nil {
		return 0, err
	}
	if err := l.store.DeleteObject(ctx, identity); err != nil {
		return 0, fmt.Errorf("delete object %s: %w", identity, err)
	}
	n, err := l.store.DeleteChunks(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", identity, err)
	}
	l.logger.Info("evicted resource", zap.String("identity", identity), zap.Int("chunks", n))
	return n, nil
}

// List returns the cached whole objects sorted by identity
func (l *Loader) List(ctx context.Context) ([]domain.ObjectInfo, error) {
	infos, err := l.store.ListObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Identity < infos[j].Identity })
	return infos, nil
}

// Stats returns cache store statistics
func (l *Loader) Stats(ctx context.Context) (*domain.CacheStats, error) {
	return l.store.Stats(ctx)
}

// Start runs a load in the background and returns its session. If a load
// for identity is already running, that session is returned instead.
func (l *Loader) Start(ctx context.Context, src domain.Source, identity string, opts Options) (*Session, error) {
	if err := domain.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if _, err := parseDigest(opts.Digest); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.active[identity]; ok {
		return s, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := newSession(uuid.NewString(), identity, domain.SourceKind(src), cancel)
	l.sessions[sess.ID] = sess
	l.active[identity] = sess

	onProgress := opts.OnProgress
	opts.OnProgress = func(loaded, total int64) {
		sess.setProgress(loaded, total)
		if onProgress != nil {
			onProgress(loaded, total)
		}
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()

		h, err := l.load(ctx, sess.ID, src, identity, opts)

		l.mu.Lock()
		if l.active[identity] == sess {
			delete(l.active, identity)
		}
		l.mu.Unlock()

		sess.finish(h, err)
	}()

	return sess, nil
}

// Session returns a session by id
func (l *Loader) Session(id string) (*Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[id]
	return s, ok
}

// Sessions returns the status of every known session, oldest first
func (l *Loader) Sessions() []SessionStatus {
	l.mu.Lock()
	list := make([]SessionStatus, 0, len(l.sessions))
	for _, s := range l.sessions {
		list = append(list, s.Status())
	}
	l.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

// PruneSessions forgets sessions that finished more than olderThan ago
func (l *Loader) PruneSessions(olderThan time.Duration) int {
	threshold := time.Now().Add(-olderThan)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for id, s := range l.sessions {
		if s.finishedBefore(threshold) {
			delete(l.sessions, id)
			count++
		}
	}
	return count
}

// Shutdown cancels running sessions and waits for them to finish
func (l *Loader) Shutdown() {
	l.mu.Lock()
	for _, s := range l.active {
		s.Cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
}
