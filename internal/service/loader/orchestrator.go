package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/util/ratelimiter"
)

// Chunk sources used as the "source" metric label
const (
	chunkFromNetwork = "network"
	chunkFromCache   = "cache"
)

// downloadState is owned by one download. Each worker writes only the
// slots of the chunk it claimed from the queue.
type downloadState struct {
	status  []bool
	results [][]byte
}

func newDownloadState(n int) *downloadState {
	return &downloadState{
		status:  make([]bool, n),
		results: make([][]byte, n),
	}
}

func (s *downloadState) complete(index int, data []byte) {
	s.results[index] = data
	s.status[index] = true
}

// download fetches identity from url in chunks, reusing cached chunks, and
// commits the assembled bytes as a whole object.
func (l *Loader) download(ctx context.Context, url, identity string, want digest.Digest, opts Options, logger *zap.Logger) (*domain.Handle, string, error) {
	onProgress := l.progressLogger(opts.OnProgress, logger)

	size, err := l.origin.Probe(ctx, url)
	if err != nil {
		if domain.IsSizeUnknown(err) && opts.AllowFallback {
			logger.Warn("origin did not report a size, downloading without resume", zap.Error(err))
			h, err := l.fetchWhole(ctx, url, identity, want, opts, onProgress, logger)
			return h, ResultFallback, err
		}
		return nil, "", fmt.Errorf("probe %s: %w", url, err)
	}

	chunks, err := domain.PlanChunks(size, opts.ChunkSize)
	if err != nil {
		return nil, "", err
	}

	state := newDownloadState(len(chunks))
	agg := NewAggregator(chunks, size, opts.ProgressThreshold, onProgress)

	var cachedBytes int64
	missing := make([]domain.ChunkDescriptor, 0, len(chunks))
	for _, c := range chunks {
		data, ok := l.cachedChunk(ctx, identity, c, logger)
		if !ok {
			missing = append(missing, c)
			continue
		}
		state.complete(c.Index, data)
		agg.Preload(c.Index, c.Size)
		cachedBytes += c.Size
		l.metrics.RecordChunk(chunkFromCache)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	logger.Info("download planned",
		zap.Int64("size", size),
		zap.Int("chunks", len(chunks)),
		zap.Int("cached", len(chunks)-len(missing)),
		zap.Int("workers", min(opts.MaxParallel, len(missing))))

	// Cached chunks are already counted by Stats. The missing chunks and the
	// whole object are both added since they coexist until chunk eviction.
	if err := l.ensureSpace(ctx, size-cachedBytes+size, identity, logger); err != nil {
		return nil, "", err
	}

	agg.Report()

	if err := l.fetchMissing(ctx, url, identity, missing, state, agg, opts, logger); err != nil {
		return nil, "", err
	}

	data, err := Assemble(chunks, state.results)
	if err != nil {
		return nil, "", err
	}

	h, err := l.commit(ctx, identity, data, want, logger)
	if err != nil {
		return nil, "", err
	}
	agg.Finish(size)
	return h, ResultDownloaded, nil
}

// cachedChunk returns a persisted chunk usable for resume
func (l *Loader) cachedChunk(ctx context.Context, identity string, c domain.ChunkDescriptor, logger *zap.Logger) ([]byte, bool) {
	ok, err := l.store.HasChunk(ctx, identity, c.Index)
	if err != nil {
		logger.Warn("chunk lookup failed", zap.Int("chunk", c.Index), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	data, err := l.store.GetChunk(ctx, identity, c.Index)
	if err != nil {
		logger.Warn("failed to read cached chunk", zap.Int("chunk", c.Index), zap.Error(err))
		return nil, false
	}
	if int64(len(data)) != c.Size {
		logger.Warn("discarding cached chunk with unexpected size",
			zap.Int("chunk", c.Index),
			zap.Int("size", len(data)),
			zap.Int64("want", c.Size))
		return nil, false
	}
	return data, true
}

// fetchMissing downloads the missing chunks with at most opts.MaxParallel
// workers. Each chunk is handed out exactly once through a closed channel.
// The first failure cancels the remaining workers and fails the download.
func (l *Loader) fetchMissing(ctx context.Context, url, identity string, missing []domain.ChunkDescriptor, state *downloadState, agg *Aggregator, opts Options, logger *zap.Logger) error {
	if len(missing) == 0 {
		return nil
	}

	queue := make(chan domain.ChunkDescriptor, len(missing))
	for _, c := range missing {
		queue <- c
	}
	close(queue)

	g, gctx := errgroup.WithContext(ctx)
	workers := min(opts.MaxParallel, len(missing))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for c := range queue {
				if err := gctx.Err(); err != nil {
					return err
				}

				data, err := l.fetchChunk(gctx, url, c, agg, opts, logger)
				if err != nil {
					return err
				}
				state.complete(c.Index, data)

				// Persisted chunks survive a failure of any other worker
				if err := l.store.PutChunk(ctx, identity, c.Index, data); err != nil {
					logger.Warn("failed to cache chunk",
						zap.Int("chunk", c.Index),
						zap.Error(domain.NewCacheWriteError(domain.ChunkKey(identity, c.Index), err)))
				}

				agg.Complete(c.Index)
				l.metrics.RecordChunk(chunkFromNetwork)
			}
			return nil
		})
	}

	return g.Wait()
}

// fetchChunk fetches one chunk, retrying transient failures when
// opts.MaxRetries is positive
func (l *Loader) fetchChunk(ctx context.Context, url string, c domain.ChunkDescriptor, agg *Aggregator, opts Options, logger *zap.Logger) ([]byte, error) {
	attempt := func() ([]byte, error) {
		l.metrics.FetchStarted()
		defer l.metrics.FetchDone()

		var received int64
		data, err := l.origin.FetchRange(ctx, url, c, func(n int64) {
			received = n
			agg.Update(c.Index, n)
		})
		l.metrics.AddFetched(received)
		return data, err
	}

	if opts.MaxRetries <= 0 {
		return attempt()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RetryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.MaxRetries)), ctx)

	return backoff.RetryNotifyWithData(func() ([]byte, error) {
		data, err := attempt()
		if err != nil && !domain.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}, policy, func(err error, wait time.Duration) {
		l.metrics.RecordRetry()
		logger.Warn("retrying chunk",
			zap.Int("chunk", c.Index),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}

// fetchWhole downloads a resource of unknown length in one request. Unlike
// the chunked path, a failed cache write still yields a usable handle.
func (l *Loader) fetchWhole(ctx context.Context, url, identity string, want digest.Digest, opts Options, onProgress ProgressFunc, logger *zap.Logger) (*domain.Handle, error) {
	agg := newStreamAggregator(opts.ProgressThreshold, onProgress)
	agg.Report()

	l.metrics.FetchStarted()
	data, err := l.origin.FetchAll(ctx, url, func(n int64) { agg.Update(0, n) })
	l.metrics.FetchDone()
	if err != nil {
		return nil, err
	}
	l.metrics.AddFetched(int64(len(data)))

	h, err := l.commit(ctx, identity, data, want, logger)
	if domain.IsCacheWrite(err) {
		logger.Warn("failed to cache resource, returning uncached handle", zap.Error(err))
		h = &domain.Handle{
			Identity: identity,
			Size:     int64(len(data)),
			Data:     data,
			Digest:   want.String(),
		}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	agg.Finish(h.Size)
	return h, nil
}

// progressLogger forwards reports to fn and logs them at most once per
// configured interval, plus the final report
func (l *Loader) progressLogger(fn ProgressFunc, logger *zap.Logger) ProgressFunc {
	limiter := ratelimiter.New(l.config.ProgressLogInterval)
	return func(loaded, total int64) {
		if fn != nil {
			fn(loaded, total)
		}

		done := total >= 0 && loaded == total
		if ok, _ := limiter.Allow(); !ok && !done {
			return
		}

		fields := []zap.Field{
			zap.Int64("loaded", loaded),
			zap.Int64("total", total),
			zap.Int("skipped_reports", limiter.Suppressed()),
		}
		if total > 0 {
			fields = append(fields, zap.Float64("percent", float64(loaded)*100/float64(total)))
		}
		logger.Info("download progress", fields...)
	}
}
