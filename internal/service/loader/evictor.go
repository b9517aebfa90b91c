package loader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/port"
)

// Evictor frees cache space by removing whole objects, oldest first
type Evictor struct {
	store  port.CacheStore
	space  *SpaceManager
	logger *zap.Logger

	mu sync.Mutex
}

// NewEvictor creates a new Evictor
func NewEvictor(store port.CacheStore, space *SpaceManager, logger *zap.Logger) *Evictor {
	return &Evictor{
		store:  store,
		space:  space,
		logger: logger,
	}
}

// EvictUntilSpace evicts objects until neededBytes fit or nothing is left to
// evict. The object named keep is never evicted. Returns the final space
// check and the number of objects evicted.
func (e *Evictor) EvictUntilSpace(ctx context.Context, neededBytes int64, keep string) (*SpaceCheckResult, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.space.CheckSpace(ctx, neededBytes)
	if err != nil || res.HasSpace {
		return res, 0, err
	}

	infos, err := e.store.ListObjects(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get eviction candidates: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })

	e.logger.Info("starting eviction",
		zap.Int64("needed_bytes", neededBytes),
		zap.Int("candidates", len(infos)))

	evictedCount := 0
	evictedBytes := int64(0)

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, evictedCount, err
		}
		if info.Identity == keep {
			continue
		}

		if err := e.store.DeleteObject(ctx, info.Identity); err != nil {
			e.logger.Error("failed to evict object",
				zap.String("identity", info.Identity),
				zap.Error(err))
			continue
		}
		if _, err := e.store.DeleteChunks(ctx, info.Identity); err != nil {
			e.logger.Warn("failed to evict chunks",
				zap.String("identity", info.Identity),
				zap.Error(err))
		}
		evictedCount++
		evictedBytes += info.Size

		e.logger.Debug("object evicted",
			zap.String("identity", info.Identity),
			zap.Int64("size", info.Size))

		res, err = e.space.CheckSpace(ctx, neededBytes)
		if err != nil {
			return nil, evictedCount, err
		}
		if res.HasSpace {
			break
		}
	}

	e.logger.Info("eviction completed",
		zap.Int("evicted_count", evictedCount),
		zap.Int64("evicted_bytes", evictedBytes),
		zap.Bool("has_space", res.HasSpace))

	return res, evictedCount, nil
}
