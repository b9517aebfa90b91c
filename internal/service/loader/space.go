package loader

import (
	"context"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

// SpaceCheckResult contains the result of a space availability check
type SpaceCheckResult struct {
	HasSpace           bool
	LimitedByCacheSize bool
	LimitedByDiskUsage bool
	CacheSizeBytes     int64
	MaxCacheSizeBytes  int64
	AvailableBytes     int64
	DiskUsedPct        float64
	MaxDiskUsagePct    float64
}

type statsReader interface {
	Stats(ctx context.Context) (*domain.CacheStats, error)
}

// SpaceManager handles space availability checks before a download.
// A zero limit disables that check; disk checks need a DiskReporter.
type SpaceManager struct {
	stats           statsReader
	disk            port.DiskReporter
	maxCacheSize    int64
	maxDiskUsagePct float64
}

// NewSpaceManager creates a new SpaceManager. disk may be nil.
func NewSpaceManager(stats statsReader, disk port.DiskReporter, maxCacheSize int64, maxDiskUsagePct float64) *SpaceManager {
	return &SpaceManager{
		stats:           stats,
		disk:            disk,
		maxCacheSize:    maxCacheSize,
		maxDiskUsagePct: maxDiskUsagePct,
	}
}

// CheckSpace checks if there's enough space to add size bytes to the cache
func (sm *SpaceManager) CheckSpace(ctx context.Context, size int64) (*SpaceCheckResult, error) {
	result := &SpaceCheckResult{
		MaxCacheSizeBytes: sm.maxCacheSize,
		MaxDiskUsagePct:   sm.maxDiskUsagePct,
	}

	if sm.maxCacheSize > 0 {
		stats, err := sm.stats.Stats(ctx)
		if err != nil {
			return nil, err
		}
		cacheSize := stats.ObjectBytes + stats.ChunkBytes
		result.CacheSizeBytes = cacheSize
		result.AvailableBytes = sm.maxCacheSize - cacheSize

		if cacheSize+size > sm.maxCacheSize {
			result.LimitedByCacheSize = true
			return result, nil
		}
	}

	if sm.maxDiskUsagePct > 0 && sm.disk != nil {
		usage, err := sm.disk.GetDiskUsage()
		if err != nil {
			return nil, err
		}
		result.DiskUsedPct = usage.UsedPct

		if usage.UsedPct >= sm.maxDiskUsagePct {
			result.LimitedByDiskUsage = true
			return result, nil
		}

		if usage.Total > 0 {
			newUsedPct := float64(usage.Used+uint64(size)) / float64(usage.Total) * 100
			if newUsedPct >= sm.maxDiskUsagePct {
				result.LimitedByDiskUsage = true
				return result, nil
			}
		}
	}

	result.HasSpace = true
	return result, nil
}
