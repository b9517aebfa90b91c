package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

const gib = 1024 * 1024 * 1024

// mockStats implements statsReader for testing
type mockStats struct {
	stats *domain.CacheStats
	err   error
}

func (m *mockStats) Stats(ctx context.Context) (*domain.CacheStats, error) {
	return m.stats, m.err
}

// mockDisk implements port.DiskReporter for testing
type mockDisk struct {
	usage *port.DiskUsage
	err   error
}

func (m *mockDisk) RootDir() string { return "" }

func (m *mockDisk) GetDiskUsage() (*port.DiskUsage, error) {
	return m.usage, m.err
}

func TestSpaceManager_CheckSpace(t *testing.T) {
	tests := []struct {
		name             string
		maxCacheSize     int64
		maxDiskUsagePct  float64
		cacheSize        int64
		diskUsage        *port.DiskUsage
		size             int64
		wantHasSpace     bool
		wantLimitedCache bool
		wantLimitedDisk  bool
	}{
		{
			name:            "has space - well under limits",
			maxCacheSize:    100 * gib,
			maxDiskUsagePct: 80,
			cacheSize:       10 * gib,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    400 * gib,
				Free:    600 * gib,
				UsedPct: 40,
			},
			size:         1 * gib,
			wantHasSpace: true,
		},
		{
			name:            "limited by cache size",
			maxCacheSize:    50 * gib,
			maxDiskUsagePct: 80,
			cacheSize:       49 * gib,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    400 * gib,
				Free:    600 * gib,
				UsedPct: 40,
			},
			size:             2 * gib,
			wantLimitedCache: true,
		},
		{
			name:            "limited by current disk usage",
			maxCacheSize:    100 * gib,
			maxDiskUsagePct: 50,
			cacheSize:       10 * gib,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    500 * gib,
				Free:    500 * gib,
				UsedPct: 50,
			},
			size:            1 * gib,
			wantLimitedDisk: true,
		},
		{
			name:            "limited by projected disk usage",
			maxCacheSize:    100 * gib,
			maxDiskUsagePct: 50,
			cacheSize:       10 * gib,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    450 * gib,
				Free:    550 * gib,
				UsedPct: 45,
			},
			size:            60 * gib,
			wantLimitedDisk: true,
		},
		{
			name:            "exactly at cache limit - still ok",
			maxCacheSize:    50 * gib,
			maxDiskUsagePct: 80,
			cacheSize:       49 * gib,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    400 * gib,
				Free:    600 * gib,
				UsedPct: 40,
			},
			size:         1 * gib,
			wantHasSpace: true,
		},
		{
			name:         "cache limit disabled",
			maxCacheSize: 0,
			cacheSize:    500 * gib,
			size:         100 * gib,
			wantHasSpace: true,
		},
		{
			name:            "disk limit disabled",
			maxCacheSize:    100 * gib,
			maxDiskUsagePct: 0,
			cacheSize:       1 * gib,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    999 * gib,
				UsedPct: 99.9,
			},
			size:         1 * gib,
			wantHasSpace: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := &mockStats{stats: &domain.CacheStats{ObjectBytes: tt.cacheSize}}
			var disk port.DiskReporter
			if tt.diskUsage != nil {
				disk = &mockDisk{usage: tt.diskUsage}
			}

			sm := NewSpaceManager(stats, disk, tt.maxCacheSize, tt.maxDiskUsagePct)
			result, err := sm.CheckSpace(context.Background(), tt.size)
			if err != nil {
				t.Fatalf("CheckSpace() error = %v", err)
			}

			if result.HasSpace != tt.wantHasSpace {
				t.Errorf("HasSpace = %v, want %v", result.HasSpace, tt.wantHasSpace)
			}
			if result.LimitedByCacheSize != tt.wantLimitedCache {
				t.Errorf("LimitedByCacheSize = %v, want %v", result.LimitedByCacheSize, tt.wantLimitedCache)
			}
			if result.LimitedByDiskUsage != tt.wantLimitedDisk {
				t.Errorf("LimitedByDiskUsage = %v, want %v", result.LimitedByDiskUsage, tt.wantLimitedDisk)
			}
			if result.MaxCacheSizeBytes != tt.maxCacheSize {
				t.Errorf("MaxCacheSizeBytes = %v, want %v", result.MaxCacheSizeBytes, tt.maxCacheSize)
			}
		})
	}
}

func TestSpaceManager_Errors(t *testing.T) {
	boom := errors.New("boom")

	sm := NewSpaceManager(&mockStats{err: boom}, nil, 10*gib, 0)
	if _, err := sm.CheckSpace(context.Background(), 1); !errors.Is(err, boom) {
		t.Errorf("stats error = %v, want boom", err)
	}

	sm = NewSpaceManager(&mockStats{stats: &domain.CacheStats{}}, &mockDisk{err: boom}, 10*gib, 80)
	if _, err := sm.CheckSpace(context.Background(), 1); !errors.Is(err, boom) {
		t.Errorf("disk error = %v, want boom", err)
	}
}
