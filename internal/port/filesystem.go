package port

import (
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// DiskReporter is implemented by backends that live on a local filesystem
type DiskReporter interface {
	// RootDir returns the cache root directory
	RootDir() string

	// GetDiskUsage returns disk usage statistics for the cache volume
	GetDiskUsage() (*DiskUsage, error)
}

// TempCleaner is implemented by backends that stage writes in temporary files
type TempCleaner interface {
	// CleanOldTempFiles removes temp files older than the specified duration
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)
}
