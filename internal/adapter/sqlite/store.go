package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

// Entry kinds stored in the kind column
const (
	kindObject = "object"
	kindChunk  = "chunk"
)

// DefaultSegmentSize is the largest blob a whole object is split into.
// SQLite rejects a single value over its 1e9 byte length limit.
const DefaultSegmentSize = 64 << 20

// Store implements port.CacheStore using SQLite blobs.
// Chunks are single rows. Whole objects are a metadata row in cache_entries
// plus ordered rows in object_segments.
type Store struct {
	db          *sql.DB
	segmentSize int
}

// Ensure Store implements port.CacheStore
var _ port.CacheStore = (*Store)(nil)

// Open opens a connection to the SQLite database
func Open(dbPath string) (*Store, error) {
	return OpenWithCacheSize(dbPath, 64)
}

// OpenWithCacheSize opens the database with a page cache of cacheSizeMB megabytes
func OpenWithCacheSize(dbPath string, cacheSizeMB int) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}
	if cacheSizeMB <= 0 {
		cacheSizeMB = 64
	}

	// Open database with WAL mode and busy timeout
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Blob writes from several workers serialize on the single writer anyway
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheSizeMB*1000),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, segmentSize: DefaultSegmentSize}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates or updates the database schema
func (s *Store) migrate() error {
	migrations := []string{
		// One row per cache key: {identity} or chunk_{identity}_{index}
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			identity TEXT NOT NULL,
			chunk_index INTEGER,
			size INTEGER NOT NULL DEFAULT 0,
			data BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_cache_entries_identity ON cache_entries(kind, identity)`,

		`CREATE TABLE IF NOT EXISTS object_segments (
			identity TEXT NOT NULL,
			seq INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (identity, seq)
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

// Stats returns cache statistics
func (s *Store) Stats(ctx context.Context) (*domain.CacheStats, error) {
	stats := &domain.CacheStats{}

	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, COUNT(*), COALESCE(SUM(size), 0) FROM cache_entries GROUP BY kind")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		var size int64
		if err := rows.Scan(&kind, &count, &size); err != nil {
			return nil, err
		}
		switch kind {
		case kindObject:
			stats.Objects, stats.ObjectBytes = count, size
		case kindChunk:
			stats.Chunks, stats.ChunkBytes = count, size
		}
	}

	return stats, rows.Err()
}
