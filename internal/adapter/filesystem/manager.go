package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

const (
	objectsDir = "objects"
	chunksDir  = "chunks"
	tempExt    = ".tmp"
)

// Manager stores cache entries as files under a root directory.
// Whole objects live in objects/, chunks in chunks/, one file per cache key.
type Manager struct {
	rootDir    string
	bufferSize int
}

// Ensure Manager implements the cache and disk ports
var (
	_ port.CacheStore   = (*Manager)(nil)
	_ port.DiskReporter = (*Manager)(nil)
	_ port.TempCleaner  = (*Manager)(nil)
)

// NewManager creates a new filesystem manager
func NewManager(rootDir string) (*Manager, error) {
	return NewManagerWithBufferSize(rootDir, 8*1024*1024) // 8MB default
}

// NewManagerWithBufferSize creates a new filesystem manager with custom write buffer size
func NewManagerWithBufferSize(rootDir string, bufferSize int) (*Manager, error) {
	for _, dir := range []string{rootDir, filepath.Join(rootDir, objectsDir), filepath.Join(rootDir, chunksDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
		}
	}

	if bufferSize <= 0 {
		bufferSize = 8 * 1024 * 1024 // 8MB default
	}

	return &Manager{
		rootDir:    rootDir,
		bufferSize: bufferSize,
	}, nil
}

// RootDir returns the cache root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// Close is a no-op; files need no teardown
func (m *Manager) Close() error {
	return nil
}

// Ping checks that the root directory is still reachable
func (m *Manager) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(m.rootDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("cache root %s is not a directory", m.rootDir)
	}
	return nil
}

// ObjectPath returns the file path of a whole-object entry
func (m *Manager) ObjectPath(identity string) string {
	return filepath.Join(m.rootDir, objectsDir, encodeName(domain.ObjectKey(identity)))
}

// ChunkPath returns the file path of a chunk entry
func (m *Manager) ChunkPath(identity string, index int) string {
	return filepath.Join(m.rootDir, chunksDir, encodeName(domain.ChunkKey(identity, index)))
}

// HasChunk checks whether a chunk file exists
func (m *Manager) HasChunk(ctx context.Context, identity string, index int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(m.ChunkPath(identity, index))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// GetChunk reads a chunk file
func (m *Manager) GetChunk(ctx context.Context, identity string, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readEntry(m.ChunkPath(identity, index))
}

// PutChunk writes a chunk file atomically
func (m *Manager) PutChunk(ctx context.Context, identity string, index int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.writeEntry(m.ChunkPath(identity, index), data)
}

// DeleteChunks removes every chunk file of identity
func (m *Manager) DeleteChunks(ctx context.Context, identity string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := filepath.Join(m.rootDir, chunksDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list chunks: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tempExt) {
			continue
		}
		key, ok := decodeName(entry.Name())
		if !ok || !domain.MatchesChunkKey(key, identity) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return count, fmt.Errorf("failed to delete chunk %s: %w", key, err)
		}
		count++
	}
	return count, nil
}

// GetObject reads a whole-object file
func (m *Manager) GetObject(ctx context.Context, identity string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readEntry(m.ObjectPath(identity))
}

// PutObject writes a whole-object file atomically
func (m *Manager) PutObject(ctx context.Context, identity string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.writeEntry(m.ObjectPath(identity), data)
}

// DeleteObject removes a whole-object file
func (m *Manager) DeleteObject(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(m.ObjectPath(identity)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// ListObjects returns every whole-object file
func (m *Manager) ListObjects(ctx context.Context) ([]domain.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var infos []domain.ObjectInfo
	err := m.walkEntries(objectsDir, func(key string, info fs.FileInfo) {
		infos = append(infos, domain.ObjectInfo{
			Identity:  key,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	})
	return infos, err
}

// Stats returns entry counts and sizes
func (m *Manager) Stats(ctx context.Context) (*domain.CacheStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &domain.CacheStats{}
	err := m.walkEntries(objectsDir, func(_ string, info fs.FileInfo) {
		stats.Objects++
		stats.ObjectBytes += info.Size()
	})
	if err != nil {
		return nil, err
	}
	err = m.walkEntries(chunksDir, func(_ string, info fs.FileInfo) {
		stats.Chunks++
		stats.ChunkBytes += info.Size()
	})
	return stats, err
}

// GetCacheSize returns total size of all files under the root
func (m *Manager) GetCacheSize() (int64, error) {
	var size int64
	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// CleanOldTempFiles removes temp files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == tempExt && info.ModTime().Before(threshold) {
			if removeErr := os.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}

// writeEntry writes data to a temp file next to path and renames it into
// place, so readers never observe a partially written entry.
func (m *Manager) writeEntry(path string, data []byte) error {
	tempPath := path + "." + strconv.FormatInt(time.Now().UnixNano(), 36) + tempExt

	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for off := 0; off < len(data); {
		end := off + m.bufferSize
		if end > len(data) {
			end = len(data)
		}
		n, err := f.Write(data[off:end])
		if err != nil {
			f.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write file: %w", err)
		}
		off += n
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (m *Manager) walkEntries(sub string, fn func(key string, info fs.FileInfo)) error {
	entries, err := os.ReadDir(filepath.Join(m.rootDir, sub))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tempExt) {
			continue
		}
		key, ok := decodeName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		fn(key, info)
	}
	return nil
}

func readEntry(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// encodeName maps a cache key to a single safe file name
func encodeName(key string) string {
	name := url.QueryEscape(key)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	return name
}

func decodeName(name string) (string, bool) {
	key, err := url.QueryUnescape(name)
	if err != nil {
		return "", false
	}
	return key, true
}
