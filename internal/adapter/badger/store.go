// Package badger implements port.CacheStore on top of BadgerDB.
//
// Keys are the plain cache keys ({identity} and chunk_{identity}_{index})
// under separate namespaces so an identity can never be confused with a chunk
// key. A whole object is a small metadata value under obj: (generation and
// size) plus its payload split into seg: values of at most segmentSize bytes.
// The generation is the write time in nanoseconds and doubles as CreatedAt.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

const (
	prefixObject  = "obj:"
	prefixChunk   = "chk:"
	prefixSegment = "seg:"
)

// DefaultSegmentSize bounds a single object segment value. It stays well
// below the value log file size and the in-memory batch limit.
const DefaultSegmentSize = 16 << 20

// Store implements port.CacheStore using BadgerDB
type Store struct {
	db          *badgerdb.DB
	segmentSize int

	// objectMu serializes object writes so segment pruning never races a
	// concurrent writer of the same identity
	objectMu sync.Mutex
}

// Ensure Store implements the cache ports
var (
	_ port.CacheStore       = (*Store)(nil)
	_ port.GarbageCollector = (*Store)(nil)
)

// Open opens (or creates) a BadgerDB database in dir
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir).
		WithLogger(nil)
	return open(opts)
}

// OpenInMemory opens a BadgerDB database that lives only in memory.
// Values are kept in the LSM tree, so the memtable bounds the entry size.
func OpenInMemory() (*Store, error) {
	opts := badgerdb.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil).
		WithMemTableSize(256 << 20)
	return open(opts)
}

func open(opts badgerdb.Options) (*Store, error) {
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db, segmentSize: DefaultSegmentSize}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is open
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// RunGC reclaims space from the value log after bulk chunk deletions
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badgerdb.ErrNoRewrite) || errors.Is(err, badgerdb.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// ============================================================================
// Chunk entries
// ============================================================================

// HasChunk checks whether a chunk entry exists
func (s *Store) HasChunk(ctx context.Context, identity string, index int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keyChunk(identity, index))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// GetChunk retrieves a chunk payload
func (s *Store) GetChunk(ctx context.Context, identity string, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.get(keyChunk(identity, index))
}

// PutChunk stores or replaces a chunk payload
func (s *Store) PutChunk(ctx context.Context, identity string, index int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.set(keyChunk(identity, index), data)
}

// DeleteChunks removes every chunk entry of identity.
// Keys are enumerated by prefix and filtered so identity "a" leaves
// the chunks of identity "a_b" alone.
func (s *Store) DeleteChunks(ctx context.Context, identity string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(prefixChunk + domain.ChunkKeyPrefix(identity))
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if domain.MatchesChunkKey(string(key[len(prefixChunk):]), identity) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to delete chunks of %s: %w", identity, err)
	}

	return len(keys), nil
}

// ============================================================================
// Whole-object entries
// ============================================================================

// GetObject retrieves a whole-object payload by joining its segments in order
func (s *Store) GetObject(ctx context.Context, identity string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		m, err := getMeta(txn, identity)
		if err != nil {
			return err
		}

		data = make([]byte, 0, m.size)
		prefix := segmentPrefix(identity, m.gen)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				data = append(data, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		if int64(len(data)) != m.size {
			return fmt.Errorf("object %s is incomplete: %d of %d bytes", identity, len(data), m.size)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PutObject stores or replaces a whole-object payload. Segments of the new
// generation are written first, then the metadata is switched to them, then
// segments of older generations are removed.
func (s *Store) PutObject(ctx context.Context, identity string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	gen := uint64(time.Now().UnixNano())
	err := s.db.View(func(txn *badgerdb.Txn) error {
		m, err := getMeta(txn, identity)
		if err == nil && m.gen >= gen {
			gen = m.gen + 1
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", identity, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for seq, off := uint64(0), 0; off < len(data); seq++ {
		end := min(off+s.segmentSize, len(data))
		if err := wb.Set(segmentKey(identity, gen, seq), data[off:end]); err != nil {
			return fmt.Errorf("failed to store %s segment %d: %w", identity, seq, err)
		}
		off = end
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to store %s: %w", identity, err)
	}

	if err := s.set(keyObject(identity), encodeMeta(meta{gen: gen, size: int64(len(data))})); err != nil {
		return err
	}

	return s.pruneSegments(identity, gen)
}

// DeleteObject removes a whole-object entry and all of its segments
func (s *Store) DeleteObject(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(keyObject(identity))
	})
	if err != nil {
		return err
	}
	return s.pruneSegments(identity, 0)
}

// ListObjects returns all whole-object entries
func (s *Store) ListObjects(ctx context.Context) ([]domain.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var infos []domain.ObjectInfo
	err := s.scan([]byte(prefixObject), func(key []byte, item *badgerdb.Item) error {
		m, err := readMeta(item)
		if err != nil {
			return err
		}
		infos = append(infos, domain.ObjectInfo{
			Identity:  string(key[len(prefixObject):]),
			Size:      m.size,
			CreatedAt: time.Unix(0, int64(m.gen)),
		})
		return nil
	})
	return infos, err
}

// Stats returns entry counts and sizes
func (s *Store) Stats(ctx context.Context) (*domain.CacheStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &domain.CacheStats{}
	err := s.scan([]byte(prefixObject), func(_ []byte, item *badgerdb.Item) error {
		m, err := readMeta(item)
		if err != nil {
			return err
		}
		stats.Objects++
		stats.ObjectBytes += m.size
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.scan([]byte(prefixChunk), func(_ []byte, item *badgerdb.Item) error {
		stats.Chunks++
		stats.ChunkBytes += item.ValueSize()
		return nil
	})
	return stats, err
}

// pruneSegments deletes every segment of identity whose generation is not
// keep. A keep of 0 deletes them all.
func (s *Store) pruneSegments(identity string, keep uint64) error {
	prefix := segmentPrefix(identity, 0)
	prefix = prefix[:len(prefix)-8]

	var keys [][]byte
	err := s.scan(prefix, func(key []byte, _ *badgerdb.Item) error {
		if len(key) >= len(prefix)+8 && binary.BigEndian.Uint64(key[len(prefix):]) != keep {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete segment of %s: %w", identity, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to delete segments of %s: %w", identity, err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Store) get(key []byte) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err == badgerdb.ErrKeyNotFound {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) set(key, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) scan(prefix []byte, fn func(key []byte, item *badgerdb.Item) error) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if err := fn(item.KeyCopy(nil), item); err != nil {
				return err
			}
		}
		return nil
	})
}

// meta is the obj: value of a whole object
type meta struct {
	gen  uint64
	size int64
}

func encodeMeta(m meta) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], m.gen)
	binary.BigEndian.PutUint64(buf[8:], uint64(m.size))
	return buf
}

func readMeta(item *badgerdb.Item) (meta, error) {
	var m meta
	err := item.Value(func(val []byte) error {
		if len(val) != 16 {
			return fmt.Errorf("corrupt object metadata for %s", item.Key())
		}
		m.gen = binary.BigEndian.Uint64(val[:8])
		m.size = int64(binary.BigEndian.Uint64(val[8:]))
		return nil
	})
	return m, err
}

func getMeta(txn *badgerdb.Txn, identity string) (meta, error) {
	item, err := txn.Get(keyObject(identity))
	if err == badgerdb.ErrKeyNotFound {
		return meta{}, domain.ErrNotFound
	}
	if err != nil {
		return meta{}, err
	}
	return readMeta(item)
}

func keyObject(identity string) []byte {
	return []byte(prefixObject + domain.ObjectKey(identity))
}

func keyChunk(identity string, index int) []byte {
	return []byte(prefixChunk + domain.ChunkKey(identity, index))
}

// segmentPrefix returns seg:{identity}\x00{gen}. Identities cannot contain
// NUL, so one identity's segments never share a prefix with another's.
func segmentPrefix(identity string, gen uint64) []byte {
	key := make([]byte, 0, len(prefixSegment)+len(identity)+17)
	key = append(key, prefixSegment...)
	key = append(key, identity...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, gen)
}

func segmentKey(identity string, gen, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(segmentPrefix(identity, gen), seq)
}
