package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vertextoedge/modelcache/internal/domain"
)

// HasChunk checks whether a chunk entry exists
func (s *Store) HasChunk(ctx context.Context, identity string, index int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache_entries WHERE key = ?",
		domain.ChunkKey(identity, index),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetChunk retrieves a chunk payload
func (s *Store) GetChunk(ctx context.Context, identity string, index int) ([]byte, error) {
	return s.getEntry(ctx, domain.ChunkKey(identity, index))
}

// PutChunk stores or replaces a chunk payload
func (s *Store) PutChunk(ctx context.Context, identity string, index int, data []byte) error {
	return s.putEntry(ctx, domain.ChunkKey(identity, index), kindChunk, identity, sql.NullInt64{Int64: int64(index), Valid: true}, data)
}

// DeleteChunks removes all chunk entries of identity
func (s *Store) DeleteChunks(ctx context.Context, identity string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE kind = ? AND identity = ?",
		kindChunk, identity,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks of %s: %w", identity, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetObject retrieves a whole-object payload by joining its segments in order
func (s *Store) GetObject(ctx context.Context, identity string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var size int64
	err = tx.QueryRowContext(ctx,
		"SELECT size FROM cache_entries WHERE key = ? AND kind = ?",
		domain.ObjectKey(identity), kindObject,
	).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT data FROM object_segments WHERE identity = ? ORDER BY seq",
		identity,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data := make([]byte, 0, size)
	for rows.Next() {
		var segment []byte
		if err := rows.Scan(&segment); err != nil {
			return nil, err
		}
		data = append(data, segment...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("object %s is incomplete: %d of %d bytes", identity, len(data), size)
	}
	return data, nil
}

// PutObject stores or replaces a whole-object payload as segments of at most
// segmentSize bytes, in one transaction
func (s *Store) PutObject(ctx context.Context, identity string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := domain.ObjectKey(identity)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM object_segments WHERE identity = ?", identity); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	for seq, off := 0, 0; off < len(data); seq++ {
		end := min(off+s.segmentSize, len(data))
		_, err := tx.ExecContext(ctx,
			"INSERT INTO object_segments (identity, seq, data) VALUES (?, ?, ?)",
			identity, seq, data[off:end],
		)
		if err != nil {
			return fmt.Errorf("failed to store %s segment %d: %w", key, seq, err)
		}
		off = end
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_entries (key, kind, identity, chunk_index, size, data, created_at)
		VALUES (?, ?, ?, NULL, ?, X'', ?)
		ON CONFLICT(key) DO UPDATE SET
			size = excluded.size,
			created_at = excluded.created_at
	`, key, kindObject, identity, len(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes a whole-object entry and its segments
func (s *Store) DeleteObject(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE key = ? AND kind = ?",
		domain.ObjectKey(identity), kindObject,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM object_segments WHERE identity = ?", identity); err != nil {
		return err
	}
	return tx.Commit()
}

// ListObjects returns all whole-object entries ordered by identity
func (s *Store) ListObjects(ctx context.Context) ([]domain.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT identity, size, created_at FROM cache_entries WHERE kind = ? ORDER BY identity",
		kindObject,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []domain.ObjectInfo
	for rows.Next() {
		var info domain.ObjectInfo
		var createdAt sql.NullTime
		if err := rows.Scan(&info.Identity, &info.Size, &createdAt); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			info.CreatedAt = createdAt.Time
		}
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

func (s *Store) getEntry(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM cache_entries WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) putEntry(ctx context.Context, key, kind, identity string, index sql.NullInt64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}

	query := `
		INSERT INTO cache_entries (key, kind, identity, chunk_index, size, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			size = excluded.size,
			data = excluded.data,
			created_at = excluded.created_at
	`

	_, err := s.db.ExecContext(ctx, query, key, kind, identity, index, len(data), data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}
