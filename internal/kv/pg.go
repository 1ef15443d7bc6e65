package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on a PostgreSQL table with an optimistic
// version column: read the row, apply the callback, then write guarded
// by "WHERE version = $observed". A lost race shows up as zero affected
// rows and the swap loop re-reads.
type PGStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGStore returns a Store backed by the named table. The table must
// have (key text primary key, version bigint, value jsonb) columns; see
// migrations/001_init.sql.
func NewPGStore(pool *pgxpool.Pool, table string) *PGStore {
	return &PGStore{pool: pool, table: table}
}

// CompareAndSwap implements Store.
func (s *PGStore) CompareAndSwap(ctx context.Context, key string, fn SwapFunc) ([]byte, bool, error) {
	for {
		var (
			old     []byte
			version int64
			exists  = true
		)
		err := s.pool.QueryRow(ctx,
			fmt.Sprintf("SELECT version, value FROM %s WHERE key = $1", s.table),
			key).Scan(&version, &old)
		if errors.Is(err, pgx.ErrNoRows) {
			exists = false
			old = nil
		} else if err != nil {
			return nil, false, fmt.Errorf("failed to read %s/%s: %w", s.table, key, err)
		}

		next, err := fn(old)
		if errors.Is(err, ErrAbort) {
			return old, false, nil
		}
		if err != nil {
			return nil, false, err
		}

		if exists {
			tag, err := s.pool.Exec(ctx,
				fmt.Sprintf("UPDATE %s SET value = $1, version = version + 1, updated_at = NOW() WHERE key = $2 AND version = $3", s.table),
				next, key, version)
			if err != nil {
				return nil, false, fmt.Errorf("failed to update %s/%s: %w", s.table, key, err)
			}
			if tag.RowsAffected() > 0 {
				return next, true, nil
			}
		} else {
			tag, err := s.pool.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (key, version, value) VALUES ($1, 1, $2) ON CONFLICT (key) DO NOTHING", s.table),
				key, next)
			if err != nil {
				return nil, false, fmt.Errorf("failed to insert %s/%s: %w", s.table, key, err)
			}
			if tag.RowsAffected() > 0 {
				return next, true, nil
			}
		}

		// Lost the race to a concurrent writer; re-read and retry.
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
}

// Get implements Store.
func (s *PGStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table),
		key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", s.table, key, err)
	}
	return value, true, nil
}

// Ping implements Store. The table is touched, not just the connection,
// so a missing namespace also reads as unavailable.
func (s *PGStore) Ping(ctx context.Context) error {
	var n int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE key = ''", s.table)).Scan(&n)
	if err != nil {
		return fmt.Errorf("keyspace %s unavailable: %w", s.table, err)
	}
	return nil
}
