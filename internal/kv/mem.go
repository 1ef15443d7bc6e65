package kv

import (
	"context"
	"errors"
	"sync"
)

// MemStore is an in-process Store with the same swap semantics as
// PGStore. Used by tests and by single-node setups that do not need a
// remote keyspace.
type MemStore struct {
	mu     sync.Mutex
	values map[string][]byte
	down   bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: map[string][]byte{}}
}

// SetUnavailable toggles simulated outage: every call fails until
// cleared. Test hook only.
func (s *MemStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

var errUnavailable = errors.New("kv: store unavailable")

// CompareAndSwap implements Store. The whole read-modify-write runs
// under the store mutex, so no two swaps observe the same prior value.
func (s *MemStore) CompareAndSwap(ctx context.Context, key string, fn SwapFunc) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, false, errUnavailable
	}

	var old []byte
	if cur, ok := s.values[key]; ok {
		old = append([]byte(nil), cur...)
	}

	next, err := fn(old)
	if errors.Is(err, ErrAbort) {
		return old, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.values[key] = append([]byte(nil), next...)
	return next, true, nil
}

// Get implements Store.
func (s *MemStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, false, errUnavailable
	}
	cur, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), cur...), true, nil
}

// Ping implements Store.
func (s *MemStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errUnavailable
	}
	return nil
}
