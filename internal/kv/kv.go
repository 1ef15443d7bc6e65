package kv

import (
	"context"
	"errors"
)

// ErrAbort is returned by a SwapFunc to report that the observed value
// violates the caller's expectation. The swap becomes a no-op: the store
// leaves the value untouched and reports applied == false.
var ErrAbort = errors.New("kv: swap aborted")

// SwapFunc computes the replacement value for a key. old is nil when the
// key is absent. Returning ErrAbort makes the swap a no-op; any other
// error is propagated to the caller.
type SwapFunc func(old []byte) ([]byte, error)

// Store is a single-key compare-and-swap keyspace. CompareAndSwap is the
// only mutation primitive: fetch the current value, run fn on it, write
// the result only if the value is still unchanged, otherwise re-fetch and
// retry. No two swaps can observe and act on the same prior value.
type Store interface {
	// CompareAndSwap returns the value now at key (the new value when
	// applied, the observed value on abort) and whether fn's result was
	// written.
	CompareAndSwap(ctx context.Context, key string, fn SwapFunc) (value []byte, applied bool, err error)

	// Get returns the current value at key, and whether the key exists.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Ping reports whether the backing keyspace is reachable.
	Ping(ctx context.Context) error
}
