package market

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/novaforge/bazaar/internal/kv"
	"github.com/novaforge/bazaar/internal/models"

	"github.com/google/uuid"
)

// ListingStore is the typed view of the listings keyspace: one record
// per listing, keyed by the item uuid. All mutations go through Swap so
// every transition is a single-key compare-and-swap.
type ListingStore struct {
	kv kv.Store
}

// NewListingStore wraps a keyspace.
func NewListingStore(store kv.Store) *ListingStore {
	return &ListingStore{kv: store}
}

// SwapFunc computes the replacement listing. old is nil when no record
// exists at the key. Return kv.ErrAbort to make the swap a no-op.
type SwapFunc func(old *models.Listing) (*models.Listing, error)

// Swap runs fn against the current record under CAS. It returns the
// record now at the key (the new one when applied, the observed one on
// abort) and whether fn's result was written.
func (s *ListingStore) Swap(ctx context.Context, id uuid.UUID, fn SwapFunc) (*models.Listing, bool, error) {
	raw, applied, err := s.kv.CompareAndSwap(ctx, id.String(), func(old []byte) ([]byte, error) {
		var cur *models.Listing
		if old != nil {
			cur = &models.Listing{}
			if err := json.Unmarshal(old, cur); err != nil {
				return nil, fmt.Errorf("corrupt listing record %s: %w", id, err)
			}
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, applied, nil
	}
	out := &models.Listing{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, false, fmt.Errorf("corrupt listing record %s: %w", id, err)
	}
	return out, applied, nil
}

// Get reads a listing without mutating it.
func (s *ListingStore) Get(ctx context.Context, id uuid.UUID) (*models.Listing, bool, error) {
	raw, ok, err := s.kv.Get(ctx, id.String())
	if err != nil || !ok {
		return nil, false, err
	}
	out := &models.Listing{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, false, fmt.Errorf("corrupt listing record %s: %w", id, err)
	}
	return out, true, nil
}

// Ping reports keyspace availability.
func (s *ListingStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// HistoryStore is the append-only per-item transaction log, stored as a
// JSON array under the item uuid. Audit only; the engine never reads it
// on the transaction path.
type HistoryStore struct {
	kv kv.Store
}

// NewHistoryStore wraps a keyspace.
func NewHistoryStore(store kv.Store) *HistoryStore {
	return &HistoryStore{kv: store}
}

// Append adds one transaction to the item's log.
func (s *HistoryStore) Append(ctx context.Context, tx models.Transaction) error {
	_, _, err := s.kv.CompareAndSwap(ctx, tx.ItemUUID.String(), func(old []byte) ([]byte, error) {
		var log []models.Transaction
		if old != nil {
			if err := json.Unmarshal(old, &log); err != nil {
				return nil, fmt.Errorf("corrupt history record %s: %w", tx.ItemUUID, err)
			}
		}
		return json.Marshal(append(log, tx))
	})
	return err
}

// Transactions returns the item's full log, oldest first.
func (s *HistoryStore) Transactions(ctx context.Context, id uuid.UUID) ([]models.Transaction, error) {
	raw, ok, err := s.kv.Get(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var log []models.Transaction
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("corrupt history record %s: %w", id, err)
	}
	return log, nil
}

// Ping reports keyspace availability.
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}
