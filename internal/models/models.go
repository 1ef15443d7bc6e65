package models

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a registered empire account
type Account struct {
	ID           int64
	Name         string
	PasswordHash string
	MarketBanned bool
	CreatedAt    time.Time
}

// Item is a snapshot of one unique item instance. The snapshot travels
// inside the listing record and is round-tripped back into whichever
// inventory ends up owning it.
type Item struct {
	UUID  uuid.UUID         `json:"uuid"`
	Name  string            `json:"name"`
	Grade int               `json:"grade,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Listing is a sell offer for one unique item, keyed in the listing
// store by the item's uuid. Bought is terminal: sold, cancelled and
// expired listings all converge on it.
type Listing struct {
	UUID      uuid.UUID `json:"uuid"`
	Price     int64     `json:"price"`
	Seller    int64     `json:"seller"`
	Item      Item      `json:"item"`
	CreatedAt time.Time `json:"created_at"`
	Bought    bool      `json:"bought"`
	Lock      int64     `json:"lock,omitempty"`
	LockedAt  time.Time `json:"locked_at"`
}

// Locked reports whether the listing carries a live purchase lock.
// A lock older than timeout is a stale lease and counts as absent.
func (l *Listing) Locked(now time.Time, timeout time.Duration) bool {
	return l.Lock != 0 && now.Sub(l.LockedAt) < timeout
}

// Expired reports whether the listing has outlived its sale window.
func (l *Listing) Expired(now time.Time, duration time.Duration) bool {
	return !now.Before(l.CreatedAt.Add(duration))
}

// Trade token statuses, in phase order.
const (
	TokenProcessing = "processing"
	TokenCompleted  = "completed"
	TokenFailed     = "failed"
)

// TradeToken is the externally-mirrored record of one purchase attempt.
// It is never authoritative; it exists so trades can be reconciled by
// hand if the primary store is compromised or partitioned.
type TradeToken struct {
	ID       uuid.UUID `json:"id"`
	ItemUUID uuid.UUID `json:"item_uuid"`
	Buyer    int64     `json:"buyer"`
	Seller   int64     `json:"seller"`
	Price    int64     `json:"price"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

// Transaction is the permanent record of a completed sale, appended to
// the per-item history log.
type Transaction struct {
	ItemUUID uuid.UUID `json:"item_uuid"`
	ItemName string    `json:"item_name"`
	Seller   int64     `json:"seller"`
	Buyer    int64     `json:"buyer"`
	Price    int64     `json:"price"`
	At       time.Time `json:"at"`
}
