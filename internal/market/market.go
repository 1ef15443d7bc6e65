package market

import (
	"context"
	"sync"
	"time"

	"github.com/novaforge/bazaar/internal/kv"
	"github.com/novaforge/bazaar/internal/ledger"
	"github.com/novaforge/bazaar/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PermissionCheck is the single boolean gate consumed from the
// authorization collaborator: may this account use the marketplace.
type PermissionCheck interface {
	Allowed(ctx context.Context, accountID int64) bool
}

// EventKind labels a listing state change for the local account's
// other systems (display cache, websocket feed).
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventCancelled EventKind = "cancelled"
	EventBought    EventKind = "bought"
	EventExpired   EventKind = "expired"
)

// Event is a change notification for one listing.
type Event struct {
	Kind    EventKind      `json:"kind"`
	Listing models.Listing `json:"listing"`
}

// Config carries the tunables and collaborators of one account's
// marketplace service.
type Config struct {
	Account int64

	MinPrice        int64
	MaxPrice        int64
	LockTimeout     time.Duration
	ListingDuration time.Duration

	Inventory ledger.Inventory
	Wallet    ledger.Wallet
	Perms     PermissionCheck
	Notifier  Notifier

	// OnChange, when set, receives a notification after every local
	// listing state change. Called on the operation's goroutine.
	OnChange func(Event)

	// Now overrides the clock; tests use this. Defaults to time.Now.
	Now func() time.Time
}

// Service is the listing lifecycle engine for one empire account. It
// races other accounts' service instances on the same remote keys, so
// every transition is a guarded compare-and-swap; the local inventory
// and wallet are mutated only after the remote store confirms.
type Service struct {
	account  int64
	listings *ListingStore
	history  *HistoryStore
	index    kv.Store
	cfg      Config
	tokens   *TokenRecorder
	notifier Notifier
	log      *logrus.Entry
	now      func() time.Time

	mu          sync.Mutex
	outstanding map[uuid.UUID]models.Listing
}

// NewService wires a lifecycle service for cfg.Account.
func NewService(listings *ListingStore, history *HistoryStore, index kv.Store, cfg Config, log *logrus.Entry) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	log = log.WithField("account", cfg.Account)
	return &Service{
		account:     cfg.Account,
		listings:    listings,
		history:     history,
		index:       index,
		cfg:         cfg,
		tokens:      NewTokenRecorder(cfg.Notifier, log, cfg.Now),
		notifier:    cfg.Notifier,
		log:         log,
		now:         cfg.Now,
		outstanding: make(map[uuid.UUID]models.Listing),
	}
}

// ready is the fail-closed gate: all three keyspaces must answer before
// any mutation is attempted.
func (s *Service) ready(ctx context.Context) bool {
	for _, ping := range []func(context.Context) error{s.listings.Ping, s.index.Ping, s.history.Ping} {
		if err := ping(ctx); err != nil {
			s.log.WithError(err).Warn("store unavailable, refusing mutation")
			return false
		}
	}
	return true
}

// Create lists an item for sale. The item leaves the local inventory
// before the remote write is attempted and is unconditionally restored
// if the write cannot be confirmed as ours, so the item is never both
// listed and spendable locally.
func (s *Service) Create(ctx context.Context, itemID uuid.UUID, price int64) bool {
	if !s.cfg.Perms.Allowed(ctx, s.account) {
		s.log.WithField("item", itemID).Info("create denied by permission gate")
		return false
	}
	if price < s.cfg.MinPrice || price > s.cfg.MaxPrice {
		s.log.WithFields(logrus.Fields{"item": itemID, "price": price}).Info("create rejected: price out of bounds")
		return false
	}
	if !s.ready(ctx) {
		return false
	}

	item, ok := s.cfg.Inventory.Withdraw(itemID)
	if !ok {
		s.log.WithField("item", itemID).Info("create rejected: item not held or in use")
		return false
	}

	listing := &models.Listing{
		UUID:      itemID,
		Price:     price,
		Seller:    s.account,
		Item:      item,
		CreatedAt: s.now(),
	}
	created, applied, err := s.listings.Swap(ctx, itemID, func(old *models.Listing) (*models.Listing, error) {
		// The key may only be taken over when it is free or holds a
		// dead listing.
		if old != nil && !old.Bought {
			return nil, kv.ErrAbort
		}
		return listing, nil
	})
	if err != nil || !applied || created == nil || created.Seller != s.account {
		if err != nil {
			s.log.WithError(err).WithField("item", itemID).Warn("create failed at store")
		}
		s.cfg.Inventory.Deposit(item)
		return false
	}

	s.mu.Lock()
	s.outstanding[itemID] = *created
	s.mu.Unlock()
	s.emit(EventCreated, created)
	s.log.WithFields(logrus.Fields{"item": itemID, "price": price}).Info("listing created")
	return true
}

// Cancel takes down one of this account's own listings and restores the
// item snapshot to the local inventory. It fails without mutating any
// ledger when the listing is missing, foreign-owned, already dead or
// under a fresh purchase lock.
func (s *Service) Cancel(ctx context.Context, itemID uuid.UUID) bool {
	if !s.ready(ctx) {
		return false
	}
	now := s.now()
	val, applied, err := s.listings.Swap(ctx, itemID, func(old *models.Listing) (*models.Listing, error) {
		if old == nil || old.Bought || old.Seller != s.account {
			return nil, kv.ErrAbort
		}
		if old.Locked(now, s.cfg.LockTimeout) {
			return nil, kv.ErrAbort
		}
		next := *old
		next.Bought = true
		next.Lock = 0
		next.LockedAt = time.Time{}
		return &next, nil
	})
	if err != nil {
		s.log.WithError(err).WithField("item", itemID).Warn("cancel failed at store")
		return false
	}
	if !applied {
		return false
	}

	s.cfg.Inventory.Deposit(val.Item)
	s.mu.Lock()
	delete(s.outstanding, itemID)
	s.mu.Unlock()
	s.emit(EventCancelled, val)
	s.log.WithField("item", itemID).Info("listing cancelled")
	return true
}

// Buy purchases a listing in three phases: lock, payment, settlement.
// Exactly one of N racing buyers can win the lock CAS; every failure
// after the lock is resolved by a compensating release so the listing
// becomes purchasable again and the buyer is charged nothing.
func (s *Service) Buy(ctx context.Context, itemID uuid.UUID) bool {
	if !s.cfg.Perms.Allowed(ctx, s.account) {
		s.log.WithField("item", itemID).Info("buy denied by permission gate")
		return false
	}
	if !s.ready(ctx) {
		return false
	}

	// Phase 1: lock.
	now := s.now()
	locked, applied, err := s.listings.Swap(ctx, itemID, func(old *models.Listing) (*models.Listing, error) {
		if old == nil || old.Bought || old.Seller == s.account {
			return nil, kv.ErrAbort
		}
		if old.Locked(now, s.cfg.LockTimeout) {
			return nil, kv.ErrAbort
		}
		next := *old
		next.Lock = s.account
		next.LockedAt = now
		return &next, nil
	})
	if err != nil {
		s.log.WithError(err).WithField("item", itemID).Warn("buy failed at lock phase")
		return false
	}
	if !applied || locked == nil {
		return false
	}
	// A swap reported as applied still gets re-validated: concurrent
	// actors interleave on this key, and the returned record is the
	// only proof our branch is the one that took the lock.
	if locked.Bought || locked.Lock != s.account || locked.Seller == s.account {
		return false
	}

	token := s.tokens.Processing(locked, s.account)

	// Phase 2: payment.
	if !s.cfg.Wallet.Debit(locked.Price) {
		s.log.WithFields(logrus.Fields{"item": itemID, "price": locked.Price}).Info("buy rejected: payment failed")
		s.releaseLock(ctx, itemID)
		s.tokens.Failed(token)
		return false
	}

	// Phase 3: settlement.
	settled, applied, err := s.listings.Swap(ctx, itemID, func(old *models.Listing) (*models.Listing, error) {
		if old == nil || old.Bought || old.Lock != s.account {
			return nil, kv.ErrAbort
		}
		next := *old
		next.Bought = true
		return &next, nil
	})
	if err != nil || !applied {
		if err != nil {
			s.log.WithError(err).WithField("item", itemID).Warn("buy failed at settlement phase")
		}
		s.cfg.Wallet.Credit(locked.Price)
		s.releaseLock(ctx, itemID)
		s.tokens.Failed(token)
		return false
	}

	// Settlement is the point of no return: everything after it is
	// best-effort and must not roll it back.
	s.cfg.Inventory.Deposit(settled.Item)
	tx := models.Transaction{
		ItemUUID: settled.UUID,
		ItemName: settled.Item.Name,
		Seller:   settled.Seller,
		Buyer:    s.account,
		Price:    settled.Price,
		At:       s.now(),
	}
	if err := s.history.Append(ctx, tx); err != nil {
		s.log.WithError(err).WithField("item", itemID).Warn("history append failed after settlement")
	}
	s.tokens.Completed(token)
	s.notifier.PushTrade(tx)
	s.emit(EventBought, settled)
	s.log.WithFields(logrus.Fields{"item": itemID, "price": settled.Price, "seller": settled.Seller}).Info("listing bought")
	return true
}

// releaseLock is the compensating swap: clear the lock only while it is
// still ours and the listing is unsold. Failure is logged, not raised;
// the lease ages out on its own.
func (s *Service) releaseLock(ctx context.Context, itemID uuid.UUID) {
	_, _, err := s.listings.Swap(ctx, itemID, func(old *models.Listing) (*models.Listing, error) {
		if old == nil || old.Bought || old.Lock != s.account {
			return nil, kv.ErrAbort
		}
		next := *old
		next.Lock = 0
		next.LockedAt = time.Time{}
		return &next, nil
	})
	if err != nil {
		s.log.WithError(err).WithField("item", itemID).Warn("lock release not confirmed")
	}
}

// ExpireSweep reclaims this account's own unsold, time-expired listings
// back into inventory. Listings that fail the ownership/lock/bought
// guard are skipped and retried next sweep; that is the expected shape
// of eventual consistency, not an error. Returns the reclaimed count.
func (s *Service) ExpireSweep(ctx context.Context) int {
	if !s.ready(ctx) {
		return 0
	}
	now := s.now()

	s.mu.Lock()
	due := make([]models.Listing, 0, len(s.outstanding))
	for _, l := range s.outstanding {
		if l.Expired(now, s.cfg.ListingDuration) {
			due = append(due, l)
		}
	}
	s.mu.Unlock()

	reclaimed := 0
	for _, l := range due {
		val, applied, err := s.listings.Swap(ctx, l.UUID, func(old *models.Listing) (*models.Listing, error) {
			if old == nil || old.Bought || old.Seller != s.account {
				return nil, kv.ErrAbort
			}
			if old.Locked(now, s.cfg.LockTimeout) {
				return nil, kv.ErrAbort
			}
			next := *old
			next.Bought = true
			next.Lock = 0
			next.LockedAt = time.Time{}
			return &next, nil
		})
		if err != nil {
			s.log.WithError(err).WithField("item", l.UUID).Warn("expiry sweep store error")
			continue
		}
		if !applied {
			// Already sold or taken over: drop the stale cache entry so
			// the sweeper stops retrying it.
			if val != nil && val.Bought {
				s.mu.Lock()
				delete(s.outstanding, l.UUID)
				s.mu.Unlock()
			}
			continue
		}

		s.cfg.Inventory.Deposit(val.Item)
		s.mu.Lock()
		delete(s.outstanding, l.UUID)
		s.mu.Unlock()
		s.emit(EventExpired, val)
		s.log.WithField("item", l.UUID).Info("expired listing reclaimed")
		reclaimed++
	}
	return reclaimed
}

// Search is the listing search surface. There is no global listing
// index yet (the index keyspace is reserved), so every query returns an
// empty page.
func (s *Service) Search(ctx context.Context, query string, page int) []models.Listing {
	return []models.Listing{}
}

// Outstanding returns this account's live listings from the local
// display cache.
func (s *Service) Outstanding() []models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Listing, 0, len(s.outstanding))
	for _, l := range s.outstanding {
		out = append(out, l)
	}
	return out
}

// History returns the audit log for one item.
func (s *Service) History(ctx context.Context, itemID uuid.UUID) ([]models.Transaction, error) {
	return s.history.Transactions(ctx, itemID)
}

// Items exposes the local inventory for display.
func (s *Service) Items() []models.Item {
	return s.cfg.Inventory.Items()
}

// Balance exposes the local wallet for display.
func (s *Service) Balance() int64 {
	return s.cfg.Wallet.Balance()
}

func (s *Service) emit(kind EventKind, listing *models.Listing) {
	if s.cfg.OnChange == nil {
		return
	}
	s.cfg.OnChange(Event{Kind: kind, Listing: *listing})
}
