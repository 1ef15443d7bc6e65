package market

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/novaforge/bazaar/internal/kv"
	"github.com/novaforge/bazaar/internal/ledger"
	"github.com/novaforge/bazaar/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePerms struct {
	denied map[int64]bool
}

func (f *fakePerms) Allowed(ctx context.Context, accountID int64) bool {
	return !f.denied[accountID]
}

type captureNotifier struct {
	mu     sync.Mutex
	tokens []models.TradeToken
	trades []models.Transaction
}

func (n *captureNotifier) PushToken(token models.TradeToken) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
}

func (n *captureNotifier) PushTrade(tx models.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trades = append(n.trades, tx)
}

func (n *captureNotifier) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.tokens))
	for _, t := range n.tokens {
		out = append(out, t.Status)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testMarket is a shared remote store plus per-account service wiring.
type testMarket struct {
	listingKV *kv.MemStore
	indexKV   *kv.MemStore
	historyKV *kv.MemStore
	listings  *ListingStore
	history   *HistoryStore
	clock     *fakeClock
	perms     *fakePerms
	notifier  *captureNotifier
}

func newTestMarket() *testMarket {
	m := &testMarket{
		listingKV: kv.NewMemStore(),
		indexKV:   kv.NewMemStore(),
		historyKV: kv.NewMemStore(),
		clock:     newFakeClock(),
		perms:     &fakePerms{denied: map[int64]bool{}},
		notifier:  &captureNotifier{},
	}
	m.listings = NewListingStore(m.listingKV)
	m.history = NewHistoryStore(m.historyKV)
	return m
}

type testAccount struct {
	svc    *Service
	inv    *ledger.AccountInventory
	wallet *ledger.AccountWallet
}

func (m *testMarket) account(id int64, balance int64, items ...models.Item) *testAccount {
	inv := ledger.NewInventory(items...)
	wallet := ledger.NewWallet(balance)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	svc := NewService(m.listings, m.history, m.indexKV, Config{
		Account:         id,
		MinPrice:        1,
		MaxPrice:        10000,
		LockTimeout:     30 * time.Second,
		ListingDuration: 600 * time.Second,
		Inventory:       inv,
		Wallet:          wallet,
		Perms:           m.perms,
		Notifier:        m.notifier,
		Now:             m.clock.Now,
	}, logrus.NewEntry(log))
	return &testAccount{svc: svc, inv: inv, wallet: wallet}
}

func item(name string) models.Item {
	return models.Item{UUID: uuid.New(), Name: name}
}

// holders counts where the item instance currently lives: each local
// inventory holding it plus a live listing snapshot. Conservation means
// this is always exactly 1.
func holders(t *testing.T, m *testMarket, id uuid.UUID, accounts ...*testAccount) int {
	t.Helper()
	count := 0
	for _, a := range accounts {
		if _, ok := a.inv.Item(id); ok {
			count++
		}
	}
	listing, ok, err := m.listings.Get(context.Background(), id)
	require.NoError(t, err)
	if ok && !listing.Bought {
		count++
	}
	return count
}

func TestCreateListing(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)

	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	// Item left the local inventory the moment it was listed.
	_, held := seller.inv.Item(sword.UUID)
	assert.False(t, held)

	listing, ok, err := m.listings.Get(context.Background(), sword.UUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), listing.Seller)
	assert.Equal(t, int64(100), listing.Price)
	assert.False(t, listing.Bought)
	assert.Equal(t, sword.Name, listing.Item.Name)

	assert.Len(t, seller.svc.Outstanding(), 1)
	assert.Equal(t, 1, holders(t, m, sword.UUID, seller))
}

func TestCreateListingPreconditions(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	other := item("Void Compass")
	seller := m.account(1, 0, sword, other)

	tests := []struct {
		name  string
		setup func()
		item  uuid.UUID
		price int64
	}{
		{name: "PriceBelowMin", item: sword.UUID, price: 0},
		{name: "PriceAboveMax", item: sword.UUID, price: 10001},
		{name: "ItemNotHeld", item: uuid.New(), price: 100},
		{
			name:  "ItemInUse",
			setup: func() { seller.inv.SetInUse(other.UUID, true) },
			item:  other.UUID,
			price: 100,
		},
		{
			name:  "PermissionDenied",
			setup: func() { m.perms.denied[1] = true },
			item:  sword.UUID,
			price: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			assert.False(t, seller.svc.Create(context.Background(), tt.item, tt.price))

			// No listing was written and no ledger mutated.
			_, ok, err := m.listings.Get(context.Background(), tt.item)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	// Items are still spendable locally after every failed attempt.
	m.perms.denied[1] = false
	seller.inv.SetInUse(other.UUID, false)
	_, held := seller.inv.Item(sword.UUID)
	assert.True(t, held)
	_, held = seller.inv.Item(other.UUID)
	assert.True(t, held)
}

func TestCreateListingDuplicate(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	// A racer holding a copy of the same item instance loses the key
	// and gets its copy restored.
	racer := m.account(2, 0, sword)
	assert.False(t, racer.svc.Create(context.Background(), sword.UUID, 50))
	_, held := racer.inv.Item(sword.UUID)
	assert.True(t, held)

	listing, _, err := m.listings.Get(context.Background(), sword.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), listing.Seller, "original listing untouched")
	assert.Equal(t, int64(100), listing.Price)
}

func TestCreateListingStoreUnavailable(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)

	// Any one keyspace down fails the whole engine closed.
	m.historyKV.SetUnavailable(true)
	assert.False(t, seller.svc.Create(context.Background(), sword.UUID, 100))
	_, held := seller.inv.Item(sword.UUID)
	assert.True(t, held, "item stays spendable when the engine refuses")

	m.historyKV.SetUnavailable(false)
	assert.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))
}

func TestCancelListing(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	require.True(t, seller.svc.Cancel(context.Background(), sword.UUID))

	// Item back in inventory, listing dead, display cache cleared.
	_, held := seller.inv.Item(sword.UUID)
	assert.True(t, held)
	listing, ok, err := m.listings.Get(context.Background(), sword.UUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, listing.Bought)
	assert.Empty(t, seller.svc.Outstanding())
	assert.Equal(t, 1, holders(t, m, sword.UUID, seller))

	// Dead listings cannot be cancelled again.
	assert.False(t, seller.svc.Cancel(context.Background(), sword.UUID))
}

func TestCancelListingForeign(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	stranger := m.account(2, 500)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	assert.False(t, stranger.svc.Cancel(context.Background(), sword.UUID))

	// Foreign cancel mutated nothing anywhere.
	listing, _, err := m.listings.Get(context.Background(), sword.UUID)
	require.NoError(t, err)
	assert.False(t, listing.Bought)
	_, held := stranger.inv.Item(sword.UUID)
	assert.False(t, held)
	assert.Equal(t, int64(500), stranger.wallet.Balance())
}

func TestCancelListingMissing(t *testing.T) {
	m := newTestMarket()
	seller := m.account(1, 0)
	assert.False(t, seller.svc.Cancel(context.Background(), uuid.New()))
}

func TestBuyListing(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	buyer := m.account(2, 150)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	require.True(t, buyer.svc.Buy(context.Background(), sword.UUID))

	// Item in the buyer's inventory, price debited, listing dead.
	_, held := buyer.inv.Item(sword.UUID)
	assert.True(t, held)
	assert.Equal(t, int64(50), buyer.wallet.Balance())
	listing, _, err := m.listings.Get(context.Background(), sword.UUID)
	require.NoError(t, err)
	assert.True(t, listing.Bought)
	assert.Equal(t, 1, holders(t, m, sword.UUID, seller, buyer))

	// Audit trail: processing then completed token, one completed-trade
	// announcement, one history entry.
	assert.Equal(t, []string{models.TokenProcessing, models.TokenCompleted}, m.notifier.statuses())
	require.Len(t, m.notifier.trades, 1)
	assert.Equal(t, int64(2), m.notifier.trades[0].Buyer)

	log, err := m.history.Transactions(context.Background(), sword.UUID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, int64(1), log[0].Seller)
	assert.Equal(t, int64(2), log[0].Buyer)
	assert.Equal(t, int64(100), log[0].Price)
}

func TestBuyOwnListing(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 1000, sword)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	assert.False(t, seller.svc.Buy(context.Background(), sword.UUID))
	assert.Equal(t, int64(1000), seller.wallet.Balance())
}

func TestBuyListingPaymentFailure(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	poor := m.account(2, 50)
	rich := m.account(3, 200)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	assert.False(t, poor.svc.Buy(context.Background(), sword.UUID))

	// Balance untouched and the lock was released immediately, so the
	// listing is purchasable again without waiting out the lease.
	assert.Equal(t, int64(50), poor.wallet.Balance())
	listing, _, err := m.listings.Get(context.Background(), sword.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), listing.Lock)
	assert.Equal(t, []string{models.TokenProcessing, models.TokenFailed}, m.notifier.statuses())

	require.True(t, rich.svc.Buy(context.Background(), sword.UUID))
	assert.Equal(t, int64(100), rich.wallet.Balance())
}

// flakyStore fails one CompareAndSwap after a set number of successful
// calls, simulating a store outage between purchase phases.
type flakyStore struct {
	kv.Store
	mu        sync.Mutex
	remaining int
	tripped   bool
}

func (f *flakyStore) CompareAndSwap(ctx context.Context, key string, fn kv.SwapFunc) ([]byte, bool, error) {
	f.mu.Lock()
	if !f.tripped && f.remaining == 0 {
		f.tripped = true
		f.mu.Unlock()
		return nil, false, fmt.Errorf("simulated store outage")
	}
	if !f.tripped {
		f.remaining--
	}
	f.mu.Unlock()
	return f.Store.CompareAndSwap(ctx, key, fn)
}

func TestBuyListingSettlementFailure(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	// Lock succeeds, the settlement CAS errors, the compensating
	// release goes through.
	flaky := &flakyStore{Store: m.listingKV, remaining: 1}
	buyer := m.account(2, 150)
	buyer.svc.listings = NewListingStore(flaky)

	assert.False(t, buyer.svc.Buy(context.Background(), sword.UUID))

	// Debit refunded, lock released, listing purchasable, failure on
	// the token stream for reconciliation.
	assert.Equal(t, int64(150), buyer.wallet.Balance())
	_, held := buyer.inv.Item(sword.UUID)
	assert.False(t, held)
	listing, _, err := m.listings.Get(context.Background(), sword.UUID)
	require.NoError(t, err)
	assert.False(t, listing.Bought)
	assert.Equal(t, int64(0), listing.Lock)
	assert.Equal(t, []string{models.TokenProcessing, models.TokenFailed}, m.notifier.statuses())
	assert.Equal(t, 1, holders(t, m, sword.UUID, seller, buyer))
}

func TestBuyListingConcurrent(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	const buyers = 8
	accounts := make([]*testAccount, buyers)
	for i := range accounts {
		accounts[i] = m.account(int64(i+2), 100)
	}

	var wg sync.WaitGroup
	results := make([]bool, buyers)
	for i := range accounts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = accounts[i].svc.Buy(context.Background(), sword.UUID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, won := range results {
		if won {
			winners++
			_, held := accounts[i].inv.Item(sword.UUID)
			assert.True(t, held, "winner holds the item")
			assert.Equal(t, int64(0), accounts[i].wallet.Balance(), "winner was charged")
		} else {
			_, held := accounts[i].inv.Item(sword.UUID)
			assert.False(t, held, "loser %d must not hold the item", i)
			assert.Equal(t, int64(100), accounts[i].wallet.Balance(), "loser %d must not be charged", i)
		}
	}
	assert.Equal(t, 1, winners, "exactly one buyer wins the race")

	all := append([]*testAccount{seller}, accounts...)
	assert.Equal(t, 1, holders(t, m, sword.UUID, all...))
}

func TestStaleLockReclaim(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	buyer := m.account(2, 200)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	// A crashed buyer left a lock behind.
	now := m.clock.Now()
	_, applied, err := m.listings.Swap(context.Background(), sword.UUID, func(old *models.Listing) (*models.Listing, error) {
		next := *old
		next.Lock = 99
		next.LockedAt = now
		return &next, nil
	})
	require.NoError(t, err)
	require.True(t, applied)

	// Fresh lock blocks cancel, buy and the expiry sweep alike.
	assert.False(t, seller.svc.Cancel(context.Background(), sword.UUID))
	assert.False(t, buyer.svc.Buy(context.Background(), sword.UUID))
	m.clock.Advance(601 * time.Second)
	_, applied, err = m.listings.Swap(context.Background(), sword.UUID, func(old *models.Listing) (*models.Listing, error) {
		next := *old
		next.LockedAt = m.clock.Now()
		return &next, nil
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, 0, seller.svc.ExpireSweep(context.Background()))

	// Once the lease ages out it counts as absent for every reader.
	m.clock.Advance(30 * time.Second)
	assert.True(t, buyer.svc.Buy(context.Background(), sword.UUID))
	assert.Equal(t, int64(100), buyer.wallet.Balance())
}

func TestBuyListingPermissionDenied(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	buyer := m.account(2, 200)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	m.perms.denied[2] = true
	assert.False(t, buyer.svc.Buy(context.Background(), sword.UUID))
	assert.Equal(t, int64(200), buyer.wallet.Balance())
	listing, _, err := m.listings.Get(context.Background(), sword.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), listing.Lock, "no lock taken before the permission gate")
}

func TestSearchListingsStub(t *testing.T) {
	m := newTestMarket()
	sword := item("Plasma Lance")
	seller := m.account(1, 0, sword)
	require.True(t, seller.svc.Create(context.Background(), sword.UUID, 100))

	assert.Empty(t, seller.svc.Search(context.Background(), "lance", 0))
}
