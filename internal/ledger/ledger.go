package ledger

import (
	"sync"

	"github.com/novaforge/bazaar/internal/models"

	"github.com/google/uuid"
)

// Inventory holds the local empire's unique item instances. It is a
// cache of what this account currently owns, never the authority on
// whether an item is listed.
type Inventory interface {
	// Withdraw removes and returns the item, reserving it out of the
	// inventory. Fails for unknown or in-use items.
	Withdraw(id uuid.UUID) (models.Item, bool)
	// Deposit returns an item snapshot to the inventory.
	Deposit(item models.Item)
	// Item looks up an item without removing it.
	Item(id uuid.UUID) (models.Item, bool)
	// Items lists everything currently held.
	Items() []models.Item
}

// Wallet holds the local empire's settlement-currency balance.
type Wallet interface {
	Balance() int64
	CanAfford(amount int64) bool
	// Debit removes amount from the balance; fails without mutating
	// when funds are insufficient or the amount is not positive.
	Debit(amount int64) bool
	Credit(amount int64)
}

// AccountInventory is the in-process Inventory implementation.
type AccountInventory struct {
	mu    sync.Mutex
	items map[uuid.UUID]models.Item
	inUse map[uuid.UUID]bool
}

// NewInventory creates an inventory pre-loaded with the given items.
func NewInventory(items ...models.Item) *AccountInventory {
	inv := &AccountInventory{
		items: make(map[uuid.UUID]models.Item, len(items)),
		inUse: make(map[uuid.UUID]bool),
	}
	for _, item := range items {
		inv.items[item.UUID] = item
	}
	return inv
}

// SetInUse marks an item as placed/equipped. In-use items cannot be
// withdrawn for listing until released.
func (inv *AccountInventory) SetInUse(id uuid.UUID, inUse bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inUse {
		inv.inUse[id] = true
	} else {
		delete(inv.inUse, id)
	}
}

// Withdraw implements Inventory.
func (inv *AccountInventory) Withdraw(id uuid.UUID) (models.Item, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	item, ok := inv.items[id]
	if !ok || inv.inUse[id] {
		return models.Item{}, false
	}
	delete(inv.items, id)
	return item, true
}

// Deposit implements Inventory.
func (inv *AccountInventory) Deposit(item models.Item) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items[item.UUID] = item
}

// Item implements Inventory.
func (inv *AccountInventory) Item(id uuid.UUID) (models.Item, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	item, ok := inv.items[id]
	return item, ok
}

// Items implements Inventory.
func (inv *AccountInventory) Items() []models.Item {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]models.Item, 0, len(inv.items))
	for _, item := range inv.items {
		out = append(out, item)
	}
	return out
}

// AccountWallet is the in-process Wallet implementation.
type AccountWallet struct {
	mu      sync.Mutex
	balance int64
}

// NewWallet creates a wallet with an opening balance.
func NewWallet(balance int64) *AccountWallet {
	return &AccountWallet{balance: balance}
}

// Balance implements Wallet.
func (w *AccountWallet) Balance() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// CanAfford implements Wallet.
func (w *AccountWallet) CanAfford(amount int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return amount > 0 && w.balance >= amount
}

// Debit implements Wallet.
func (w *AccountWallet) Debit(amount int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if amount <= 0 || w.balance < amount {
		return false
	}
	w.balance -= amount
	return true
}

// Credit implements Wallet.
func (w *AccountWallet) Credit(amount int64) {
	if amount <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance += amount
}
