package market

import (
	"context"
	"sync"
)

// Registry holds one lifecycle service per empire account. Services are
// created lazily by the injected factory, so each account gets its own
// ledgers while all of them share the same remote keyspaces.
type Registry struct {
	mu       sync.Mutex
	services map[int64]*Service
	factory  func(accountID int64) *Service
}

// NewRegistry creates a registry backed by factory.
func NewRegistry(factory func(accountID int64) *Service) *Registry {
	return &Registry{
		services: make(map[int64]*Service),
		factory:  factory,
	}
}

// ForAccount returns the account's service, creating it on first use.
func (r *Registry) ForAccount(accountID int64) *Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[accountID]
	if !ok {
		svc = r.factory(accountID)
		r.services[accountID] = svc
	}
	return svc
}

// SweepAll runs one expiry pass over every known account's listings and
// returns the total reclaimed count.
func (r *Registry) SweepAll(ctx context.Context) int {
	r.mu.Lock()
	services := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	r.mu.Unlock()

	total := 0
	for _, svc := range services {
		total += svc.ExpireSweep(ctx)
	}
	return total
}
