package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quarryd/quarry/internal/domain"
)

// LeaseStore is an in-memory implementation of storage.LeaseStore.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]domain.Lease
}

// NewLeaseStore creates an empty in-memory lease store.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{leases: make(map[string]domain.Lease)}
}

// MaybeAcquire acquires or renews the lease. Returns nil when the lease is
// currently held by a different owner.
func (s *LeaseStore) MaybeAcquire(_ context.Context, name, owner string, ttl time.Duration) (*domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	current, ok := s.leases[name]
	if ok && !current.Expired(now) && current.Owner != owner {
		return nil, nil
	}

	lease := domain.Lease{
		Name:          name,
		Owner:         owner,
		AcquiredAt:    now,
		AcquiredUntil: now.Add(ttl),
	}
	s.leases[name] = lease
	return &lease, nil
}

// Release drops the lease if held by owner; release by a non-owner is a no-op.
func (s *LeaseStore) Release(_ context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.leases[name]; ok && current.Owner == owner {
		delete(s.leases, name)
	}
	return nil
}
