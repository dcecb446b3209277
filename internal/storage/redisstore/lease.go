package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarryd/quarry/internal/domain"
)

// acquireScript acquires a free or expired lease, or renews one already held
// by the caller. Returns 1 on success and 0 when another owner holds it.
var acquireScript = redis.NewScript(`
	local current = redis.call("get", KEYS[1])
	if current == false or current == ARGV[1] then
		redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	end
	return 0
`)

// releaseScript deletes the lease only when held by the caller.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// LeaseStore is a Redis-backed implementation of storage.LeaseStore. A lease
// is a string key holding the owner id with a PX expiry, so a crashed holder
// frees it automatically.
type LeaseStore struct {
	client *redis.Client
}

// NewLeaseStore creates a Redis-backed lease store.
func NewLeaseStore(client *redis.Client) *LeaseStore {
	return &LeaseStore{client: client}
}

// MaybeAcquire acquires or renews the lease. Returns nil when the lease is
// currently held by a different owner.
func (s *LeaseStore) MaybeAcquire(ctx context.Context, name, owner string, ttl time.Duration) (*domain.Lease, error) {
	ok, err := acquireScript.Run(ctx, s.client, []string{leaseKey(name)},
		owner, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if ok == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	return &domain.Lease{
		Name:          name,
		Owner:         owner,
		AcquiredAt:    now,
		AcquiredUntil: now.Add(ttl),
	}, nil
}

// Release drops the lease if held by owner; release by a non-owner is a no-op.
func (s *LeaseStore) Release(ctx context.Context, name, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{leaseKey(name)}, owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
