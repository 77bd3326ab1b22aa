package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const leaseScope = "event"

type leaseClient interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LeaseKey(scope, id string) string
}

// LeaseArena hands out per-event delivery leases so concurrent workers never
// attempt the same event twice. The TTL must outlive the attempt timeout so
// a lease cannot expire mid-attempt.
type LeaseArena struct {
	client leaseClient
	ttl    time.Duration
}

// NewLeaseArena builds a lease arena over the shared redis client.
func NewLeaseArena(client leaseClient, ttl time.Duration) *LeaseArena {
	return &LeaseArena{client: client, ttl: ttl}
}

// Acquire claims the event for this worker. False means another worker holds
// the lease.
func (a *LeaseArena) Acquire(ctx context.Context, eventID uuid.UUID) (bool, error) {
	return a.client.SetNX(ctx, a.client.LeaseKey(leaseScope, eventID.String()), 1, a.ttl)
}

// Release frees the lease after the attempt's outcome is persisted.
func (a *LeaseArena) Release(ctx context.Context, eventID uuid.UUID) error {
	return a.client.Del(ctx, a.client.LeaseKey(leaseScope, eventID.String()))
}
