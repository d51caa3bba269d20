package idempotency

import (
	"context"
	"time"
)

// Store persists idempotency records.
//
// Implementations must be safe for concurrent use and Reserve must be atomic
// across every process sharing the store: of N concurrent callers for a key
// without a live record, exactly one succeeds.
type Store interface {
	// Get returns the live record for key, or ErrNotFound when it is absent
	// or expired.
	Get(ctx context.Context, key string) (*Record, error)

	// Reserve claims key with a pending record owned by token that expires
	// after ttl. It returns ErrConflict when a live record exists.
	Reserve(ctx context.Context, key, token string, ttl time.Duration) error

	// Put stores a completed record that expires after ttl. It replaces the
	// caller's own reservation and returns ErrConflict when a different live
	// completed record already exists.
	Put(ctx context.Context, rec *Record, ttl time.Duration) error

	// Release drops the pending reservation for key if token owns it.
	// Releasing a reservation that is gone or owned by someone else is a no-op.
	Release(ctx context.Context, key, token string) error
}

// Purger is implemented by stores that need explicit eviction of expired
// records. Stores with native expiry (Redis) do not implement it.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}
