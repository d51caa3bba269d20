// Package memstore is an in-process idempotency.Store backed by a map.
// It is meant for tests and single-instance development setups; records do
// not survive a restart and are not shared between processes.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
)

// Store is a mutex-guarded map of records.
type Store struct {
	mu    sync.Mutex
	items map[string]*idempotency.Record
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		items: make(map[string]*idempotency.Record),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the live record for key.
func (s *Store) Get(_ context.Context, key string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(key)
	if !ok {
		return nil, idempotency.ErrNotFound
	}
	return rec.Clone(), nil
}

// Reserve claims key for token unless a live record exists.
func (s *Store) Reserve(_ context.Context, key, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return idempotency.ErrConflict
	}
	now := s.now()
	s.items[key] = &idempotency.Record{
		Key:       key,
		Token:     token,
		State:     idempotency.StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

// Put stores a completed record, refusing to overwrite another owner's
// completed record. A pending reservation held by another token is replaced;
// see idempotency.WithLockTTL.
func (s *Store) Put(_ context.Context, rec *idempotency.Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.live(rec.Key); ok && cur.Completed() && cur.Token != rec.Token {
		return idempotency.ErrConflict
	}
	cp := rec.Clone()
	cp.State = idempotency.StateCompleted
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.ExpiresAt = s.now().Add(ttl)
	s.items[rec.Key] = cp
	return nil
}

// Release drops the pending reservation held by token.
func (s *Store) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.items[key]; ok && cur.State == idempotency.StatePending && cur.Token == token {
		delete(s.items, key)
	}
	return nil
}

// PurgeExpired removes every record expired at now.
func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, rec := range s.items {
		if rec.Expired(now) {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of records held, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) live(key string) (*idempotency.Record, bool) {
	rec, ok := s.items[key]
	if !ok || rec.Expired(s.now()) {
		return nil, false
	}
	return rec, true
}
