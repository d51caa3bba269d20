// Package redisstore implements idempotency.Store on Redis.
//
// Reservations use SET NX so exactly one caller across all processes claims a
// key. Completion and release run as Lua scripts that compare the stored
// token and state before writing, so a slow owner can never clobber a record
// written by someone else. Eviction relies on native key expiry.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
)

// DefaultPrefix namespaces idempotency keys in a shared Redis.
const DefaultPrefix = "idem:"

var putScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local rec = cjson.decode(cur)
  if rec.state == 'completed' and rec.token ~= ARGV[2] then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
local rec = cjson.decode(cur)
if rec.state == 'pending' and rec.token == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Store keeps one JSON document per idempotency key.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Store using client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type document struct {
	Token       string            `json:"token"`
	State       idempotency.State `json:"state"`
	StatusCode  int               `json:"status_code"`
	ContentType string            `json:"content_type,omitempty"`
	Location    string            `json:"location,omitempty"`
	Body        []byte            `json:"body,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

func (s *Store) key(k string) string { return s.prefix + k }

// Get returns the live record for key.
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", key, err)
	}
	return &idempotency.Record{
		Key:         key,
		Token:       doc.Token,
		State:       doc.State,
		StatusCode:  doc.StatusCode,
		ContentType: doc.ContentType,
		Location:    doc.Location,
		Body:        doc.Body,
		CreatedAt:   doc.CreatedAt,
		ExpiresAt:   doc.ExpiresAt,
	}, nil
}

// Reserve claims key with SET NX.
func (s *Store) Reserve(ctx context.Context, key, token string, ttl time.Duration) error {
	now := s.now()
	data, err := json.Marshal(document{
		Token:     token,
		State:     idempotency.StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(key), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return idempotency.ErrConflict
	}
	return nil
}

// Put writes a completed record unless another owner completed it first.
func (s *Store) Put(ctx context.Context, rec *idempotency.Record, ttl time.Duration) error {
	now := s.now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	data, err := json.Marshal(document{
		Token:       rec.Token,
		State:       idempotency.StateCompleted,
		StatusCode:  rec.StatusCode,
		ContentType: rec.ContentType,
		Location:    rec.Location,
		Body:        rec.Body,
		CreatedAt:   created,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		return err
	}

	n, err := putScript.Run(ctx, s.client, []string{s.key(rec.Key)}, data, rec.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	if n == 0 {
		return idempotency.ErrConflict
	}
	return nil
}

// Release deletes the pending reservation owned by token.
func (s *Store) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, token).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
