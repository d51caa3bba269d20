package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
)

// setupTestRedis starts an in-process Redis and returns a Store bound to it.
func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return New(client), mr
}

func TestRedisStore_GetNotFound(t *testing.T) {
	s, _ := setupTestRedis(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, idempotency.ErrNotFound)
}

func TestRedisStore_ReserveAndPut(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestRedis(t)

	require.NoError(t, s.Reserve(ctx, "k", "tok", 30*time.Second))
	assert.True(t, mr.Exists(DefaultPrefix+"k"))

	rec, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatePending, rec.State)
	assert.Equal(t, "tok", rec.Token)

	err = s.Put(ctx, &idempotency.Record{
		Key: "k", Token: "tok", StatusCode: 201,
		ContentType: "application/json", Location: "/orders/1", Body: []byte(`{"id":"1"}`),
	}, time.Hour)
	require.NoError(t, err)

	rec, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, rec.Completed())
	assert.Equal(t, 201, rec.StatusCode)
	assert.Equal(t, "application/json", rec.ContentType)
	assert.Equal(t, "/orders/1", rec.Location)
	assert.Equal(t, []byte(`{"id":"1"}`), rec.Body)
	assert.Equal(t, time.Hour, mr.TTL(DefaultPrefix+"k"))
}

func TestRedisStore_ReserveConflict(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestRedis(t)

	require.NoError(t, s.Reserve(ctx, "k", "a", time.Minute))
	assert.ErrorIs(t, s.Reserve(ctx, "k", "b", time.Minute), idempotency.ErrConflict)
}

func TestRedisStore_ConcurrentReserveHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestRedis(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Reserve(ctx, "race", "t", time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisStore_PutKeepsFirstCompletedRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestRedis(t)

	require.NoError(t, s.Put(ctx, &idempotency.Record{Key: "k", Token: "winner", StatusCode: 200, Body: []byte("first")}, time.Hour))
	err := s.Put(ctx, &idempotency.Record{Key: "k", Token: "loser", StatusCode: 200, Body: []byte("second")}, time.Hour)
	assert.ErrorIs(t, err, idempotency.ErrConflict)

	rec, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), rec.Body)
}

func TestRedisStore_ReleaseOnlyOwnReservation(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestRedis(t)

	require.NoError(t, s.Reserve(ctx, "k", "owner", time.Minute))
	require.NoError(t, s.Release(ctx, "k", "intruder"))
	assert.True(t, mr.Exists(DefaultPrefix+"k"))

	require.NoError(t, s.Release(ctx, "k", "owner"))
	assert.False(t, mr.Exists(DefaultPrefix+"k"))

	// releasing a missing key is a no-op
	assert.NoError(t, s.Release(ctx, "gone", "owner"))
}

func TestRedisStore_Expiration(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestRedis(t)

	require.NoError(t, s.Put(ctx, &idempotency.Record{Key: "k", Token: "t", StatusCode: 200}, time.Second))
	mr.FastForward(2 * time.Second)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, idempotency.ErrNotFound)
	assert.NoError(t, s.Reserve(ctx, "k", "t2", time.Minute))
}

func TestRedisStore_GuardEndToEnd(t *testing.T) {
	s, _ := setupTestRedis(t)
	g := idempotency.New(s, idempotency.WithPollInterval(5*time.Millisecond))

	var calls atomic.Int32
	fn := func(ctx context.Context) (*idempotency.Response, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &idempotency.Response{StatusCode: 200, Body: []byte("done")}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _, err := g.Do(context.Background(), "e2e", fn)
			if assert.NoError(t, err) {
				assert.Equal(t, "done", string(resp.Body))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedisStore_UnavailableServer(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	s := New(client)

	_, err = s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, idempotency.ErrNotFound)
	assert.Error(t, s.Ping(context.Background()))
}
