package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/ledger"
	"SpendGuard/internal/storage/redis"
)

func stores(t *testing.T) map[string]ledger.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]ledger.Store{
		"memory": ledger.NewMemoryStore(),
		"redis":  redis.NewStoreFromClient(client),
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAcquireTimesOutWithServiceBusy(t *testing.T) {
	for name, store := range stores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			locker := New(store, WithTimeout(60*time.Millisecond), WithLogger(quiet()))

			held, err := locker.Acquire(ctx, "Agent_007")
			require.NoError(t, err)
			defer held.Release(ctx)

			start := time.Now()
			_, err = locker.Acquire(ctx, "Agent_007")
			require.Error(t, err)
			assert.Equal(t, CodeServiceBusy, xerrors.CodeOf(err))
			assert.Equal(t, 503, xerrors.HTTPStatusOf(err))
			assert.Less(t, time.Since(start), time.Second)

			other, err := locker.Acquire(ctx, "Agent_008")
			require.NoError(t, err, "different resources never contend")
			require.NoError(t, other.Release(ctx))
		})
	}
}

func TestReleaseOnlyDeletesOwnToken(t *testing.T) {
	for name, store := range stores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			locker := New(store, WithLogger(quiet()))

			lease, err := locker.Acquire(ctx, "a")
			require.NoError(t, err)

			// Simulate expiry followed by another holder taking the lock.
			_, err = store.Delete(ctx, ledger.LockKey("a"))
			require.NoError(t, err)
			ok, err := store.SetNX(ctx, ledger.LockKey("a"), "someone-else", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, lease.Release(ctx))
			value, found, err := store.Get(ctx, ledger.LockKey("a"))
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "someone-else", value)
		})
	}
}

func TestWithLockReleasesOnPanicAndError(t *testing.T) {
	for name, store := range stores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			locker := New(store, WithLogger(quiet()))

			func() {
				defer func() { assert.NotNil(t, recover()) }()
				_ = locker.WithLock(ctx, "p", func(context.Context) error { panic("boom") })
			}()
			_, found, err := store.Get(ctx, ledger.LockKey("p"))
			require.NoError(t, err)
			assert.False(t, found, "lock must be released after panic")

			sentinel := errors.New("fail")
			err = locker.WithLock(ctx, "p", func(context.Context) error { return sentinel })
			assert.ErrorIs(t, err, sentinel)
			_, found, _ = store.Get(ctx, ledger.LockKey("p"))
			assert.False(t, found, "lock must be released after error")
		})
	}
}

func TestWithLockSerializes(t *testing.T) {
	for name, store := range stores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			locker := New(store, WithRetryInterval(time.Millisecond), WithLogger(quiet()))

			var (
				inside  int32
				maxSeen int32
				wg      sync.WaitGroup
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := locker.WithLock(ctx, "shared", func(context.Context) error {
						n := atomic.AddInt32(&inside, 1)
						for {
							m := atomic.LoadInt32(&maxSeen)
							if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
								break
							}
						}
						time.Sleep(2 * time.Millisecond)
						atomic.AddInt32(&inside, -1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, atomic.LoadInt32(&maxSeen))
		})
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	store := ledger.NewMemoryStore()
	locker := New(store, WithLogger(quiet()))
	held, err := locker.Acquire(context.Background(), "c")
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "c")
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestWaitObserver(t *testing.T) {
	var calls []bool
	locker := New(ledger.NewMemoryStore(), WithWaitObserver(func(_ time.Duration, acquired bool) {
		calls = append(calls, acquired)
	}))
	require.NoError(t, locker.WithLock(context.Background(), "o", func(context.Context) error { return nil }))
	assert.Equal(t, []bool{true}, calls)
}

func TestWithLockDetachesCriticalSection(t *testing.T) {
	store := ledger.NewMemoryStore()
	locker := New(store, WithTimeout(time.Second), WithLogger(quiet()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := locker.WithLock(ctx, "d", func(held context.Context) error {
		cancel()
		require.NoError(t, held.Err(), "caller cancellation must not reach the critical section")
		deadline, ok := held.Deadline()
		require.True(t, ok)
		assert.LessOrEqual(t, time.Until(deadline), locker.Timeout())
		return nil
	})
	require.NoError(t, err)

	_, held, err := store.Get(context.Background(), ledger.LockKey("d"))
	require.NoError(t, err)
	assert.False(t, held, "lock must be released after the caller cancelled")
}
