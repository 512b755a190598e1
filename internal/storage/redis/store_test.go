package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/ledger"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewStore(context.Background(), Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestNewStoreValidatesConfig(t *testing.T) {
	cases := map[string]Config{
		"empty":      {},
		"bad scheme": {URL: "http://localhost:6379"},
	}
	for name, cfg := range cases {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			_, err := NewStore(context.Background(), cfg)
			assert.Equal(t, xerrors.CodeConfigInvalid, xerrors.CodeOf(err))
		})
	}

	_, err := NewStore(context.Background(), Config{Address: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	require.Error(t, err, "unreachable server must fail the ping")
}

func TestCompareAndDeleteMatchesToken(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := ledger.LockKey("Agent_007")

	ok, err := store.SetNX(ctx, key, "token-a", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, mr.TTL(key))

	deleted, err := store.CompareAndDelete(ctx, key, "token-b")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists(key), "foreign token must not release the lock")

	deleted, err = store.CompareAndDelete(ctx, key, "token-a")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists(key))

	deleted, err = store.CompareAndDelete(ctx, key, "token-a")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSetNXExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "lock:x", "1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.SetNX(ctx, "lock:x", "2", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Second)
	_, found, err := store.Get(ctx, "lock:x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIncrByFloatAndErrors(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, ledger.BalanceKey("a"), "1.5"))
	v, err := store.IncrByFloat(ctx, ledger.BalanceKey("a"), -0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	require.NoError(t, mr.Set("corrupt", "abc"))
	_, err = store.IncrByFloat(ctx, "corrupt", 1)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
	assert.Equal(t, "corrupt", xerrors.MetadataValue(err, "key"))
}

func TestStoreReportsOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := NewStoreFromClient(client)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	err := store.Ping(context.Background())
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
	_, _, err = store.Get(context.Background(), "k")
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
	assert.Equal(t, ledger.KindRedis, store.Kind())
}
