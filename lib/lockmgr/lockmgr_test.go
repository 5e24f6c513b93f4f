package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/ValentinKolb/txKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockManager(t *testing.T, opts ...store.Option) ILockManager {
	t.Helper()
	s := store.New(store.DefaultFactory, opts...)
	rid, err := s.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(rid) })
	return NewLockManager(s, rid)
}

func lockKey(name string) keycodec.Key {
	return keycodec.Key{keycodec.String("lock"), keycodec.String(name)}
}

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	lm := newLockManager(t)
	key := lockKey("a")

	ok, owner, err := lm.AcquireLock(ctx, key, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, owner)

	ok, _, err = lm.AcquireLock(ctx, key, 0)
	require.NoError(t, err)
	assert.False(t, ok, "lock acquired twice")

	ok, err = lm.ReleaseLock(ctx, key, "someone-else")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = lm.ReleaseLock(ctx, key, owner)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = lm.AcquireLock(ctx, key, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseMissingLock(t *testing.T) {
	lm := newLockManager(t)
	ok, err := lm.ReleaseLock(context.Background(), lockKey("missing"), "owner")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	// expiry is computed from a clock one hour in the past, the lock is expired right away
	lm := newLockManager(t, store.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	key := lockKey("expiring")

	ok, _, err := lm.AcquireLock(ctx, key, 1000)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = lm.AcquireLock(ctx, key, 1000)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock was not released")
}

func TestOwnerIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	lm := newLockManager(t)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		key := keycodec.Key{keycodec.String("lock"), keycodec.NewInt(int64(i))}
		ok, owner, err := lm.AcquireLock(ctx, key, 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, seen[owner])
		seen[owner] = true
	}
}

func TestConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	lm := newLockManager(t)
	key := lockKey("contended")

	const workers = 8
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			ok, _, err := lm.AcquireLock(ctx, key, 0)
			results <- err == nil && ok
		}()
	}

	winners := 0
	for i := 0; i < workers; i++ {
		if <-results {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestUnknownDatabase(t *testing.T) {
	lm := NewLockManager(store.New(store.DefaultFactory), 99)
	_, _, err := lm.AcquireLock(context.Background(), lockKey("x"), 0)
	assert.True(t, store.IsBadResource(err))

	_, err = lm.ReleaseLock(context.Background(), lockKey("x"), "owner")
	assert.True(t, store.IsBadResource(err))
}
