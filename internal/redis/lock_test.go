package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLockReleasesKey(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, "chat", time.Minute)

	err := locker.WithLock(context.Background(), "session:7", func(ctx context.Context) error {
		assert.True(t, mr.Exists("chat:session:7"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("chat:session:7"))
}

func TestWithLockRejectsConcurrentHolder(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisLocker(client, "chat", time.Minute)

	release := make(chan struct{})
	entered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithLock(context.Background(), "session:1", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	var ran atomic.Bool
	err := locker.WithLock(context.Background(), "session:1", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, ran.Load())

	close(release)
	wg.Wait()

	err = locker.WithLock(context.Background(), "session:1", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWithLockPropagatesError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, "", time.Minute)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:k"))
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, "lock", time.Minute)

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		// simulate expiry and takeover by another holder
		require.NoError(t, mr.Set("lock:k", "someone-else"))
		return nil
	})
	require.NoError(t, err)
	got, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestDeduperFirstSeen(t *testing.T) {
	mr, client := newTestClient(t)
	d := NewDeduper(client, "wa", time.Hour)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "SM123")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, "SM123")
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(2 * time.Hour)
	expired, err := d.FirstSeen(ctx, "SM123")
	require.NoError(t, err)
	assert.True(t, expired)

	require.NoError(t, d.Forget(ctx, "SM123"))
	afterForget, err := d.FirstSeen(ctx, "SM123")
	require.NoError(t, err)
	assert.True(t, afterForget)

	empty, err := d.FirstSeen(ctx, "")
	require.NoError(t, err)
	assert.True(t, empty)
}
