package lock

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
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_ReleasesKey(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLocker(client, time.Second, 100*time.Millisecond)

	err := l.WithLock(context.Background(), "booking:p:s", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:booking:p:s"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:booking:p:s"))
}

func TestRedisLocker_WaitsForHolder(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewRedisLocker(client, 2*time.Second, time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "booking:p:s", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&maxInside) {
					atomic.StoreInt32(&maxInside, n)
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestRedisLocker_NotAcquiredAfterWait(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("lock:booking:p:s", "someone-else"))

	l := NewRedisLocker(client, time.Second, 60*time.Millisecond)

	called := false
	err := l.WithLock(context.Background(), "booking:p:s", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)

	got, err := mr.Get("lock:booking:p:s")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_DoesNotDeleteForeignToken(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLocker(client, time.Second, 100*time.Millisecond)

	err := l.WithLock(context.Background(), "booking:p:s", func(ctx context.Context) error {
		// our lease expires and another holder takes over
		mr.FastForward(2 * time.Second)
		return mr.Set("lock:booking:p:s", "intruder")
	})
	require.NoError(t, err)

	got, err := mr.Get("lock:booking:p:s")
	require.NoError(t, err)
	assert.Equal(t, "intruder", got)
}
