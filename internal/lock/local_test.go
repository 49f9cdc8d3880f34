package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	l := NewLocalLocker(0)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "booking:a", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, l.Len())
}

func TestLocalLocker_DifferentKeysDoNotContend(t *testing.T) {
	l := NewLocalLocker(50 * time.Millisecond)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "booking:a", func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := l.WithLock(context.Background(), "booking:b", func(ctx context.Context) error { return nil })
	close(done)
	assert.NoError(t, err)
}

func TestLocalLocker_WaitExpires(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "booking:a", func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	called := false
	err := l.WithLock(context.Background(), "booking:a", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)
}

func TestLocalLocker_CallerCancellation(t *testing.T) {
	l := NewLocalLocker(0)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "booking:a", func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.WithLock(ctx, "booking:a", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_PropagatesFnError(t *testing.T) {
	l := NewLocalLocker(0)
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "booking:a", func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	// the key must be free again
	err = l.WithLock(context.Background(), "booking:a", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}
