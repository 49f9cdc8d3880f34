// Package lock serializes critical sections per resource key.
package lock

import (
	"context"
	"errors"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker runs fn while holding the lock for key. Implementations block until
// the lock is free or their wait budget runs out, in which case they return
// ErrNotAcquired without calling fn.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
