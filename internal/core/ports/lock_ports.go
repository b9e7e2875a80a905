package ports

import (
	"context"
	"time"
)

// Locker is a mutual exclusion primitive shared by every server instance.
// Acquire waits at most timeout and returns domain.ErrLockNotAcquired when the
// key stays held, or domain.ErrLockUnavailable when the backend cannot be
// reached. A held lock lapses on its own after lease.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout, lease time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}
