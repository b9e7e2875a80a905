// Package memory implements a leased lock for a single process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

const pollInterval = 10 * time.Millisecond

type holder struct {
	owner     uuid.UUID
	expiresAt time.Time
}

type Locker struct {
	mu    sync.Mutex
	held  map[string]holder
	clock func() time.Time
}

var _ ports.Locker = (*Locker)(nil)

func NewLocker() *Locker {
	return &Locker{
		held:  make(map[string]holder),
		clock: time.Now,
	}
}

func (l *Locker) Acquire(ctx context.Context, key string, timeout, lease time.Duration) (ports.Lock, error) {
	owner := uuid.New()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if l.tryAcquire(key, owner, lease) {
			return &lock{locker: l, key: key, owner: owner}, nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return nil, domain.ErrLockNotAcquired
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Locker) tryAcquire(key string, owner uuid.UUID, lease time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if h, ok := l.held[key]; ok && now.Before(h.expiresAt) {
		return false
	}
	l.held[key] = holder{owner: owner, expiresAt: now.Add(lease)}
	return true
}

type lock struct {
	locker *Locker
	key    string
	owner  uuid.UUID
}

// Release frees the key unless the lease already lapsed and another owner
// took it over.
func (lk *lock) Release(ctx context.Context) error {
	l := lk.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[lk.key]; ok && h.owner == lk.owner {
		delete(l.held, lk.key)
	}
	return nil
}
