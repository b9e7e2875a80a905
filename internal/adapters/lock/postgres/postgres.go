// Package postgres implements a leased lock on the cast_locks table, so every
// server instance sharing the database also shares the lock.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

const (
	defaultPollInterval = 50 * time.Millisecond

	// acquireQuery takes the key when it is free or when the previous
	// holder's lease ran out.
	acquireQuery = `
		INSERT INTO cast_locks (key, owner, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE cast_locks.expires_at <= NOW()
	`
	releaseQuery = `DELETE FROM cast_locks WHERE key = $1 AND owner = $2`
)

type locker struct {
	db           *sql.DB
	pollInterval time.Duration
}

func NewLocker(db *sql.DB) ports.Locker {
	return &locker{
		db:           db,
		pollInterval: defaultPollInterval,
	}
}

func (l *locker) Acquire(parent context.Context, key string, timeout, lease time.Duration) (ports.Lock, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// Once the wait is over the caller's own cancellation takes precedence
	// over reporting contention.
	gaveUp := func() error {
		if err := parent.Err(); err != nil {
			return err
		}
		return domain.ErrLockNotAcquired
	}

	owner := uuid.New()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.tryAcquire(ctx, key, owner, lease)
		if err != nil {
			if ctx.Err() != nil {
				return nil, gaveUp()
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrLockUnavailable, err)
		}
		if ok {
			return &lock{db: l.db, key: key, owner: owner}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, gaveUp()
		}
	}
}

func (l *locker) tryAcquire(ctx context.Context, key string, owner uuid.UUID, lease time.Duration) (bool, error) {
	res, err := l.db.ExecContext(ctx, acquireQuery, key, owner, lease.Seconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type lock struct {
	db    *sql.DB
	key   string
	owner uuid.UUID
}

func (lk *lock) Release(ctx context.Context) error {
	if _, err := lk.db.ExecContext(ctx, releaseQuery, lk.key, lk.owner); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lk.key, err)
	}
	return nil
}
