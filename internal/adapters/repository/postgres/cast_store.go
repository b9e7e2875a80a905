package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

const defaultRowLockWait = 3 * time.Second

type castStore struct {
	db          *sql.DB
	rowLockWait time.Duration
}

// NewCastStore returns a ports.CastStore whose transactions wait at most
// rowLockWait for the voter's window row; a zero value uses three seconds.
// The wait is shortened to fit the context deadline.
func NewCastStore(db *sql.DB, rowLockWait time.Duration) ports.CastStore {
	if rowLockWait <= 0 {
		rowLockWait = defaultRowLockWait
	}
	return &castStore{
		db:          db,
		rowLockWait: rowLockWait,
	}
}

func (s *castStore) WithVoterLock(ctx context.Context, electionID, voterID uuid.UUID, fn func(tx ports.CastTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	lockTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait(ctx).Milliseconds())
	if _, err := tx.ExecContext(ctx, lockTimeout); err != nil {
		return storageErr("failed to set lock timeout", err)
	}

	query := `
		SELECT ` + windowColumns + `
		FROM ballot_windows
		WHERE election_id = $1 AND voter_id = $2
		FOR UPDATE
	`
	window, err := scanWindow(tx.QueryRowContext(ctx, query, electionID, voterID))
	if err != nil && !errors.Is(err, domain.ErrWindowNotFound) {
		return err
	}

	if err := fn(&castTx{tx: tx, electionID: electionID, voterID: voterID, window: window}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit transaction", err)
	}
	return nil
}

func (s *castStore) lockWait(ctx context.Context) time.Duration {
	wait := s.rowLockWait
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < wait {
			wait = max(left, time.Millisecond)
		}
	}
	return wait
}

type castTx struct {
	tx         *sql.Tx
	electionID uuid.UUID
	voterID    uuid.UUID
	window     *domain.BallotWindow
}

func (c *castTx) Window(ctx context.Context) (*domain.BallotWindow, error) {
	if c.window == nil {
		return nil, domain.ErrWindowNotFound
	}
	w := *c.window
	return &w, nil
}

func (c *castTx) Ballot(ctx context.Context) (*domain.Ballot, error) {
	query := `SELECT ` + ballotColumns + ` FROM ballots WHERE election_id = $1 AND voter_id = $2`
	return scanBallot(c.tx.QueryRowContext(ctx, query, c.electionID, c.voterID))
}

func (c *castTx) InsertBallot(ctx context.Context, ballot *domain.Ballot) error {
	return insertBallot(ctx, c.tx, ballot)
}

func (c *castTx) MarkVoted(ctx context.Context) error {
	query := `
		UPDATE ballot_windows SET status = 'voted'
		WHERE election_id = $1 AND voter_id = $2 AND status = 'active'
	`
	res, err := c.tx.ExecContext(ctx, query, c.electionID, c.voterID)
	if err != nil {
		return storageErr("failed to close ballot window", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("failed to close ballot window", err)
	}
	if n == 0 {
		return domain.ErrAlreadyCast
	}
	return nil
}
