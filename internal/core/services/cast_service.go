package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

type CastOptions struct {
	// LockTimeout bounds the wait for the per-voter lock and LockLease is how
	// long the lock survives a crashed holder.
	LockTimeout time.Duration
	LockLease   time.Duration
	// BusyRecheckDelay is the pause before re-reading the ballot when the
	// lock is held by another request.
	BusyRecheckDelay time.Duration
	// LockFallback lets a cast proceed on the database row lock alone when
	// the lock backend cannot be reached.
	LockFallback  bool
	RetryAttempts int
	// TxTimeout bounds a cast from the lock request to the commit, lock
	// waits and retries included.
	TxTimeout     time.Duration
	NotifyTimeout time.Duration
	VerifyOrigin  bool
	Clock         func() time.Time
}

func (o *CastOptions) setDefaults() {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 3 * time.Second
	}
	if o.LockLease <= 0 {
		o.LockLease = 10 * time.Second
	}
	if o.BusyRecheckDelay <= 0 {
		o.BusyRecheckDelay = 250 * time.Millisecond
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.TxTimeout <= 0 {
		o.TxTimeout = 5 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type CastDeps struct {
	Elections ports.ElectionRepository
	Windows   ports.WindowRepository
	Ballots   ports.BallotRepository
	Store     ports.CastStore
	Locker    ports.Locker
	Signer    ports.TokenSigner
	Notifier  ports.Notifier
}

// castService records at most one ballot per voter and election. Requests
// for the same voter are serialized by an external lock and by a row lock
// taken inside the storing transaction; the unique constraint on ballots
// backs both.
type castService struct {
	deps CastDeps
	opts CastOptions
	log  *slog.Logger

	pending sync.WaitGroup
}

func NewCastService(deps CastDeps, opts CastOptions, logger *slog.Logger) ports.CastService {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &castService{
		deps: deps,
		opts: opts,
		log:  logger,
	}
}

func (s *castService) Cast(ctx context.Context, input ports.CastInput) (*domain.Ballot, error) {
	election, err := s.deps.Elections.GetByID(ctx, input.ElectionID)
	if err != nil {
		return nil, err
	}
	if err := election.ValidateAnswers(input.Answers); err != nil {
		return nil, err
	}

	window, err := s.deps.Windows.Get(ctx, input.ElectionID, input.VoterID)
	if errors.Is(err, domain.ErrWindowNotFound) {
		if ballot, err := s.deps.Ballots.GetByVoter(ctx, input.ElectionID, input.VoterID); err == nil {
			return ballot, nil
		}
		return nil, domain.ErrWindowNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.opts.Clock()
	err = checkWindow(ctx, s.deps.Windows, s.log, window, input.OriginAddr, s.opts.VerifyOrigin, now)
	if errors.Is(err, domain.ErrAlreadyCast) {
		return s.existing(ctx, input)
	}
	if err != nil {
		return nil, err
	}
	if !election.AcceptsCast(now, window) {
		return nil, domain.ErrElectionNotOpen
	}

	ballot, created, err := s.castLocked(ctx, election, input)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("ballot cast",
			"election_id", ballot.ElectionID,
			"voter_id", ballot.VoterID,
			"ballot_id", ballot.ID,
		)
		s.notify(*ballot)
	}
	return ballot, nil
}

func (s *castService) Receipt(ctx context.Context, electionID, voterID uuid.UUID) (*domain.Ballot, error) {
	return s.deps.Ballots.GetByVoter(ctx, electionID, voterID)
}

// Wait blocks until every notification started so far has finished.
func (s *castService) Wait() {
	s.pending.Wait()
}

func (s *castService) castLocked(ctx context.Context, election *domain.Election, input ports.CastInput) (*domain.Ballot, bool, error) {
	key := castLockKey(input.ElectionID, input.VoterID)
	deadline := time.Now().Add(s.opts.TxTimeout)

	lock, err := s.deps.Locker.Acquire(ctx, key, min(s.opts.LockTimeout, s.opts.TxTimeout/2), s.opts.LockLease)
	switch {
	case err == nil:
		defer s.release(ctx, lock, key)
	case errors.Is(err, domain.ErrLockNotAcquired):
		ballot, err := s.convergeAfterContention(ctx, input)
		return ballot, false, err
	case errors.Is(err, domain.ErrLockUnavailable) && s.opts.LockFallback:
		s.log.Warn("cast lock unavailable, relying on row lock",
			"key", key,
			"error", err,
		)
	case errors.Is(err, domain.ErrLockUnavailable):
		s.log.Error("cast lock unavailable", "key", key, "error", err)
		return nil, false, domain.ErrBusy
	default:
		return nil, false, err
	}

	return s.commit(ctx, deadline, election, input)
}

// convergeAfterContention handles a lock held by another request for the
// same voter. That request is most likely storing a ballot, so the ballot is
// read once more before the caller is told to retry.
func (s *castService) convergeAfterContention(ctx context.Context, input ports.CastInput) (*domain.Ballot, error) {
	timer := time.NewTimer(s.opts.BusyRecheckDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return s.recheck(ctx, input)
}

// recheck reads the voter's ballot once after losing a lock race. The other
// request most likely stored it; if not, the caller is told to retry.
func (s *castService) recheck(ctx context.Context, input ports.CastInput) (*domain.Ballot, error) {
	ballot, err := s.deps.Ballots.GetByVoter(ctx, input.ElectionID, input.VoterID)
	if errors.Is(err, domain.ErrBallotNotFound) {
		return nil, domain.ErrBusy
	}
	if err != nil {
		return nil, err
	}
	return ballot, nil
}

// commit stores the ballot under the voter row lock. It runs on a context
// detached from the request, so a client going away after the lock was taken
// still ends in a commit or a rollback.
func (s *castService) commit(ctx context.Context, deadline time.Time, election *domain.Election, input ports.CastInput) (*domain.Ballot, bool, error) {
	txCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancel()

	var (
		ballot  *domain.Ballot
		created bool
	)
	op := func() error {
		ballot, created = nil, false
		err := s.deps.Store.WithVoterLock(txCtx, input.ElectionID, input.VoterID, func(tx ports.CastTx) error {
			existing, err := tx.Ballot(txCtx)
			if err == nil {
				ballot = existing
				return nil
			}
			if !errors.Is(err, domain.ErrBallotNotFound) {
				return err
			}

			window, err := tx.Window(txCtx)
			if err != nil {
				return err
			}
			now := s.opts.Clock()
			switch {
			case window.Status == domain.WindowVoted:
				return domain.ErrAlreadyCast
			case window.IsExpired(now):
				return domain.ErrWindowExpired
			case !election.AcceptsCast(now, window):
				return domain.ErrElectionNotOpen
			}

			b, err := s.newBallot(input, window, now)
			if err != nil {
				return err
			}
			if err := tx.InsertBallot(txCtx, b); err != nil {
				return err
			}
			if err := tx.MarkVoted(txCtx); err != nil {
				return err
			}
			ballot, created = b, true
			return nil
		})
		if errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrRowLockTimeout) {
			s.log.Debug("retrying cast after storage contention",
				"election_id", input.ElectionID,
				"voter_id", input.VoterID,
				"error", err,
			)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(s.backOff(), txCtx))
	switch {
	case err == nil:
		return ballot, created, nil
	case errors.Is(err, domain.ErrDuplicateBallot), errors.Is(err, domain.ErrAlreadyCast):
		existing, err := s.deps.Ballots.GetByVoter(txCtx, input.ElectionID, input.VoterID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case errors.Is(err, domain.ErrWindowExpired):
		if _, err := s.deps.Windows.DeleteExpired(txCtx, input.ElectionID, input.VoterID, s.opts.Clock()); err != nil {
			return nil, false, err
		}
		return nil, false, domain.ErrWindowExpired
	case errors.Is(err, domain.ErrRowLockTimeout), txCtx.Err() != nil:
		// The row stayed locked by another cast for the whole budget.
		s.log.Warn("cast gave up waiting for voter row",
			"election_id", input.ElectionID,
			"voter_id", input.VoterID,
			"error", err,
		)
		recheckCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		ballot, err := s.recheck(recheckCtx, input)
		return ballot, false, err
	case errors.Is(err, domain.ErrTransient):
		s.log.Error("cast failed after retries",
			"election_id", input.ElectionID,
			"voter_id", input.VoterID,
			"error", err,
		)
		return nil, false, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	default:
		return nil, false, err
	}
}

func (s *castService) newBallot(input ports.CastInput, window *domain.BallotWindow, now time.Time) (*domain.Ballot, error) {
	castAt := domain.Timestamp(now)
	token, err := s.deps.Signer.Sign(input.ElectionID, input.Answers, castAt, window.OpenedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ballot: %w", err)
	}

	return &domain.Ballot{
		ID:             uuid.New(),
		ElectionID:     input.ElectionID,
		VoterID:        input.VoterID,
		Token:          token,
		WindowOpenedAt: window.OpenedAt,
		Answers:        input.Answers,
		OriginAddr:     input.OriginAddr,
		UserAgent:      input.UserAgent,
		CreatedAt:      castAt,
	}, nil
}

func (s *castService) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(s.opts.RetryAttempts-1))
}

func (s *castService) existing(ctx context.Context, input ports.CastInput) (*domain.Ballot, error) {
	ballot, err := s.deps.Ballots.GetByVoter(ctx, input.ElectionID, input.VoterID)
	if errors.Is(err, domain.ErrBallotNotFound) {
		return nil, domain.ErrAlreadyCast
	}
	return ballot, err
}

func (s *castService) release(ctx context.Context, lock ports.Lock, key string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := lock.Release(releaseCtx); err != nil {
		s.log.Warn("failed to release cast lock", "key", key, "error", err)
	}
}

// notify hands the ballot to the notifier outside of the request. Failures
// are logged and never undo the cast.
func (s *castService) notify(ballot domain.Ballot) {
	if s.deps.Notifier == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("ballot notifier panicked", "ballot_id", ballot.ID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.NotifyTimeout)
		defer cancel()
		if err := s.deps.Notifier.BallotCast(ctx, ballot); err != nil {
			s.log.Error("ballot notification failed",
				"ballot_id", ballot.ID,
				"election_id", ballot.ElectionID,
				"error", err,
			)
		}
	}()
}

func castLockKey(electionID, voterID uuid.UUID) string {
	return "cast:" + electionID.String() + ":" + voterID.String()
}
