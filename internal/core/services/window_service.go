package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

type WindowOptions struct {
	// Duration is how long a freshly opened window stays usable.
	Duration time.Duration
	// WarningThreshold and CriticalThreshold are handed to clients for their
	// countdown display.
	WarningThreshold  time.Duration
	CriticalThreshold time.Duration
	// VerifyOrigin rejects a resumed window when the request comes from a
	// different address than the one that opened it.
	VerifyOrigin bool
	Clock        func() time.Time
}

func (o *WindowOptions) setDefaults() {
	if o.Duration <= 0 {
		o.Duration = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type windowService struct {
	electionRepo ports.ElectionRepository
	windowRepo   ports.WindowRepository
	opts         WindowOptions
	log          *slog.Logger
}

func NewWindowService(electionRepo ports.ElectionRepository, windowRepo ports.WindowRepository, opts WindowOptions, logger *slog.Logger) ports.WindowService {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &windowService{
		electionRepo: electionRepo,
		windowRepo:   windowRepo,
		opts:         opts,
		log:          logger,
	}
}

func (s *windowService) Open(ctx context.Context, input ports.OpenWindowInput) (*ports.OpenedWindow, error) {
	now := s.opts.Clock()
	election, err := s.registeredElection(ctx, input)
	if err != nil {
		return nil, err
	}

	window, err := s.windowRepo.Get(ctx, input.ElectionID, input.VoterID)
	if errors.Is(err, domain.ErrWindowNotFound) {
		if !election.AcceptsOpen(now) {
			return nil, domain.ErrElectionNotOpen
		}
		return s.opened(s.create(ctx, input, now))
	}
	if err != nil {
		return nil, err
	}

	// A window opened before the election ended is resumed for as long as
	// it may still be used to cast.
	if !election.AcceptsOpen(now) && !election.AcceptsCast(now, window) {
		return nil, domain.ErrElectionNotOpen
	}
	if err := s.checkResumable(ctx, window, input.OriginAddr, now); err != nil {
		return nil, err
	}
	return s.opened(window, nil)
}

func (s *windowService) Reset(ctx context.Context, input ports.OpenWindowInput) (*ports.OpenedWindow, error) {
	now := s.opts.Clock()
	if err := s.checkEligible(ctx, input, now); err != nil {
		return nil, err
	}

	window, err := s.windowRepo.Get(ctx, input.ElectionID, input.VoterID)
	switch {
	case errors.Is(err, domain.ErrWindowNotFound):
	case err != nil:
		return nil, err
	case window.Status == domain.WindowVoted:
		return nil, domain.ErrAlreadyCast
	default:
		deleted, err := s.windowRepo.DeleteActive(ctx, input.ElectionID, input.VoterID)
		if err != nil {
			return nil, err
		}
		if !deleted {
			// The row left the active state in between: either a cast
			// committed or a concurrent request removed it.
			current, err := s.windowRepo.Get(ctx, input.ElectionID, input.VoterID)
			switch {
			case errors.Is(err, domain.ErrWindowNotFound):
				return s.opened(s.create(ctx, input, now))
			case err != nil:
				return nil, err
			case current.Status == domain.WindowVoted:
				return nil, domain.ErrAlreadyCast
			default:
				return nil, domain.ErrBusy
			}
		}
		s.log.Info("ballot window reset",
			"election_id", input.ElectionID,
			"voter_id", input.VoterID,
			"origin", input.OriginAddr,
			"previous_origin", window.OriginAddr,
		)
	}

	return s.opened(s.create(ctx, input, now))
}

func (s *windowService) Status(ctx context.Context, electionID, voterID uuid.UUID) (*ports.WindowState, error) {
	now := s.opts.Clock()
	state := &ports.WindowState{
		Status:          ports.WindowNone,
		WarningSeconds:  int64(s.opts.WarningThreshold / time.Second),
		CriticalSeconds: int64(s.opts.CriticalThreshold / time.Second),
	}

	window, err := s.windowRepo.Get(ctx, electionID, voterID)
	if errors.Is(err, domain.ErrWindowNotFound) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}

	state.Status = window.Status
	state.OpenedAt = &window.OpenedAt
	state.ExpiresAt = &window.ExpiresAt

	if window.IsExpired(now) {
		if _, err := s.windowRepo.DeleteExpired(ctx, electionID, voterID, now); err != nil {
			return nil, err
		}
		state.Status = domain.WindowExpired
		return state, nil
	}
	if window.Status == domain.WindowActive {
		state.RemainingSeconds = int64(window.Remaining(now) / time.Second)
	}
	return state, nil
}

func (s *windowService) checkEligible(ctx context.Context, input ports.OpenWindowInput, now time.Time) error {
	election, err := s.registeredElection(ctx, input)
	if err != nil {
		return err
	}
	if !election.AcceptsOpen(now) {
		return domain.ErrElectionNotOpen
	}
	return nil
}

func (s *windowService) registeredElection(ctx context.Context, input ports.OpenWindowInput) (*domain.Election, error) {
	election, err := s.electionRepo.GetByID(ctx, input.ElectionID)
	if err != nil {
		return nil, err
	}

	registered, err := s.electionRepo.IsRegistered(ctx, input.ElectionID, input.VoterID)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, domain.ErrNotRegistered
	}
	return election, nil
}

// opened attaches the remaining time at the service clock.
func (s *windowService) opened(window *domain.BallotWindow, err error) (*ports.OpenedWindow, error) {
	if err != nil {
		return nil, err
	}
	return &ports.OpenedWindow{
		BallotWindow:     window,
		RemainingSeconds: int64(window.Remaining(s.opts.Clock()) / time.Second),
	}, nil
}

func (s *windowService) create(ctx context.Context, input ports.OpenWindowInput, now time.Time) (*domain.BallotWindow, error) {
	window := domain.NewBallotWindow(input.ElectionID, input.VoterID, now, s.opts.Duration, input.OriginAddr, input.UserAgent)

	err := s.windowRepo.Create(ctx, window)
	if errors.Is(err, domain.ErrWindowExists) {
		// A concurrent request for the same voter inserted first.
		existing, err := s.windowRepo.Get(ctx, input.ElectionID, input.VoterID)
		if err != nil {
			return nil, err
		}
		if err := s.checkResumable(ctx, existing, input.OriginAddr, now); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.Debug("ballot window opened",
		"election_id", window.ElectionID,
		"voter_id", window.VoterID,
		"expires_at", window.ExpiresAt,
	)
	return window, nil
}

func (s *windowService) checkResumable(ctx context.Context, window *domain.BallotWindow, originAddr string, now time.Time) error {
	return checkWindow(ctx, s.windowRepo, s.log, window, originAddr, s.opts.VerifyOrigin, now)
}

// checkWindow applies the rules shared by opening and casting: a voted
// window is final, an expired one is removed so it can be reopened, and an
// active one may only be used from the address that opened it.
func checkWindow(ctx context.Context, repo ports.WindowRepository, logger *slog.Logger, window *domain.BallotWindow, originAddr string, verifyOrigin bool, now time.Time) error {
	if window.Status == domain.WindowVoted {
		return domain.ErrAlreadyCast
	}

	if window.IsExpired(now) {
		if _, err := repo.DeleteExpired(ctx, window.ElectionID, window.VoterID, now); err != nil {
			return err
		}
		return domain.ErrWindowExpired
	}

	if verifyOrigin && window.OriginAddr != originAddr {
		logger.Warn("ballot window origin mismatch",
			"election_id", window.ElectionID,
			"voter_id", window.VoterID,
			"window_origin", window.OriginAddr,
			"request_origin", originAddr,
		)
		return domain.ErrSessionOriginMismatch
	}
	return nil
}
