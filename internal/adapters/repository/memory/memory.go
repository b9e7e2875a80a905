// Package memory keeps elections, windows and ballots in process memory. It
// honours the same contracts as the postgres adapter, including the per-voter
// row lock, and backs the service tests and STORAGE=memory.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

type voterKey struct {
	electionID uuid.UUID
	voterID    uuid.UUID
}

type Store struct {
	mu         sync.Mutex
	elections  map[uuid.UUID]domain.Election
	registered map[voterKey]struct{}
	windows    map[voterKey]domain.BallotWindow
	ballots    map[voterKey]domain.Ballot
	rows       map[voterKey]chan struct{}
}

var (
	_ ports.ElectionRepository = (*Store)(nil)
	_ ports.WindowRepository   = (*Store)(nil)
	_ ports.BallotRepository   = (*Store)(nil)
	_ ports.CastStore          = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		elections:  make(map[uuid.UUID]domain.Election),
		registered: make(map[voterKey]struct{}),
		windows:    make(map[voterKey]domain.BallotWindow),
		ballots:    make(map[voterKey]domain.Ballot),
		rows:       make(map[voterKey]chan struct{}),
	}
}

// PutElection inserts or replaces an election.
func (s *Store) PutElection(e domain.Election) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Questions = append([]domain.Question(nil), e.Questions...)
	s.elections[e.ID] = e
}

// Register allows voterID to open windows in electionID.
func (s *Store) Register(electionID, voterID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[voterKey{electionID, voterID}] = struct{}{}
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Election, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok {
		return nil, domain.ErrElectionNotFound
	}
	e.Questions = append([]domain.Question(nil), e.Questions...)
	return &e, nil
}

func (s *Store) IsRegistered(ctx context.Context, electionID, voterID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registered[voterKey{electionID, voterID}]
	return ok, nil
}

func (s *Store) Get(ctx context.Context, electionID, voterID uuid.UUID) (*domain.BallotWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[voterKey{electionID, voterID}]
	if !ok {
		return nil, domain.ErrWindowNotFound
	}
	return &w, nil
}

func (s *Store) Create(ctx context.Context, window *domain.BallotWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := voterKey{window.ElectionID, window.VoterID}
	if _, ok := s.windows[k]; ok {
		return domain.ErrWindowExists
	}
	s.windows[k] = *window
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, electionID, voterID uuid.UUID, now time.Time) (bool, error) {
	return s.deleteWindow(ctx, voterKey{electionID, voterID}, func(w domain.BallotWindow) bool {
		return w.IsExpired(now)
	})
}

func (s *Store) DeleteActive(ctx context.Context, electionID, voterID uuid.UUID) (bool, error) {
	return s.deleteWindow(ctx, voterKey{electionID, voterID}, func(w domain.BallotWindow) bool {
		return w.Status == domain.WindowActive
	})
}

// deleteWindow waits for the voter row like a DELETE waits for a row locked
// FOR UPDATE.
func (s *Store) deleteWindow(ctx context.Context, k voterKey, match func(domain.BallotWindow) bool) (bool, error) {
	unlock, err := s.lockRow(ctx, k)
	if err != nil {
		return false, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[k]
	if !ok || !match(w) {
		return false, nil
	}
	delete(s.windows, k)
	return true, nil
}

func (s *Store) GetByVoter(ctx context.Context, electionID, voterID uuid.UUID) (*domain.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.ballots[voterKey{electionID, voterID}]
	if !ok {
		return nil, domain.ErrBallotNotFound
	}
	return copyBallot(b), nil
}

func (s *Store) ListByElection(ctx context.Context, electionID uuid.UUID) ([]*domain.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ballots []*domain.Ballot
	for k, b := range s.ballots {
		if k.electionID == electionID {
			ballots = append(ballots, copyBallot(b))
		}
	}
	sort.Slice(ballots, func(i, j int) bool {
		return ballots[i].CreatedAt.Before(ballots[j].CreatedAt)
	})
	return ballots, nil
}

func (s *Store) WithVoterLock(ctx context.Context, electionID, voterID uuid.UUID, fn func(tx ports.CastTx) error) error {
	k := voterKey{electionID, voterID}
	unlock, err := s.lockRow(ctx, k)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &castTx{store: s, key: k}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *Store) lockRow(ctx context.Context, k voterKey) (func(), error) {
	s.mu.Lock()
	row, ok := s.rows[k]
	if !ok {
		row = make(chan struct{}, 1)
		s.rows[k] = row
	}
	s.mu.Unlock()

	select {
	case row <- struct{}{}:
		return func() { <-row }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// castTx stages writes and applies them together on commit.
type castTx struct {
	store  *Store
	key    voterKey
	ballot *domain.Ballot
	voted  bool
}

func (tx *castTx) Window(ctx context.Context) (*domain.BallotWindow, error) {
	return tx.store.Get(ctx, tx.key.electionID, tx.key.voterID)
}

func (tx *castTx) Ballot(ctx context.Context) (*domain.Ballot, error) {
	if tx.ballot != nil {
		return copyBallot(*tx.ballot), nil
	}
	return tx.store.GetByVoter(ctx, tx.key.electionID, tx.key.voterID)
}

func (tx *castTx) InsertBallot(ctx context.Context, ballot *domain.Ballot) error {
	if _, err := tx.Ballot(ctx); err == nil {
		return domain.ErrDuplicateBallot
	}
	tx.ballot = copyBallot(*ballot)
	return nil
}

func (tx *castTx) MarkVoted(ctx context.Context) error {
	w, err := tx.Window(ctx)
	if err != nil {
		return err
	}
	if w.Status != domain.WindowActive {
		return domain.ErrAlreadyCast
	}
	tx.voted = true
	return nil
}

func (tx *castTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ballot != nil {
		if _, ok := s.ballots[tx.key]; ok {
			return domain.ErrDuplicateBallot
		}
	}
	if tx.voted {
		w, ok := s.windows[tx.key]
		if !ok {
			return domain.ErrWindowNotFound
		}
		w.Status = domain.WindowVoted
		s.windows[tx.key] = w
	}
	if tx.ballot != nil {
		s.ballots[tx.key] = *tx.ballot
	}
	return nil
}

func copyBallot(b domain.Ballot) *domain.Ballot {
	b.Answers = maps.Clone(b.Answers)
	return &b
}
