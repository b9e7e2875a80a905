package services_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	memlock "github.com/vncsmyrnk/urna/internal/adapters/lock/memory"
	"github.com/vncsmyrnk/urna/internal/adapters/repository/memory"
	"github.com/vncsmyrnk/urna/internal/adapters/signer"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
	"github.com/vncsmyrnk/urna/internal/core/services"
)

// t0 is the start of every test election; elections last one hour.
var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

const (
	voterAddr = "203.0.113.7"
	otherAddr = "198.51.100.20"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingNotifier struct {
	mu      sync.Mutex
	ballots []domain.Ballot
	err     error
}

func (n *recordingNotifier) BallotCast(ctx context.Context, ballot domain.Ballot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ballots = append(n.ballots, ballot)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ballots)
}

type fixture struct {
	clock    *fakeClock
	store    *memory.Store
	locker   *memlock.Locker
	signer   ports.TokenSigner
	notifier *recordingNotifier
	windows  ports.WindowService
	cast     ports.CastService

	electionID uuid.UUID
	voterID    uuid.UUID
}

type fixtureOption func(*services.CastDeps, *services.CastOptions)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	s, err := signer.NewHMACSigner([]byte("services-test-signing-key-0123456789"))
	require.NoError(t, err)

	f := &fixture{
		clock:      &fakeClock{now: t0},
		store:      memory.NewStore(),
		locker:     memlock.NewLocker(),
		signer:     s,
		notifier:   &recordingNotifier{},
		electionID: uuid.New(),
		voterID:    uuid.New(),
	}

	f.store.PutElection(domain.Election{
		ID:       f.electionID,
		Title:    "Board election",
		Status:   domain.ElectionActive,
		StartsAt: t0,
		EndsAt:   t0.Add(time.Hour),
		Questions: []domain.Question{
			{ID: "president", Type: domain.QuestionChoice, Required: true, Options: []string{"alice", "bob"}},
			{ID: "treasurer", Type: domain.QuestionChoice, Required: true, AllowBlank: true, Options: []string{"carol", "dave"}},
			{ID: "comment", Type: domain.QuestionText},
		},
	})
	f.store.Register(f.electionID, f.voterID)

	f.windows = services.NewWindowService(f.store, f.store, services.WindowOptions{
		Duration:          5 * time.Minute,
		WarningThreshold:  time.Minute,
		CriticalThreshold: 30 * time.Second,
		VerifyOrigin:      true,
		Clock:             f.clock.Now,
	}, discardLogger())

	deps := services.CastDeps{
		Elections: f.store,
		Windows:   f.store,
		Ballots:   f.store,
		Store:     f.store,
		Locker:    f.locker,
		Signer:    f.signer,
		Notifier:  f.notifier,
	}
	castOpts := services.CastOptions{
		LockTimeout:      200 * time.Millisecond,
		LockLease:        time.Second,
		BusyRecheckDelay: 10 * time.Millisecond,
		LockFallback:     true,
		RetryAttempts:    3,
		VerifyOrigin:     true,
		Clock:            f.clock.Now,
	}
	for _, o := range opts {
		o(&deps, &castOpts)
	}
	f.cast = services.NewCastService(deps, castOpts, discardLogger())
	return f
}

func (f *fixture) windowInput() ports.OpenWindowInput {
	return ports.OpenWindowInput{
		ElectionID: f.electionID,
		VoterID:    f.voterID,
		OriginAddr: voterAddr,
		UserAgent:  "test-agent",
	}
}

func (f *fixture) castInput(answers domain.Answers) ports.CastInput {
	return ports.CastInput{
		ElectionID: f.electionID,
		VoterID:    f.voterID,
		Answers:    answers,
		OriginAddr: voterAddr,
		UserAgent:  "test-agent",
	}
}

func validAnswers() domain.Answers {
	return domain.Answers{"president": "alice", "treasurer": ""}
}

// brokenLocker reports its backend as unreachable.
type brokenLocker struct{}

func (brokenLocker) Acquire(ctx context.Context, key string, timeout, lease time.Duration) (ports.Lock, error) {
	return nil, fmt.Errorf("%w: dial tcp: connection refused", domain.ErrLockUnavailable)
}

// flakyStore fails the first failures calls with a transient error.
type flakyStore struct {
	ports.CastStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) WithVoterLock(ctx context.Context, electionID, voterID uuid.UUID, fn func(tx ports.CastTx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return domain.ErrTransient
	}
	return s.CastStore.WithVoterLock(ctx, electionID, voterID, fn)
}
