package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
)

type BallotRepository interface {
	// GetByVoter returns domain.ErrBallotNotFound when the voter has not cast.
	GetByVoter(ctx context.Context, electionID, voterID uuid.UUID) (*domain.Ballot, error)
	ListByElection(ctx context.Context, electionID uuid.UUID) ([]*domain.Ballot, error)
}

// CastStore serializes casts of a single voter. WithVoterLock runs fn inside
// a transaction holding an exclusive lock on the voter's window row; the
// transaction commits when fn returns nil and rolls back otherwise.
type CastStore interface {
	WithVoterLock(ctx context.Context, electionID, voterID uuid.UUID, fn func(tx CastTx) error) error
}

// CastTx is the view of the stores available while the voter row is locked.
type CastTx interface {
	Window(ctx context.Context) (*domain.BallotWindow, error)
	Ballot(ctx context.Context) (*domain.Ballot, error)
	// InsertBallot returns domain.ErrDuplicateBallot on a uniqueness violation.
	InsertBallot(ctx context.Context, ballot *domain.Ballot) error
	MarkVoted(ctx context.Context) error
}

type TokenSigner interface {
	Sign(electionID uuid.UUID, answers domain.Answers, castAt, windowOpenedAt time.Time) (string, error)
	Verify(token string, electionID uuid.UUID, answers domain.Answers, castAt, windowOpenedAt time.Time) bool
}

type CastInput struct {
	ElectionID uuid.UUID
	VoterID    uuid.UUID
	Answers    domain.Answers
	OriginAddr string
	UserAgent  string
}

type CastService interface {
	Cast(ctx context.Context, input CastInput) (*domain.Ballot, error)
	Receipt(ctx context.Context, electionID, voterID uuid.UUID) (*domain.Ballot, error)
	// Wait blocks until background work started by Cast has finished.
	Wait()
}

type AuditReport struct {
	ElectionID uuid.UUID
	Checked    int
	Invalid    []uuid.UUID
}

type AuditService interface {
	VerifyElection(ctx context.Context, electionID uuid.UUID) (*AuditReport, error)
}
