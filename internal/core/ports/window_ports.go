package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
)

type WindowRepository interface {
	// Get returns domain.ErrWindowNotFound when the voter has no window.
	Get(ctx context.Context, electionID, voterID uuid.UUID) (*domain.BallotWindow, error)
	// Create returns domain.ErrWindowExists when a row is already present.
	Create(ctx context.Context, window *domain.BallotWindow) error
	// DeleteExpired removes the window only while it is active and expired
	// at now. It reports whether a row was removed.
	DeleteExpired(ctx context.Context, electionID, voterID uuid.UUID, now time.Time) (bool, error)
	// DeleteActive removes an active window regardless of its deadline.
	DeleteActive(ctx context.Context, electionID, voterID uuid.UUID) (bool, error)
}

type OpenWindowInput struct {
	ElectionID uuid.UUID
	VoterID    uuid.UUID
	OriginAddr string
	UserAgent  string
}

// OpenedWindow is the window returned by Open and Reset along with the time
// left on it when it was returned.
type OpenedWindow struct {
	*domain.BallotWindow
	RemainingSeconds int64
}

type WindowState struct {
	Status           domain.WindowStatus `json:"status"`
	OpenedAt         *time.Time          `json:"opened_at,omitempty"`
	ExpiresAt        *time.Time          `json:"expires_at,omitempty"`
	RemainingSeconds int64               `json:"remaining_seconds"`
	WarningSeconds   int64               `json:"warning_seconds"`
	CriticalSeconds  int64               `json:"critical_seconds"`
}

// WindowNone is reported by Status when the voter has never opened a window
// or the previous one was removed.
const WindowNone domain.WindowStatus = "none"

type WindowService interface {
	Open(ctx context.Context, input OpenWindowInput) (*OpenedWindow, error)
	Reset(ctx context.Context, input OpenWindowInput) (*OpenedWindow, error)
	Status(ctx context.Context, electionID, voterID uuid.UUID) (*WindowState, error)
}
