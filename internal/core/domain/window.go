package domain

import (
	"time"

	"github.com/google/uuid"
)

type WindowStatus string

const (
	WindowActive  WindowStatus = "active"
	WindowVoted   WindowStatus = "voted"
	WindowExpired WindowStatus = "expired"
)

// BallotWindow is the time-boxed permission to cast a ballot. There is at
// most one per (election, voter); an expired row is deleted rather than kept
// in the expired state, and a voted row never changes again.
type BallotWindow struct {
	ElectionID uuid.UUID    `json:"election_id"`
	VoterID    uuid.UUID    `json:"voter_id"`
	OpenedAt   time.Time    `json:"opened_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Status     WindowStatus `json:"status"`
	OriginAddr string       `json:"-"`
	UserAgent  string       `json:"-"`
}

func NewBallotWindow(electionID, voterID uuid.UUID, now time.Time, duration time.Duration, originAddr, userAgent string) *BallotWindow {
	openedAt := Timestamp(now)
	return &BallotWindow{
		ElectionID: electionID,
		VoterID:    voterID,
		OpenedAt:   openedAt,
		ExpiresAt:  openedAt.Add(duration),
		Status:     WindowActive,
		OriginAddr: originAddr,
		UserAgent:  userAgent,
	}
}

func (w *BallotWindow) IsExpired(now time.Time) bool {
	return w.Status == WindowActive && !now.Before(w.ExpiresAt)
}

func (w *BallotWindow) Remaining(now time.Time) time.Duration {
	if d := w.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Timestamp normalizes t to the precision kept by the database.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
