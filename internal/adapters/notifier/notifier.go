// Package notifier holds the gateways told about committed ballots. Delivery
// to voters (mail, messaging) happens outside this service.
package notifier

import (
	"context"
	"log/slog"

	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

type logNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a notifier that records a receipt event for every
// cast ballot.
func NewLogNotifier(logger *slog.Logger) ports.Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &logNotifier{log: logger}
}

func (n *logNotifier) BallotCast(ctx context.Context, ballot domain.Ballot) error {
	n.log.InfoContext(ctx, "ballot receipt",
		"ballot_id", ballot.ID,
		"election_id", ballot.ElectionID,
		"voter_id", ballot.VoterID,
		"token_preview", ballot.TokenPreview(),
		"cast_at", ballot.CreatedAt,
	)
	return nil
}
