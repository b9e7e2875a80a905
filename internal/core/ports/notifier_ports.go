package ports

import (
	"context"

	"github.com/vncsmyrnk/urna/internal/core/domain"
)

// Notifier is informed after a ballot was committed. Delivery is best effort.
type Notifier interface {
	BallotCast(ctx context.Context, ballot domain.Ballot) error
}
