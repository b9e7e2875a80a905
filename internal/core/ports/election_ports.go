package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
)

type ElectionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Election, error)
	IsRegistered(ctx context.Context, electionID, voterID uuid.UUID) (bool, error)
}
