package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

type electionRepository struct {
	db *sql.DB
}

func NewElectionRepository(db *sql.DB) ports.ElectionRepository {
	return &electionRepository{
		db: db,
	}
}

func (r *electionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Election, error) {
	query := `
		SELECT id, title, status, starts_at, ends_at, questions
		FROM elections
		WHERE id = $1
	`

	var (
		election  domain.Election
		questions []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&election.ID, &election.Title, &election.Status, &election.StartsAt, &election.EndsAt, &questions,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrElectionNotFound
		}
		return nil, storageErr("failed to get election", err)
	}

	if err := json.Unmarshal(questions, &election.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions of election %s: %w", id, err)
	}
	return &election, nil
}

func (r *electionRepository) IsRegistered(ctx context.Context, electionID, voterID uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM election_voters WHERE election_id = $1 AND voter_id = $2 LIMIT 1`
	var exists int
	err := r.db.QueryRowContext(ctx, query, electionID, voterID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storageErr("failed to check voter registration", err)
	}
	return true, nil
}
