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

const ballotColumns = `id, election_id, voter_id, token, window_opened_at, answers, origin_addr, user_agent, created_at`

type ballotRepository struct {
	db *sql.DB
}

func NewBallotRepository(db *sql.DB) ports.BallotRepository {
	return &ballotRepository{
		db: db,
	}
}

func (r *ballotRepository) GetByVoter(ctx context.Context, electionID, voterID uuid.UUID) (*domain.Ballot, error) {
	query := `SELECT ` + ballotColumns + ` FROM ballots WHERE election_id = $1 AND voter_id = $2`
	return scanBallot(r.db.QueryRowContext(ctx, query, electionID, voterID))
}

func (r *ballotRepository) ListByElection(ctx context.Context, electionID uuid.UUID) ([]*domain.Ballot, error) {
	query := `SELECT ` + ballotColumns + ` FROM ballots WHERE election_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, electionID)
	if err != nil {
		return nil, storageErr("failed to list ballots", err)
	}
	defer rows.Close()

	var ballots []*domain.Ballot
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, err
		}
		ballots = append(ballots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ballots: %w", err)
	}
	return ballots, nil
}

func insertBallot(ctx context.Context, tx *sql.Tx, b *domain.Ballot) error {
	answers, err := json.Marshal(b.Answers)
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}

	query := `
		INSERT INTO ballots (` + ballotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, query,
		b.ID, b.ElectionID, b.VoterID, b.Token, b.WindowOpenedAt, answers, b.OriginAddr, b.UserAgent, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateBallot
		}
		return storageErr("failed to save ballot", err)
	}
	return nil
}

func scanBallot(row rowScanner) (*domain.Ballot, error) {
	var (
		b       domain.Ballot
		answers []byte
	)
	err := row.Scan(&b.ID, &b.ElectionID, &b.VoterID, &b.Token, &b.WindowOpenedAt, &answers, &b.OriginAddr, &b.UserAgent, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBallotNotFound
		}
		return nil, storageErr("failed to get ballot", err)
	}
	if err := json.Unmarshal(answers, &b.Answers); err != nil {
		return nil, fmt.Errorf("failed to decode answers of ballot %s: %w", b.ID, err)
	}
	b.WindowOpenedAt = domain.Timestamp(b.WindowOpenedAt)
	b.CreatedAt = domain.Timestamp(b.CreatedAt)
	return &b, nil
}
