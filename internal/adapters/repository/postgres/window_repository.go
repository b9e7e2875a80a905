package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

const windowColumns = `election_id, voter_id, opened_at, expires_at, status, origin_addr, user_agent`

type windowRepository struct {
	db *sql.DB
}

func NewWindowRepository(db *sql.DB) ports.WindowRepository {
	return &windowRepository{
		db: db,
	}
}

func (r *windowRepository) Get(ctx context.Context, electionID, voterID uuid.UUID) (*domain.BallotWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM ballot_windows WHERE election_id = $1 AND voter_id = $2`
	return scanWindow(r.db.QueryRowContext(ctx, query, electionID, voterID))
}

func (r *windowRepository) Create(ctx context.Context, w *domain.BallotWindow) error {
	query := `
		INSERT INTO ballot_windows (` + windowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		w.ElectionID, w.VoterID, w.OpenedAt, w.ExpiresAt, w.Status, w.OriginAddr, w.UserAgent,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrWindowExists
		}
		return storageErr("failed to create ballot window", err)
	}
	return nil
}

func (r *windowRepository) DeleteExpired(ctx context.Context, electionID, voterID uuid.UUID, now time.Time) (bool, error) {
	query := `
		DELETE FROM ballot_windows
		WHERE election_id = $1 AND voter_id = $2 AND status = 'active' AND expires_at <= $3
	`
	return r.delete(ctx, query, electionID, voterID, now)
}

func (r *windowRepository) DeleteActive(ctx context.Context, electionID, voterID uuid.UUID) (bool, error) {
	query := `
		DELETE FROM ballot_windows
		WHERE election_id = $1 AND voter_id = $2 AND status = 'active'
	`
	return r.delete(ctx, query, electionID, voterID)
}

func (r *windowRepository) delete(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, storageErr("failed to delete ballot window", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("failed to delete ballot window", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWindow(row rowScanner) (*domain.BallotWindow, error) {
	var w domain.BallotWindow
	err := row.Scan(&w.ElectionID, &w.VoterID, &w.OpenedAt, &w.ExpiresAt, &w.Status, &w.OriginAddr, &w.UserAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWindowNotFound
		}
		return nil, storageErr("failed to get ballot window", err)
	}
	w.OpenedAt = domain.Timestamp(w.OpenedAt)
	w.ExpiresAt = domain.Timestamp(w.ExpiresAt)
	return &w, nil
}
