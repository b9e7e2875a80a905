package services

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

type auditService struct {
	electionRepo ports.ElectionRepository
	ballotRepo   ports.BallotRepository
	signer       ports.TokenSigner
}

// NewAuditService returns a service that re-verifies stored ballot tokens
// against their rows. It only needs the signing key, not the running server.
func NewAuditService(electionRepo ports.ElectionRepository, ballotRepo ports.BallotRepository, signer ports.TokenSigner) ports.AuditService {
	return &auditService{
		electionRepo: electionRepo,
		ballotRepo:   ballotRepo,
		signer:       signer,
	}
}

func (s *auditService) VerifyElection(ctx context.Context, electionID uuid.UUID) (*ports.AuditReport, error) {
	if _, err := s.electionRepo.GetByID(ctx, electionID); err != nil {
		return nil, err
	}

	ballots, err := s.ballotRepo.ListByElection(ctx, electionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ballots of election %s: %w", electionID, err)
	}

	report := &ports.AuditReport{ElectionID: electionID, Checked: len(ballots)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, b := range ballots {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if s.signer.Verify(b.Token, b.ElectionID, b.Answers, b.CreatedAt, b.WindowOpenedAt) {
				return nil
			}
			mu.Lock()
			report.Invalid = append(report.Invalid, b.ID)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return report, nil
}
