package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	pglock "github.com/vncsmyrnk/urna/internal/adapters/lock/postgres"
	"github.com/vncsmyrnk/urna/internal/adapters/repository/postgres"
	"github.com/vncsmyrnk/urna/internal/adapters/signer"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
	"github.com/vncsmyrnk/urna/internal/core/services"
)

func setupPostgresContainer(ctx context.Context) (testcontainers.Container, string, error) {
	pgContainer, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", err
	}
	return pgContainer, connStr, nil
}

func applyMigrations(db *sql.DB) error {
	dirPath := "migrations"

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "up.sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dirPath, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

type testApp struct {
	db      *sql.DB
	windows ports.WindowService
	cast    ports.CastService
	signer  ports.TokenSigner
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	container, dbURL, err := setupPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, applyMigrations(db))

	s, err := signer.NewHMACSigner([]byte("integration-test-signing-key-0123456789"))
	require.NoError(t, err)

	elections := postgres.NewElectionRepository(db)
	windows := postgres.NewWindowRepository(db)

	cast := services.NewCastService(services.CastDeps{
		Elections: elections,
		Windows:   windows,
		Ballots:   postgres.NewBallotRepository(db),
		Store:     postgres.NewCastStore(db, 0),
		Locker:    pglock.NewLocker(db),
		Signer:    s,
	}, services.CastOptions{VerifyOrigin: true, LockFallback: true}, nil)

	return &testApp{
		db:      db,
		windows: services.NewWindowService(elections, windows, services.WindowOptions{Duration: 5 * time.Minute, VerifyOrigin: true}, nil),
		cast:    cast,
		signer:  s,
	}
}

func (app *testApp) seedElection(t *testing.T, voters ...uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	questions, err := json.Marshal([]domain.Question{
		{ID: "q1", Type: domain.QuestionChoice, Required: true, Options: []string{"a", "b"}},
		{ID: "q2", Type: domain.QuestionText},
	})
	require.NoError(t, err)

	_, err = app.db.Exec(`INSERT INTO elections (id, title, status, starts_at, ends_at, questions) VALUES ($1, $2, 'active', $3, $4, $5)`,
		id, "Integration", time.Now().Add(-time.Hour), time.Now().Add(time.Hour), questions)
	require.NoError(t, err)

	for _, v := range voters {
		_, err := app.db.Exec(`INSERT INTO election_voters (election_id, voter_id) VALUES ($1, $2)`, id, v)
		require.NoError(t, err)
	}
	return id
}

func TestConcurrentCastSameVoter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	app := setupTestApp(t)
	ctx := context.Background()
	voterID := uuid.New()
	electionID := app.seedElection(t, voterID)

	_, err := app.windows.Open(ctx, ports.OpenWindowInput{ElectionID: electionID, VoterID: voterID, OriginAddr: "10.0.0.1"})
	require.NoError(t, err)

	const racers = 8
	ids := make([]uuid.UUID, racers)
	var g errgroup.Group
	for i := 0; i < racers; i++ {
		g.Go(func() error {
			choice := "a"
			if i%2 == 1 {
				choice = "b"
			}
			for {
				b, err := app.cast.Cast(ctx, ports.CastInput{
					ElectionID: electionID,
					VoterID:    voterID,
					Answers:    domain.Answers{"q1": choice},
					OriginAddr: "10.0.0.1",
				})
				if errors.Is(err, domain.ErrBusy) {
					continue
				}
				if err != nil {
					return err
				}
				ids[i] = b.ID
				return nil
			}
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	var count int
	require.NoError(t, app.db.QueryRow(`SELECT COUNT(*) FROM ballots WHERE election_id = $1 AND voter_id = $2`, electionID, voterID).Scan(&count))
	assert.Equal(t, 1, count)

	var status string
	require.NoError(t, app.db.QueryRow(`SELECT status FROM ballot_windows WHERE election_id = $1 AND voter_id = $2`, electionID, voterID).Scan(&status))
	assert.Equal(t, "voted", status)

	report, err := services.NewAuditService(postgres.NewElectionRepository(app.db), postgres.NewBallotRepository(app.db), app.signer).
		VerifyElection(ctx, electionID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Invalid)
}

func TestWindowLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	app := setupTestApp(t)
	ctx := context.Background()
	voterID := uuid.New()
	electionID := app.seedElection(t, voterID)
	in := ports.OpenWindowInput{ElectionID: electionID, VoterID: voterID, OriginAddr: "10.0.0.1"}

	first, err := app.windows.Open(ctx, in)
	require.NoError(t, err)
	second, err := app.windows.Open(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.OpenedAt, second.OpenedAt)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)

	_, err = app.windows.Open(ctx, ports.OpenWindowInput{ElectionID: electionID, VoterID: voterID, OriginAddr: "192.168.1.9"})
	assert.ErrorIs(t, err, domain.ErrSessionOriginMismatch)

	// Force the deadline into the past.
	_, err = app.db.Exec(`UPDATE ballot_windows SET expires_at = NOW() - INTERVAL '1 second' WHERE election_id = $1 AND voter_id = $2`, electionID, voterID)
	require.NoError(t, err)

	_, err = app.windows.Open(ctx, in)
	require.ErrorIs(t, err, domain.ErrWindowExpired)

	fresh, err := app.windows.Open(ctx, in)
	require.NoError(t, err)
	assert.True(t, fresh.OpenedAt.After(first.OpenedAt))
	assert.True(t, fresh.ExpiresAt.After(time.Now()))
}
