package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/vncsmyrnk/urna/internal/adapters/repository/postgres"
	"github.com/vncsmyrnk/urna/internal/adapters/signer"
	"github.com/vncsmyrnk/urna/internal/core/services"
)

// ballotaudit re-verifies the token of every stored ballot of an election
// and exits with status 2 when any of them does not match its row.
func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	var dbHost, dbPort, dbUser, dbPass, dbName, electionArg string
	var timeout time.Duration

	flag.StringVar(&dbHost, "db-host", os.Getenv("POSTGRES_HOST"), "Database host")
	flag.StringVar(&dbPort, "db-port", os.Getenv("POSTGRES_PORT"), "Database port")
	flag.StringVar(&dbUser, "db-user", os.Getenv("POSTGRES_USER"), "Database user")
	flag.StringVar(&dbPass, "db-pass", os.Getenv("POSTGRES_PASSWORD"), "Database password")
	flag.StringVar(&dbName, "db-name", os.Getenv("POSTGRES_DB"), "Database name")
	flag.StringVar(&electionArg, "election", "", "Election id to audit")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum duration of the audit")
	flag.Parse()

	electionID, err := uuid.Parse(electionArg)
	if err != nil {
		fatal("invalid -election", "error", err)
	}

	ballotSigner, err := signer.NewHMACSigner([]byte(os.Getenv("BALLOT_SIGNING_KEY")))
	if err != nil {
		fatal("invalid BALLOT_SIGNING_KEY", "error", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPass, dbHost, dbPort, dbName)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		fatal("failed to open database", "error", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fatal("failed to reach database", "error", err)
	}

	audit := services.NewAuditService(
		postgres.NewElectionRepository(db),
		postgres.NewBallotRepository(db),
		ballotSigner,
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("starting ballot audit", "election_id", electionID)
	report, err := audit.VerifyElection(ctx, electionID)
	if err != nil {
		fatal("audit failed", "error", err)
	}

	if len(report.Invalid) > 0 {
		for _, id := range report.Invalid {
			slog.Error("ballot token does not match", "ballot_id", id)
		}
		slog.Error("audit found invalid ballots", "checked", report.Checked, "invalid", len(report.Invalid))
		db.Close()
		os.Exit(2)
	}
	slog.Info("audit completed", "checked", report.Checked)
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
