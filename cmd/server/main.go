package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/vncsmyrnk/urna/internal/adapters/handler/http"
	memlock "github.com/vncsmyrnk/urna/internal/adapters/lock/memory"
	pglock "github.com/vncsmyrnk/urna/internal/adapters/lock/postgres"
	"github.com/vncsmyrnk/urna/internal/adapters/notifier"
	"github.com/vncsmyrnk/urna/internal/adapters/repository/memory"
	"github.com/vncsmyrnk/urna/internal/adapters/repository/postgres"
	"github.com/vncsmyrnk/urna/internal/adapters/signer"
	"github.com/vncsmyrnk/urna/internal/config"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
	"github.com/vncsmyrnk/urna/internal/core/services"
)

type stores struct {
	elections ports.ElectionRepository
	windows   ports.WindowRepository
	ballots   ports.BallotRepository
	cast      ports.CastStore
	locker    ports.Locker
	close     func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	ballotSigner, err := signer.NewHMACSigner([]byte(cfg.SigningKey))
	if err != nil {
		return fmt.Errorf("BALLOT_SIGNING_KEY: %w", err)
	}

	windowService := services.NewWindowService(st.elections, st.windows, services.WindowOptions{
		Duration:          cfg.WindowDuration,
		WarningThreshold:  cfg.WarningThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
		VerifyOrigin:      cfg.VerifyOrigin,
	}, logger)
	castService := services.NewCastService(services.CastDeps{
		Elections: st.elections,
		Windows:   st.windows,
		Ballots:   st.ballots,
		Store:     st.cast,
		Locker:    st.locker,
		Signer:    ballotSigner,
		Notifier:  notifier.NewLogNotifier(logger),
	}, services.CastOptions{
		LockTimeout:   cfg.LockTimeout,
		LockLease:     cfg.LockLease,
		LockFallback:  cfg.LockFallback,
		RetryAttempts: cfg.RetryAttempts,
		TxTimeout:     cfg.TxTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
		VerifyOrigin:  cfg.VerifyOrigin,
	}, logger)

	handler := http.NewHandler(
		http.NewWindowHandler(windowService),
		http.NewBallotHandler(castService),
		http.RouterOptions{
			JWTSecret:  []byte(cfg.JWTSecret),
			TrustProxy: cfg.TrustProxy,
		},
	)
	server := &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("gracefully shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	castService.Wait()
	return nil
}

func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		store := memory.NewStore()
		if cfg.SeedFile != "" {
			if err := seedMemory(store, cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		logger.Warn("using in-memory storage, ballots are lost on restart")
		return &stores{
			elections: store,
			windows:   store,
			ballots:   store,
			cast:      store,
			locker:    memlock.NewLocker(),
			close:     func() error { return nil },
		}, nil
	}

	db, err := sql.Open("postgres", cfg.DBConnString())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &stores{
		elections: postgres.NewElectionRepository(db),
		windows:   postgres.NewWindowRepository(db),
		ballots:   postgres.NewBallotRepository(db),
		cast:      postgres.NewCastStore(db, cfg.LockTimeout),
		locker:    pglock.NewLocker(db),
		close:     db.Close,
	}, nil
}

type seedElection struct {
	domain.Election
	Voters []uuid.UUID `json:"voters"`
}

func seedMemory(store *memory.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("SEED_FILE: %w", err)
	}
	var seeds []seedElection
	if err := json.Unmarshal(raw, &seeds); err != nil {
		return fmt.Errorf("SEED_FILE: %w", err)
	}
	for _, s := range seeds {
		store.PutElection(s.Election)
		for _, v := range s.Voters {
			store.Register(s.ID, v)
		}
	}
	return nil
}
