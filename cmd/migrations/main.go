package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const migrationsDir = "internal/adapters/repository/postgres/migrations"

// Usage: migrations <name>, e.g. "init.up" or "000001_init.down".
func main() {
	if len(os.Args) < 2 {
		fatal("a migration name is required")
	}
	migrationName := os.Args[1]

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal("failed to load .env file", "error", err)
	}

	db, err := sql.Open("postgres", dbConnString())
	if err != nil {
		fatal("failed to open database", "error", err)
	}
	defer db.Close()

	basePath := filepath.FromSlash(migrationsDir)
	fileName, err := migrationFile(basePath, migrationName)
	if err != nil {
		fatal("failed to find migration", "name", migrationName, "error", err)
	}

	content, err := os.ReadFile(filepath.Join(basePath, fileName))
	if err != nil {
		fatal("failed to read migration", "file", fileName, "error", err)
	}

	if _, err := db.Exec(string(content)); err != nil {
		fatal("failed to execute migration", "file", fileName, "error", err)
	}

	slog.Info("migration executed", "file", fileName)
}

func migrationFile(basePath, migrationName string) (string, error) {
	pattern := regexp.MustCompile(`^.*` + regexp.QuoteMeta(migrationName) + `\.sql$`)

	files, err := os.ReadDir(basePath)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if !f.IsDir() && pattern.MatchString(f.Name()) {
			return f.Name(), nil
		}
	}
	return "", errors.New("migration file not found")
}

func dbConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("POSTGRES_HOST"),
		os.Getenv("POSTGRES_PORT"),
		os.Getenv("POSTGRES_DB"),
	)
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
