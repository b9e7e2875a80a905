// Package config reads the service settings from the environment. A .env
// file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	HTTPAddr string
	Storage  string
	// SeedFile lists elections and voters loaded into the memory store.
	SeedFile string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret  string
	SigningKey string

	WindowDuration    time.Duration
	WarningThreshold  time.Duration
	CriticalThreshold time.Duration
	VerifyOrigin      bool
	TrustProxy        bool

	LockTimeout   time.Duration
	LockLease     time.Duration
	LockFallback  bool
	RetryAttempts int
	TxTimeout     time.Duration
	NotifyTimeout time.Duration

	LogLevel slog.Level
}

// DBConnString returns the lib/pq connection URL.
func (c *Config) DBConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup. Every invalid value is reported in
// the returned error, not only the first one.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	p := parser{lookup: lookup}

	cfg := &Config{
		HTTPAddr:   p.str("HTTP_ADDR", "0.0.0.0:8080"),
		Storage:    p.str("STORAGE", StoragePostgres),
		SeedFile:   p.str("SEED_FILE", ""),
		DBHost:     p.str("POSTGRES_HOST", "localhost"),
		DBPort:     p.str("POSTGRES_PORT", "5432"),
		DBUser:     p.str("POSTGRES_USER", ""),
		DBPassword: p.str("POSTGRES_PASSWORD", ""),
		DBName:     p.str("POSTGRES_DB", ""),
		JWTSecret:  p.required("JWT_SECRET"),
		SigningKey: p.required("BALLOT_SIGNING_KEY"),

		WindowDuration:    time.Duration(p.integer("WINDOW_DURATION_MINUTES", 5)) * time.Minute,
		WarningThreshold:  time.Duration(p.integer("WINDOW_WARNING_SECONDS", 60)) * time.Second,
		CriticalThreshold: time.Duration(p.integer("WINDOW_CRITICAL_SECONDS", 30)) * time.Second,
		VerifyOrigin:      p.boolean("VERIFY_ORIGIN", true),
		TrustProxy:        p.boolean("TRUST_PROXY", false),

		LockTimeout:   p.duration("CAST_LOCK_TIMEOUT", 3*time.Second),
		LockLease:     p.duration("CAST_LOCK_LEASE", 10*time.Second),
		LockFallback:  p.boolean("LOCK_FALLBACK", true),
		RetryAttempts: p.integer("CAST_RETRY_ATTEMPTS", 3),
		TxTimeout:     p.duration("TX_TIMEOUT", 5*time.Second),
		NotifyTimeout: p.duration("NOTIFY_TIMEOUT", 10*time.Second),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(p.str("LOG_LEVEL", "info"))); err != nil {
		p.fail("LOG_LEVEL", err)
	}

	switch cfg.Storage {
	case StoragePostgres, StorageMemory:
	default:
		p.fail("STORAGE", fmt.Errorf("unknown storage %q", cfg.Storage))
	}
	if cfg.WindowDuration <= 0 {
		p.fail("WINDOW_DURATION_MINUTES", errors.New("must be positive"))
	}
	if cfg.LockLease < cfg.LockTimeout {
		p.fail("CAST_LOCK_LEASE", errors.New("must not be shorter than CAST_LOCK_TIMEOUT"))
	}
	if cfg.RetryAttempts < 1 {
		p.fail("CAST_RETRY_ATTEMPTS", errors.New("must be at least 1"))
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) fail(name string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
}

func (p *parser) str(name, def string) string {
	v, ok := p.lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func (p *parser) required(name string) string {
	v := p.str(name, "")
	if v == "" {
		p.fail(name, errors.New("required"))
	}
	return v
}

func (p *parser) integer(name string, def int) int {
	v := p.str(name, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(name, err)
		return def
	}
	return n
}

func (p *parser) boolean(name string, def bool) bool {
	v := p.str(name, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(name, err)
		return def
	}
	return b
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	v := p.str(name, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(name, err)
		return def
	}
	return d
}
