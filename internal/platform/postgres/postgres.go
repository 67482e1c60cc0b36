// Package postgres opens the optional run-ledger database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/animus-labs/edm-harvester/internal/platform/env"
)

type Config struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ConfigFromEnv reads the ledger database settings. An empty DATABASE_URL
// leaves the ledger disabled and is not an error.
func ConfigFromEnv() (Config, error) {
	pingTimeout, errPing := env.Duration("DATABASE_PING_TIMEOUT", 2*time.Second)
	// Batches are sequential, so a couple of connections is plenty.
	maxOpen, errOpen := env.Int("DATABASE_MAX_OPEN_CONNS", 2)
	lifetime, errLife := env.Duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute)
	if err := errors.Join(errPing, errOpen, errLife); err != nil {
		return Config{}, err
	}

	cfg := Config{
		URL:             strings.TrimSpace(env.String("DATABASE_URL", "")),
		PingTimeout:     pingTimeout,
		MaxOpenConns:    maxOpen,
		ConnMaxLifetime: lifetime,
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) Validate() error {
	var issues []string
	if c.URL == "" {
		issues = append(issues, "DATABASE_URL is required")
	}
	if c.PingTimeout <= 0 {
		issues = append(issues, "DATABASE_PING_TIMEOUT must be positive")
	}
	if c.MaxOpenConns < 1 {
		issues = append(issues, "DATABASE_MAX_OPEN_CONNS must be >= 1")
	}
	if c.ConnMaxLifetime < 0 {
		issues = append(issues, "DATABASE_CONN_MAX_LIFETIME must be >= 0")
	}
	if len(issues) > 0 {
		return errors.New(strings.Join(issues, "; "))
	}
	return nil
}

// Open connects and pings within cfg.PingTimeout.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}
	return db, nil
}
