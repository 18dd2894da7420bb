package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onlinebank/onlinebank/internal/config"
)

// PostgresOptions carries the connection string and pool sizing.
type PostgresOptions struct {
	URL     string
	AppName string
	Pool    config.DBPool
}

// NewPostgresPool opens a sized pgx pool and verifies connectivity within
// the acquire timeout.
func NewPostgresPool(ctx context.Context, opts PostgresOptions) (*pgxpool.Pool, error) {
	cfg, err := postgresConfig(opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx := ctx
	if opts.Pool.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.Pool.AcquireTimeout+5*time.Second)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

func postgresConfig(opts PostgresOptions) (*pgxpool.Config, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if opts.Pool.MaxConns > 0 {
		cfg.MaxConns = int32(opts.Pool.MaxConns)
	}
	if opts.Pool.MinConns > 0 {
		cfg.MinConns = int32(opts.Pool.MinConns)
	}
	if opts.Pool.ConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.Pool.ConnLifetime
	}
	if opts.AppName != "" {
		if _, set := cfg.ConnConfig.RuntimeParams["application_name"]; !set {
			cfg.ConnConfig.RuntimeParams["application_name"] = opts.AppName
		}
	}
	return cfg, nil
}
