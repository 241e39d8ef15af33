package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions sizes the connection pool. Zero fields keep the defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

var defaultPool = PoolOptions{MaxConns: 10, MinConns: 2, MaxConnLifetime: time.Hour}

// NewDBPool opens a pgx pool for dsn and pings it before returning.
func NewDBPool(ctx context.Context, dsn string, opts ...PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	o := defaultPool
	for _, opt := range opts {
		if opt.MaxConns > 0 {
			o.MaxConns = opt.MaxConns
		}
		if opt.MinConns > 0 {
			o.MinConns = opt.MinConns
		}
		if opt.MaxConnLifetime > 0 {
			o.MaxConnLifetime = opt.MaxConnLifetime
		}
	}
	if o.MinConns > o.MaxConns {
		o.MinConns = o.MaxConns
	}
	cfg.MaxConns = o.MaxConns
	cfg.MinConns = o.MinConns
	cfg.MaxConnLifetime = o.MaxConnLifetime
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
