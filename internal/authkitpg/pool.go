// Package authkitpg is the pgx-backed refresh token store used when the
// server runs against PostgreSQL.
package authkitpg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	poolMinConns        = 1
	poolMaxConns        = 8
	poolMaxConnLifetime = 30 * time.Minute
	poolHealthCheck     = 30 * time.Second
)

// BuildPool connects to databaseURL and pings it once before returning.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, parseErr := pgxpool.ParseConfig(databaseURL)
	if parseErr != nil {
		return nil, fail("parse_config", parseErr)
	}
	poolConfig.MinConns = poolMinConns
	poolConfig.MaxConns = poolMaxConns
	poolConfig.MaxConnLifetime = poolMaxConnLifetime
	poolConfig.HealthCheckPeriod = poolHealthCheck

	pool, connectErr := pgxpool.NewWithConfig(ctx, poolConfig)
	if connectErr != nil {
		return nil, fail("connect", connectErr)
	}
	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return nil, fail("ping", pingErr)
	}
	return pool, nil
}
