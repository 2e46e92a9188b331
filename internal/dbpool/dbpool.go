// Package dbpool constructs the shared pgxpool.Pool used by a service's
// repositories, workers, and handlers. No goroutine is ever handed a raw
// *pgx.Conn to hold across a suspension point — every caller either runs a
// single pooled query or opens and releases its own transaction.
package dbpool

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New parses dsn, wires the otelpgx tracer into the connection config, and
// opens a pool.
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("bad postgres DSN: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}
	return pool, nil
}
