package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// pickRow resolves the executor for a single-row query: a pgx.Tx or
// *pgxpool.Conn passed as qx, or the pool when qx is nil.
func pickRow(ctx context.Context, pool *pgxpool.Pool, qx any, sql string, args ...any) pgx.Row {
	switch v := qx.(type) {
	case pgx.Tx:
		return v.QueryRow(ctx, sql, args...)
	case *pgxpool.Conn:
		return v.QueryRow(ctx, sql, args...)
	default:
		return pool.QueryRow(ctx, sql, args...)
	}
}
