package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries is the Postgres-backed Store implementation.
type Queries struct {
	db *pgxpool.Pool
}

// New creates a Queries backed by the given pool.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{db: pool}
}

// Pool returns the underlying connection pool.
func (q *Queries) Pool() *pgxpool.Pool {
	return q.db
}

// Ping checks database connectivity.
func (q *Queries) Ping(ctx context.Context) error {
	return q.db.Ping(ctx)
}

// Compile-time check that Queries satisfies Store.
var _ Store = (*Queries)(nil)
