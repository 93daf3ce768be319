// Package db provides PostgreSQL-backed repository implementations for the
// saaskit platform. All repositories accept a DBTX interface that is
// satisfied by both *pgxpool.Pool (for normal queries) and pgx.Tx (for
// transactional execution), enabling clean transaction support.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is a database transaction: the DBTX query surface plus commit/rollback.
// pgx.Tx satisfies this interface directly.
type Tx interface {
	DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner opens transactions. It is the seam the scheduler uses for its
// deduplication path, so tests can inject a mock transaction.
type TxBeginner interface {
	DBTX
	BeginTx(ctx context.Context) (Tx, error)
}

// Pool wraps *pgxpool.Pool to satisfy TxBeginner. The wrapper exists only
// because pool.Begin returns the concrete pgx.Tx type, not our Tx interface.
type Pool struct {
	*pgxpool.Pool
}

// NewPool wraps an existing pgx connection pool.
func NewPool(pool *pgxpool.Pool) *Pool {
	return &Pool{Pool: pool}
}

// BeginTx starts a transaction on the underlying pool.
func (p *Pool) BeginTx(ctx context.Context) (Tx, error) {
	return p.Pool.Begin(ctx)
}
