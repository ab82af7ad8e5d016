package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type contextKey string

// DBTxKey is the context key under which an open transaction is carried so
// repositories route their statements through it.
const DBTxKey contextKey = "db_tx"

// Beginner starts transactions. *pgxpool.Pool satisfies it; tests substitute
// a fake.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx begins a transaction and returns a derived context carrying it.
// Callers must Commit or Rollback the returned tx.
func WithTx(ctx context.Context, pool Beginner) (context.Context, pgx.Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// TxFromContext retrieves the transaction from context, or nil when the
// caller is not inside one.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}
