package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx runs fn inside a database transaction. If fn returns an error, the transaction is rolled back. Otherwise, the
// transaction is committed. The deferred rollback after a successful commit is a safe no-op.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithSerializableTx runs fn inside a SERIALIZABLE transaction, retrying up to maxRetries times on serialization
// failures. Subscription registration depends on this isolation level for its distinct-guild counting.
func WithSerializableTx(ctx context.Context, pool *pgxpool.Pool, maxRetries int, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = runSerializable(ctx, pool, fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("serializable transaction retries exhausted: %w", err)
}

func runSerializable(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin serializable transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit serializable transaction: %w", err)
	}
	return nil
}
