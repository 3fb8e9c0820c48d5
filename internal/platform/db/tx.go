package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// WithTx executes fn within a RepeatableRead transaction. Serialization
// failures surface as shared.ErrConflict so callers may retry the whole
// operation instead of committing a torn read-validate-write cycle.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return translateConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return translateConflict(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// translateConflict converts PostgreSQL serialization, deadlock and
// unique-violation failures (SQLSTATE 40001/40P01/23505) into the retryable
// domain conflict error.
func translateConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Message)
		}
	}
	return err
}
