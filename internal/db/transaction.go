package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// txKey is the key type for storing transaction in context.
type txKey struct{}

// TransactionManager implements domain.TransactionManager using serializable
// PostgreSQL-compatible transactions.
type TransactionManager struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewTransactionManager creates a new TransactionManager.
func NewTransactionManager(pool *pgxpool.Pool, logger *zap.Logger) *TransactionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionManager{
		pool:   pool,
		logger: logger,
	}
}

// WithTransaction executes the given function within a serializable transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
// The transaction is stored in the context and can be retrieved using getTx,
// its unit of work using domain.UnitOfWorkFromContext.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := tm.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure transaction is closed
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			// Rollback failures don't override the original error
			tm.logger.Warn("failed to rollback transaction", zap.Error(err))
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, tx)
	txCtx = domain.ContextWithUnitOfWork(txCtx, &unitOfWork{tx: tx, attempt: 1})

	if err := fn(txCtx); err != nil {
		return err // Transaction will be rolled back by defer
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// getTx retrieves the transaction from context.
// If no transaction is found, returns nil.
func getTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is the part of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// conn uses the transaction if available, otherwise the pool.
func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := getTx(ctx); tx != nil {
		return tx
	}
	return pool
}
