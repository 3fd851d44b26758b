package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountRepository defines the account side of the ledger store.
type AccountRepository interface {
	// FindByIDs loads the given accounts. Missing ids are simply absent from the result.
	// With forUpdate set, rows are locked until the unit of work ends.
	FindByIDs(ctx context.Context, ids []uuid.UUID, forUpdate bool) ([]*Account, error)

	// GetByID retrieves an account by its unique identifier.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// UpdateBalances applies all deltas as one batched write and returns the
	// number of rows updated. Rows whose update would break the non-negative
	// balance constraint are skipped, so a short count means a rejection.
	UpdateBalances(ctx context.Context, deltas []BalanceDelta) (int64, error)
}

// TransferRepository defines the transfer side of the ledger store.
type TransferRepository interface {
	// Create inserts the transfer header and sets its generated ID.
	Create(ctx context.Context, transfer *Transfer) error

	// CreateItems inserts all legs as a single batch.
	CreateItems(ctx context.Context, items []TransferItem) error

	// FindIDByRequestID looks up the transfer created for a request id.
	// Returns uuid.Nil and false if there is none.
	FindIDByRequestID(ctx context.Context, requestID uuid.UUID) (uuid.UUID, bool, error)

	// GetByID retrieves a transfer with its legs.
	// Returns ErrTransferNotFound if the transfer doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)

	// FindAll lists transfers (without legs) ordered by id.
	FindAll(ctx context.Context, filter TransferFilter) ([]*Transfer, error)
}

// OutboxRepository appends change records for downstream consumers.
type OutboxRepository interface {
	Append(ctx context.Context, event *OutboxEvent) error
}

// ErrorClassifier tells transient contention failures apart from everything else.
type ErrorClassifier interface {
	IsTransient(err error) bool
}

// Priority is the contention priority of a unit of work.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
	PriorityHigh   Priority = "HIGH"
)

// HistoricalReadMode selects how a read-only unit of work reads the past.
type HistoricalReadMode string

const (
	HistoricalReadNone HistoricalReadMode = ""
	// HistoricalReadFollower reads a bounded-staleness snapshot that replicas can serve.
	HistoricalReadFollower HistoricalReadMode = "follower"
	// HistoricalReadAsOf reads at a fixed interval in the past.
	HistoricalReadAsOf HistoricalReadMode = "as-of"
)

// HistoricalRead configures a historical read for one unit of work.
type HistoricalRead struct {
	Mode      HistoricalReadMode
	Staleness time.Duration
}

// UnitOfWork is the active serializable transaction, as seen by the engine.
// Session setters must be called before the first statement of the attempt.
type UnitOfWork interface {
	SetApplicationName(ctx context.Context, name string) error
	SetPriority(ctx context.Context, priority Priority) error
	SetIdleTimeout(ctx context.Context, timeout time.Duration) error
	SetReadOnly(ctx context.Context) error
	SetHistoricalRead(ctx context.Context, read HistoricalRead) error

	// Attempt is the 1-based attempt number of the logical operation this unit of work serves.
	Attempt() int
	SetAttempt(attempt int)
}

// TxOptions describe the unit of work a caller asks the retry coordinator for.
type TxOptions struct {
	// ReadOnly declares that no writes will occur.
	ReadOnly bool
	// Urgent requests high priority from the first attempt.
	Urgent bool
	// Historical requests a historical read when the store supports it. Read-only only.
	Historical bool
}

// TransactionManager defines the interface for managing database transactions.
type TransactionManager interface {
	// WithTransaction executes fn within a serializable transaction whose
	// UnitOfWork is reachable through UnitOfWorkFromContext. If fn returns an
	// error, the transaction is rolled back. Otherwise, it is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type unitOfWorkKey struct{}

// ContextWithUnitOfWork returns a child context carrying uow.
func ContextWithUnitOfWork(ctx context.Context, uow UnitOfWork) context.Context {
	return context.WithValue(ctx, unitOfWorkKey{}, uow)
}

// UnitOfWorkFromContext returns the active unit of work, if any.
func UnitOfWorkFromContext(ctx context.Context) (UnitOfWork, bool) {
	uow, ok := ctx.Value(unitOfWorkKey{}).(UnitOfWork)
	return uow, ok && uow != nil
}
