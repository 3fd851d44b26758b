package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ledger-service/domain")

// IdempotencyGuard detects requests that were already turned into a transfer.
type IdempotencyGuard struct {
	transfers TransferRepository
	enabled   bool
}

// NewIdempotencyGuard creates a guard. A disabled guard never reports a hit.
func NewIdempotencyGuard(transfers TransferRepository, enabled bool) *IdempotencyGuard {
	return &IdempotencyGuard{transfers: transfers, enabled: enabled}
}

// Enabled reports whether request ids are checked at all.
func (g *IdempotencyGuard) Enabled() bool {
	return g.enabled
}

// AlreadyProcessed looks up the transfer created for requestID inside the active
// unit of work. It returns the existing transfer id on a hit.
func (g *IdempotencyGuard) AlreadyProcessed(ctx context.Context, requestID uuid.UUID) (uuid.UUID, bool, error) {
	if !g.enabled || requestID == uuid.Nil {
		return uuid.Nil, false, nil
	}

	id, found, err := g.transfers.FindIDByRequestID(ctx, requestID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return id, found, nil
}

// EngineConfig controls the transfer engine.
type EngineConfig struct {
	// Idempotency enables request id deduplication.
	Idempotency bool
	// Locking loads accounts with row locks instead of relying on serializable
	// conflict detection alone.
	Locking bool
}

// TransferEngine turns a TransferRequest into ledger writes inside the caller's
// unit of work. It never commits, rolls back or retries.
type TransferEngine struct {
	accounts  AccountRepository
	transfers TransferRepository
	guard     *IdempotencyGuard
	locking   bool
}

// NewTransferEngine creates a new TransferEngine.
func NewTransferEngine(accounts AccountRepository, transfers TransferRepository, cfg EngineConfig) *TransferEngine {
	return &TransferEngine{
		accounts:  accounts,
		transfers: transfers,
		guard:     NewIdempotencyGuard(transfers, cfg.Idempotency),
		locking:   cfg.Locking,
	}
}

// CreateTransfer records a multi-leg transfer and applies its balance changes.
//
// It must be called inside an active unit of work:
// 1. Validate request invariants (no I/O)
// 2. Return the original transfer if the request id was already processed
// 3. Load every referenced account, optionally locked
// 4. Insert the transfer header, then all legs as one batch
// 5. Apply one net delta per account as one batched update
//
// Nothing is visible to other transactions until the caller commits.
func (e *TransferEngine) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	uow, ok := UnitOfWorkFromContext(ctx)
	if !ok {
		return nil, ErrNoActiveTransaction
	}

	ctx, span := tracer.Start(ctx, "engine.CreateTransfer", trace.WithAttributes(
		attribute.String("transfer.request_id", req.ID.String()),
		attribute.Int("transfer.legs", len(req.Items)),
		attribute.Int("transfer.attempt", uow.Attempt()),
	))
	defer span.End()

	if err := ValidateTransferRequest(req); err != nil {
		return nil, err
	}

	existingID, found, err := e.guard.AlreadyProcessed(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if found {
		existing, err := e.transfers.GetByID(ctx, existingID)
		if err != nil {
			return nil, fmt.Errorf("failed to load replayed transfer: %w", err)
		}
		existing.Replayed = true
		span.SetAttributes(attribute.Bool("transfer.replayed", true))
		return existing, nil
	}

	accountIDs := req.AccountIDs()
	accounts, err := e.accounts.FindByIDs(ctx, accountIDs, e.locking)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	if len(accounts) != len(accountIDs) {
		return nil, &AccountCountMismatchError{Expected: len(accountIDs), Found: len(accounts)}
	}

	byID := make(map[uuid.UUID]*Account, len(accounts))
	for _, account := range accounts {
		byID[account.ID] = account
	}

	for _, item := range req.Items {
		account, ok := byID[item.AccountID]
		if !ok {
			return nil, &AccountCountMismatchError{Expected: len(accountIDs), Found: len(accounts)}
		}
		if account.Closed {
			return nil, fmt.Errorf("%w: %s", ErrAccountClosed, account.ID)
		}
		if account.Balance.Currency != item.Amount.Currency {
			return nil, fmt.Errorf("%w: account %s holds %s, leg is %s",
				ErrCurrencyMismatch, account.ID, account.Balance.Currency, item.Amount.Currency)
		}
	}

	transfer := &Transfer{
		RequestID:    req.ID,
		City:         req.City,
		Type:         req.Type,
		BookingDate:  req.BookingDate,
		TransferDate: req.TransferDate,
	}
	if err := e.transfers.Create(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	items := make([]TransferItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, TransferItem{
			TransferID:     transfer.ID,
			AccountID:      item.AccountID,
			Amount:         item.Amount,
			RunningBalance: byID[item.AccountID].Balance,
			Note:           item.Note,
		})
	}
	if err := e.transfers.CreateItems(ctx, items); err != nil {
		return nil, fmt.Errorf("failed to create transfer items: %w", err)
	}

	deltas := coalesce(accountIDs, req.Items)
	applied, err := e.accounts.UpdateBalances(ctx, deltas)
	if err != nil {
		return nil, fmt.Errorf("failed to update balances: %w", err)
	}
	if applied != int64(len(deltas)) {
		return nil, fmt.Errorf("%w: %d of %d balance updates applied",
			ErrNegativeBalance, applied, len(deltas))
	}

	transfer.Items = items
	span.SetAttributes(attribute.String("transfer.id", transfer.ID.String()))
	return transfer, nil
}

// coalesce sums all legs per account into one delta, in the order of ids.
func coalesce(ids []uuid.UUID, items []AccountItem) []BalanceDelta {
	sums := make(map[uuid.UUID]decimal.Decimal, len(ids))
	for _, item := range items {
		sums[item.AccountID] = sums[item.AccountID].Add(item.Amount.Amount)
	}

	deltas := make([]BalanceDelta, 0, len(ids))
	for _, id := range ids {
		deltas = append(deltas, BalanceDelta{AccountID: id, Amount: sums[id]})
	}
	return deltas
}
