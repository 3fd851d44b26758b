package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Executor runs fn inside a retried unit of work.
type Executor interface {
	Execute(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error
}

// ChangePublisher records a change event in the active unit of work.
type ChangePublisher interface {
	PublishTransferCreated(ctx context.Context, transfer *Transfer) error
}

// CommitListener is notified after a transfer has been committed.
// Implementations must not block and must not fail the caller.
type CommitListener interface {
	TransferCommitted(ctx context.Context, transfer *Transfer)
}

// TransferService is the entry point for ledger writes and reads.
//
// Writes compose explicitly: executor (retry + session tuning) wraps
// engine and change publisher, which share one unit of work.
type TransferService struct {
	engine    *TransferEngine
	executor  Executor
	publisher ChangePublisher
	listener  CommitListener
	accounts  AccountRepository
	transfers TransferRepository
	logger    *zap.Logger
}

// NewTransferService creates a new instance of TransferService.
// Pass nil for listener if no post-commit notifications should be emitted.
func NewTransferService(
	engine *TransferEngine,
	executor Executor,
	publisher ChangePublisher,
	listener CommitListener,
	accounts AccountRepository,
	transfers TransferRepository,
	logger *zap.Logger,
) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferService{
		engine:    engine,
		executor:  executor,
		publisher: publisher,
		listener:  listener,
		accounts:  accounts,
		transfers: transfers,
		logger:    logger.With(zap.String("component", "transfer-service")),
	}
}

// CreateTransfer processes a transfer request, retrying on contention.
// Urgent requests run at high priority from the first attempt.
//
// Returns the created transfer, or the original one flagged Replayed when the
// request id was already processed.
func (s *TransferService) CreateTransfer(ctx context.Context, req TransferRequest, urgent bool) (*Transfer, error) {
	var result *Transfer
	err := s.executor.Execute(ctx, TxOptions{Urgent: urgent}, func(txCtx context.Context) error {
		transfer, err := s.engine.CreateTransfer(txCtx, req)
		if err != nil {
			return err
		}

		if !transfer.Replayed && s.publisher != nil {
			if err := s.publisher.PublishTransferCreated(txCtx, transfer); err != nil {
				return fmt.Errorf("failed to publish change event: %w", err)
			}
		}

		result = transfer
		return nil
	})
	if err != nil {
		s.logFailure(req, err)
		return nil, err
	}

	if result.Replayed {
		s.logger.Info("transfer request replayed",
			zap.Stringer("request_id", req.ID),
			zap.Stringer("transfer_id", result.ID))
		return result, nil
	}

	if s.listener != nil {
		s.listener.TransferCommitted(ctx, result)
	}

	return result, nil
}

// AccountBalances reads accounts in a read-only unit of work. With historical
// set, the read may be served from a slightly stale snapshot.
func (s *TransferService) AccountBalances(ctx context.Context, ids []uuid.UUID, historical bool) ([]*Account, error) {
	var accounts []*Account
	err := s.executor.Execute(ctx, TxOptions{ReadOnly: true, Historical: historical}, func(txCtx context.Context) error {
		found, err := s.accounts.FindByIDs(txCtx, ids, false)
		if err != nil {
			return err
		}
		accounts = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read balances: %w", err)
	}
	return accounts, nil
}

// GetAccount retrieves a single account.
func (s *TransferService) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// FindByID retrieves a transfer with its legs.
func (s *TransferService) FindByID(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return s.transfers.GetByID(ctx, id)
}

// FindAll lists transfers matching filter.
func (s *TransferService) FindAll(ctx context.Context, filter TransferFilter) ([]*Transfer, error) {
	return s.transfers.FindAll(ctx, filter)
}

func (s *TransferService) logFailure(req TransferRequest, err error) {
	fields := []zap.Field{
		zap.Stringer("request_id", req.ID),
		zap.Any("request", req),
		zap.Error(err),
	}

	switch {
	case IsBusiness(err):
		s.logger.Info("transfer request rejected", fields...)
	case errors.Is(err, ErrRetriesExhausted):
		s.logger.Error("transfer retries exhausted", fields...)
	default:
		s.logger.Error("transfer failed", fields...)
	}
}
