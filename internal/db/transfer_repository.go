package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// TransferRepository implements domain.TransferRepository using PostgreSQL.
type TransferRepository struct {
	pool *pgxpool.Pool
}

// NewTransferRepository creates a new TransferRepository.
func NewTransferRepository(pool *pgxpool.Pool) *TransferRepository {
	return &TransferRepository{
		pool: pool,
	}
}

// Create persists a new transfer header. The store generates the ID.
func (r *TransferRepository) Create(ctx context.Context, transfer *domain.Transfer) error {
	query := `
		INSERT INTO transfer (request_id, city, transfer_type, booking_date, transfer_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var requestID *uuid.UUID
	if transfer.RequestID != uuid.Nil {
		requestID = &transfer.RequestID
	}

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		requestID,
		transfer.City,
		string(transfer.Type),
		transfer.BookingDate,
		transfer.TransferDate,
	).Scan(&transfer.ID)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	return nil
}

// CreateItems inserts all legs in one batch round trip.
func (r *TransferRepository) CreateItems(ctx context.Context, items []domain.TransferItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO transfer_item (
			transfer_id, item_seq, account_id,
			amount, currency, running_balance, note
		) VALUES ($1, $2, $3, $4::DECIMAL, $5, $6::DECIMAL, $7)
	`

	batch := &pgx.Batch{}
	for i, item := range items {
		batch.Queue(query,
			item.TransferID,
			i,
			item.AccountID,
			item.Amount.Amount.String(),
			item.Amount.Currency,
			item.RunningBalance.Amount.String(),
			item.Note,
		)
	}

	results := conn(ctx, r.pool).SendBatch(ctx, batch)
	for range items {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to create transfer item: %w", err)
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to create transfer items: %w", err)
	}

	return nil
}

// FindIDByRequestID returns the transfer created for requestID, if any.
// If several exist, which only happens with idempotency disabled, the oldest wins.
func (r *TransferRepository) FindIDByRequestID(ctx context.Context, requestID uuid.UUID) (uuid.UUID, bool, error) {
	query := `
		SELECT id FROM transfer
		WHERE request_id = $1
		ORDER BY created_at, id
		LIMIT 1
	`

	var id uuid.UUID
	err := conn(ctx, r.pool).QueryRow(ctx, query, requestID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to get transfer by request id: %w", err)
	}

	return id, true, nil
}

// GetByID retrieves a transfer and its legs in leg order.
func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	query := `
		SELECT id, request_id, city, transfer_type, booking_date, transfer_date
		FROM transfer
		WHERE id = $1
	`

	q := conn(ctx, r.pool)

	transfer, err := scanTransfer(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer by ID: %w", err)
	}

	itemsQuery := `
		SELECT transfer_id, account_id, amount::TEXT, currency, running_balance::TEXT, note
		FROM transfer_item
		WHERE transfer_id = $1
		ORDER BY item_seq
	`

	rows, err := q.Query(ctx, itemsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item            domain.TransferItem
			amount, running string
		)
		if err := rows.Scan(
			&item.TransferID,
			&item.AccountID,
			&amount,
			&item.Amount.Currency,
			&running,
			&item.Note,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transfer item: %w", err)
		}

		if item.Amount.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid item amount %q: %w", amount, err)
		}
		if item.RunningBalance.Amount, err = decimal.NewFromString(running); err != nil {
			return nil, fmt.Errorf("invalid running balance %q: %w", running, err)
		}
		item.RunningBalance.Currency = item.Amount.Currency

		transfer.Items = append(transfer.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transfer items: %w", err)
	}

	return transfer, nil
}

// FindAll lists transfer headers ordered by id, using keyset pagination on filter.After.
func (r *TransferRepository) FindAll(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	limit := filter.PageSize()

	query := `
		SELECT id, request_id, city, transfer_type, booking_date, transfer_date
		FROM transfer
		WHERE ($1::TEXT = '' OR city = $1::TEXT)
		  AND ($2::UUID IS NULL OR id > $2::UUID)
		ORDER BY id
		LIMIT $3
	`

	var after *uuid.UUID
	if filter.After != uuid.Nil {
		after = &filter.After
	}

	rows, err := conn(ctx, r.pool).Query(ctx, query, filter.City, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*domain.Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transfers: %w", err)
	}

	return transfers, nil
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		transfer     domain.Transfer
		requestID    *uuid.UUID
		transferType string
	)

	if err := row.Scan(
		&transfer.ID,
		&requestID,
		&transfer.City,
		&transferType,
		&transfer.BookingDate,
		&transfer.TransferDate,
	); err != nil {
		return nil, err
	}

	if requestID != nil {
		transfer.RequestID = *requestID
	}
	transfer.Type = domain.TransferType(transferType)

	return &transfer, nil
}
