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

// Amounts travel as strings so no precision is lost between the store and decimal.Decimal.
const accountColumns = `id, city, name, balance::TEXT, currency, allow_negative, account_type, closed, updated_at`

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{
		pool: pool,
	}
}

// Create inserts a new account and sets its generated ID.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO account (city, name, balance, currency, allow_negative, account_type, closed)
		VALUES ($1, $2, $3::DECIMAL, $4, $5, $6, $7)
		RETURNING id, updated_at
	`

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		account.City,
		account.Name,
		account.Balance.Amount.String(),
		account.Balance.Currency,
		account.AllowNegative,
		string(account.Type),
		account.Closed,
	).Scan(&account.ID, &account.UpdatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: opening balance %s", domain.ErrNegativeBalance, account.Balance)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by its unique identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM account WHERE id = $1`

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// FindByIDs loads all accounts among ids in one round trip.
// With forUpdate set, the rows are locked for the duration of the transaction,
// so it MUST be called within a transaction context.
func (r *AccountRepository) FindByIDs(ctx context.Context, ids []uuid.UUID, forUpdate bool) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM account WHERE id = ANY($1::UUID[]) ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := conn(ctx, r.pool).Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0, len(ids))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	return accounts, nil
}

// UpdateBalances applies every delta in a single statement.
//
// The WHERE clause skips rows whose new balance would be negative on an account
// that does not allow it, so callers detect rejections through the row count.
// The balance CHECK constraint backs this up.
func (r *AccountRepository) UpdateBalances(ctx context.Context, deltas []domain.BalanceDelta) (int64, error) {
	if len(deltas) == 0 {
		return 0, nil
	}

	query := `
		UPDATE account
		SET balance = account.balance + data.delta,
		    updated_at = now()
		FROM (
			SELECT unnest($1::UUID[]) AS id, unnest($2::DECIMAL[]) AS delta
		) AS data
		WHERE account.id = data.id
		  AND (account.balance + data.delta >= 0 OR account.allow_negative)
	`

	ids := make([]string, len(deltas))
	amounts := make([]string, len(deltas))
	for i, d := range deltas {
		ids[i] = d.AccountID.String()
		amounts[i] = d.Amount.String()
	}

	tag, err := conn(ctx, r.pool).Exec(ctx, query, ids, amounts)
	if err != nil {
		if isCheckViolation(err) {
			return 0, fmt.Errorf("%w: %v", domain.ErrNegativeBalance, err)
		}
		return 0, fmt.Errorf("failed to update balances: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account     domain.Account
		balance     string
		accountType string
	)

	err := row.Scan(
		&account.ID,
		&account.City,
		&account.Name,
		&balance,
		&account.Balance.Currency,
		&account.AllowNegative,
		&accountType,
		&account.Closed,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Balance.Amount, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	account.Type = domain.AccountType(accountType)

	return &account, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
