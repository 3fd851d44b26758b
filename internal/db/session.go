package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// unitOfWork implements domain.UnitOfWork on top of an open transaction.
// All settings are transaction scoped and vanish on commit or rollback.
type unitOfWork struct {
	tx      pgx.Tx
	attempt int
}

func (u *unitOfWork) SetApplicationName(ctx context.Context, name string) error {
	_, err := u.tx.Exec(ctx, `SELECT set_config('application_name', $1, true)`, name)
	return err
}

func (u *unitOfWork) SetPriority(ctx context.Context, priority domain.Priority) error {
	switch priority {
	case domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh:
	default:
		return fmt.Errorf("unknown transaction priority %q", priority)
	}
	// Priority is a keyword, not a bind parameter
	_, err := u.tx.Exec(ctx, "SET TRANSACTION PRIORITY "+string(priority))
	return err
}

func (u *unitOfWork) SetIdleTimeout(ctx context.Context, timeout time.Duration) error {
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)
	_, err := u.tx.Exec(ctx, `SELECT set_config('idle_in_transaction_session_timeout', $1, true)`, ms)
	return err
}

func (u *unitOfWork) SetReadOnly(ctx context.Context) error {
	_, err := u.tx.Exec(ctx, `SET TRANSACTION READ ONLY`)
	return err
}

func (u *unitOfWork) SetHistoricalRead(ctx context.Context, read domain.HistoricalRead) error {
	var stmt string
	switch read.Mode {
	case domain.HistoricalReadNone:
		return nil
	case domain.HistoricalReadFollower:
		stmt = `SET TRANSACTION AS OF SYSTEM TIME follower_read_timestamp()`
	case domain.HistoricalReadAsOf:
		if read.Staleness <= 0 {
			return fmt.Errorf("as-of read requires a positive staleness, got %s", read.Staleness)
		}
		stmt = fmt.Sprintf(`SET TRANSACTION AS OF SYSTEM TIME '-%dms'`, read.Staleness.Milliseconds())
	default:
		return fmt.Errorf("unknown historical read mode %q", read.Mode)
	}

	_, err := u.tx.Exec(ctx, stmt)
	return err
}

func (u *unitOfWork) Attempt() int {
	return u.attempt
}

func (u *unitOfWork) SetAttempt(attempt int) {
	u.attempt = attempt
}
