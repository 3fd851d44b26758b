package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrTooFewLegs is returned when a transfer request has fewer than two items
	ErrTooFewLegs = errors.New("transfer requires at least two legs")

	// ErrMissingAccountID is returned when an item does not reference an account
	ErrMissingAccountID = errors.New("transfer leg is missing an account id")

	// ErrAmountScale is returned when a leg amount has more fractional digits than the store keeps
	ErrAmountScale = errors.New("leg amount exceeds supported precision")

	// ErrUnbalanced is the sentinel matched by every *UnbalancedError
	ErrUnbalanced = errors.New("unbalanced transaction")

	// ErrAccountCountMismatch is the sentinel matched by every *AccountCountMismatchError
	ErrAccountCountMismatch = errors.New("account count mismatch")

	// ErrNegativeBalance is returned when a balance update would overdraw an account
	// that does not allow negative balances
	ErrNegativeBalance = errors.New("negative balance rejected")

	// ErrAccountClosed is returned when a leg references a closed account
	ErrAccountClosed = errors.New("account is closed")

	// ErrCurrencyMismatch is returned when a leg's currency differs from its account's
	ErrCurrencyMismatch = errors.New("currency mismatch between leg and account")

	// ErrAccountNotFound is returned by point reads of a missing account
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransferNotFound is returned by point reads of a missing transfer
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrNoActiveTransaction is returned when the engine runs outside a unit of work.
	// It signals a programming error, not a rejected request.
	ErrNoActiveTransaction = errors.New("no active transaction")

	// ErrRetriesExhausted is the sentinel matched by every *RetriesExhaustedError
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// UnbalancedError reports the currency whose signed leg amounts do not sum to zero.
type UnbalancedError struct {
	Currency string
	Sum      decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("unbalanced transaction: %s legs sum to %s", e.Currency, e.Sum.String())
}

func (e *UnbalancedError) Is(target error) bool {
	return target == ErrUnbalanced
}

// AccountCountMismatchError reports how many referenced accounts were found.
type AccountCountMismatchError struct {
	Expected int
	Found    int
}

func (e *AccountCountMismatchError) Error() string {
	return fmt.Sprintf("account count mismatch: expected %d, found %d", e.Expected, e.Found)
}

func (e *AccountCountMismatchError) Is(target error) bool {
	return target == ErrAccountCountMismatch
}

// RetriesExhaustedError wraps the last transient error after the attempt budget ran out.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// IsStructural reports whether err was raised by request validation.
func IsStructural(err error) bool {
	return errors.Is(err, ErrTooFewLegs) ||
		errors.Is(err, ErrMissingAccountID) ||
		errors.Is(err, ErrAmountScale) ||
		errors.Is(err, ErrUnbalanced)
}

// IsBusiness reports whether err is a business rejection that must never be retried.
func IsBusiness(err error) bool {
	return IsStructural(err) ||
		errors.Is(err, ErrAccountCountMismatch) ||
		errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrAccountClosed) ||
		errors.Is(err, ErrCurrencyMismatch)
}
