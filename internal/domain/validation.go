package domain

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidateTransferRequest checks the structural and accounting invariants of a
// request. It performs no I/O, so malformed requests never reach the store.
//
// Checks, in order:
//   - at least two legs
//   - every leg references an account
//   - no leg carries more than AmountScale fractional digits
//   - per currency, signed leg amounts sum to zero
func ValidateTransferRequest(req TransferRequest) error {
	if len(req.Items) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewLegs, len(req.Items))
	}

	sums := make(map[string]decimal.Decimal)
	for i, item := range req.Items {
		if item.AccountID == uuid.Nil {
			return fmt.Errorf("%w: leg %d", ErrMissingAccountID, i)
		}
		if amount := item.Amount.Amount; !amount.Equal(amount.Truncate(AmountScale)) {
			return fmt.Errorf("%w: leg %d amount %s", ErrAmountScale, i, amount.String())
		}
		sums[item.Amount.Currency] = sums[item.Amount.Currency].Add(item.Amount.Amount)
	}

	// Deterministic order so the reported currency is stable across runs.
	currencies := make([]string, 0, len(sums))
	for currency := range sums {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	for _, currency := range currencies {
		if sum := sums[currency]; !sum.IsZero() {
			return &UnbalancedError{Currency: currency, Sum: sum}
		}
	}

	return nil
}

// ValidateCurrencyCode validates that a currency code follows ISO 4217 format.
func ValidateCurrencyCode(code string) error {
	if code == "" {
		return fmt.Errorf("currency code cannot be empty")
	}

	if len(code) != 3 {
		return fmt.Errorf("currency code must be 3 characters (ISO 4217)")
	}

	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("currency code must contain only uppercase letters")
		}
	}

	return nil
}
