package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

func TestValidateTransferRequest(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		items   []domain.AccountItem
		wantErr error
	}{
		{
			name:  "balanced two legs",
			items: []domain.AccountItem{leg(a, "-30.00"), leg(b, "30.00")},
		},
		{
			name:  "balanced with zero leg",
			items: []domain.AccountItem{leg(a, "0"), leg(b, "0.00")},
		},
		{
			name: "balanced per currency",
			items: []domain.AccountItem{
				leg(a, "-1"), leg(b, "1"),
				{AccountID: a, Amount: domain.MustMoney("2.5", "EUR")},
				{AccountID: b, Amount: domain.MustMoney("-2.50", "EUR")},
			},
		},
		{
			name:  "four fractional digits",
			items: []domain.AccountItem{leg(a, "-0.0001"), leg(b, "0.0001")},
		},
		{
			name:  "trailing zeros beyond the stored scale",
			items: []domain.AccountItem{leg(a, "-1.500000"), leg(b, "1.5")},
		},
		{
			name:    "sub-scale legs that balance only before rounding",
			items:   []domain.AccountItem{leg(a, "0.00005"), leg(b, "0.00005"), leg(a, "-0.0001")},
			wantErr: domain.ErrAmountScale,
		},
		{
			name:    "no legs",
			wantErr: domain.ErrTooFewLegs,
		},
		{
			name:    "single leg",
			items:   []domain.AccountItem{leg(a, "0")},
			wantErr: domain.ErrTooFewLegs,
		},
		{
			name:    "missing account id",
			items:   []domain.AccountItem{leg(a, "-1"), leg(uuid.Nil, "1")},
			wantErr: domain.ErrMissingAccountID,
		},
		{
			name:    "unbalanced",
			items:   []domain.AccountItem{leg(a, "-1"), leg(b, "0.99")},
			wantErr: domain.ErrUnbalanced,
		},
		{
			name: "balanced in total but not per currency",
			items: []domain.AccountItem{
				leg(a, "-1"),
				{AccountID: b, Amount: domain.MustMoney("1", "EUR")},
			},
			wantErr: domain.ErrUnbalanced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.ValidateTransferRequest(request(tt.items...))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, domain.IsStructural(err))
			assert.True(t, domain.IsBusiness(err))
		})
	}
}

func TestValidateTransferRequest_ReportsFirstUnbalancedCurrency(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	req := request(
		domain.AccountItem{AccountID: a, Amount: domain.MustMoney("5", "USD")},
		domain.AccountItem{AccountID: b, Amount: domain.MustMoney("3", "EUR")},
	)

	var unbalanced *domain.UnbalancedError
	require.ErrorAs(t, domain.ValidateTransferRequest(req), &unbalanced)
	assert.Equal(t, "EUR", unbalanced.Currency)
	assert.Equal(t, "3", unbalanced.Sum.String())
}

func TestNewTransferRequest_CopiesItems(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	items := []domain.AccountItem{leg(a, "-1"), leg(b, "1")}

	req := request(items...)
	items[0].Amount = domain.MustMoney("-100", "USD")

	assert.Equal(t, "-1", req.Items[0].Amount.Amount.String())
	assert.Equal(t, []uuid.UUID{a, b}, req.AccountIDs())
}

func TestAccountIDs_Distinct(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	req := request(leg(b, "1"), leg(a, "-2"), leg(b, "1"))

	assert.Equal(t, []uuid.UUID{b, a}, req.AccountIDs())
}

func TestValidateCurrencyCode(t *testing.T) {
	tests := []struct {
		code    string
		wantErr bool
	}{
		{"USD", false},
		{"EUR", false},
		{"", true},
		{"US", true},
		{"usd", true},
		{"US1", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := domain.ValidateCurrencyCode(tt.code)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "70.00 USD", domain.MustMoney("70", "USD").String())
	assert.Equal(t, "-0.50 EUR", domain.MustMoney("-0.5", "EUR").String())
}
