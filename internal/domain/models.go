package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits stored for every amount.
const AmountScale = 4

// Money is an exact decimal amount in a single currency.
// Signed amounts follow the ledger convention: credit positive, debit negative.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"` // ISO 4217 currency code (e.g., "USD")
}

// NewMoney parses a decimal string into Money.
func NewMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustMoney is like NewMoney but panics on a malformed amount.
// Intended for tests and static fixtures.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// String formats the amount with two decimal places followed by the currency.
func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// AccountType classifies an account on the balance sheet.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
)

// Account represents a ledger account.
// Balances change only through batched balance updates applied by the TransferEngine.
type Account struct {
	ID            uuid.UUID   `json:"id"`
	City          string      `json:"city"`
	Name          string      `json:"name"`
	Balance       Money       `json:"balance"`
	AllowNegative bool        `json:"allowNegative"`
	Type          AccountType `json:"type"`
	Closed        bool        `json:"closed"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// TransferType labels the business purpose of a transfer.
type TransferType string

const (
	TransferTypeBank       TransferType = "BANK"
	TransferTypePayment    TransferType = "PAYMENT"
	TransferTypeFee        TransferType = "FEE"
	TransferTypeGrant      TransferType = "GRANT"
	TransferTypeAdjustment TransferType = "ADJUSTMENT"
)

// AccountItem is one leg of a TransferRequest.
type AccountItem struct {
	AccountID uuid.UUID `json:"accountId"`
	Amount    Money     `json:"amount"`
	Note      string    `json:"note,omitempty"`
}

// TransferRequest is the client-supplied description of a multi-leg money movement.
// ID is the deduplication key; a request must not be modified after construction.
type TransferRequest struct {
	ID           uuid.UUID     `json:"id"`
	City         string        `json:"city"`
	Type         TransferType  `json:"type"`
	BookingDate  time.Time     `json:"bookingDate"`
	TransferDate time.Time     `json:"transferDate"`
	Items        []AccountItem `json:"items"`
}

// NewTransferRequest builds a request holding its own copy of items.
func NewTransferRequest(
	id uuid.UUID,
	city string,
	transferType TransferType,
	bookingDate, transferDate time.Time,
	items ...AccountItem,
) TransferRequest {
	return TransferRequest{
		ID:           id,
		City:         city,
		Type:         transferType,
		BookingDate:  bookingDate,
		TransferDate: transferDate,
		Items:        append([]AccountItem(nil), items...),
	}
}

// AccountIDs returns the distinct account ids referenced by the request, in leg order.
func (r TransferRequest) AccountIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(r.Items))
	ids := make([]uuid.UUID, 0, len(r.Items))
	for _, item := range r.Items {
		if _, ok := seen[item.AccountID]; ok {
			continue
		}
		seen[item.AccountID] = struct{}{}
		ids = append(ids, item.AccountID)
	}
	return ids
}

// Transfer is an append-only ledger record of a committed multi-leg transfer.
type Transfer struct {
	ID           uuid.UUID      `json:"id"`
	RequestID    uuid.UUID      `json:"requestId"`
	City         string         `json:"city"`
	Type         TransferType   `json:"type"`
	BookingDate  time.Time      `json:"bookingDate"`
	TransferDate time.Time      `json:"transferDate"`
	Items        []TransferItem `json:"items"`

	// Replayed is set when the transfer was returned by an idempotent replay
	// instead of being created by this call.
	Replayed bool `json:"-"`
}

// TransferItem is one leg of a committed Transfer.
// RunningBalance is the account balance before this transfer was applied.
type TransferItem struct {
	TransferID     uuid.UUID `json:"transferId"`
	AccountID      uuid.UUID `json:"accountId"`
	Amount         Money     `json:"amount"`
	RunningBalance Money     `json:"runningBalance"`
	Note           string    `json:"note,omitempty"`
}

// BalanceDelta is the net change applied to one account by a transfer.
type BalanceDelta struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
}

// OutboxEvent is a change record written in the same unit of work as the business data.
type OutboxEvent struct {
	ID            uuid.UUID `json:"id"`
	AggregateType string    `json:"aggregateType"`
	AggregateID   uuid.UUID `json:"aggregateId"`
	EventType     string    `json:"eventType"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MaxListLimit caps the number of transfers returned by one FindAll call.
const MaxListLimit = 100

// TransferFilter narrows FindAll results. Zero values mean "no filter".
type TransferFilter struct {
	City  string
	After uuid.UUID
	Limit int
}

// PageSize returns the number of rows FindAll returns at most for f.
func (f TransferFilter) PageSize() int {
	if f.Limit <= 0 || f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}
