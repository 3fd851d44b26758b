// Package outbox moves committed ledger changes to downstream consumers.
//
// Change records are written in the same unit of work as the transfer
// (Publisher), then relayed to a broker after commit (Relay). Post-commit
// account notifications are throttled per account and never block the
// transfer path (Notifier).
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// AggregateTransfer is the aggregate type of transfer change records.
const AggregateTransfer = "transfer"

// TransferCreatedEvent is the JSON payload of a transfer change record.
type TransferCreatedEvent struct {
	TransferID   string      `json:"transferId"`
	RequestID    string      `json:"requestId,omitempty"`
	City         string      `json:"city"`
	Type         string      `json:"type"`
	BookingDate  string      `json:"bookingDate"`
	TransferDate string      `json:"transferDate"`
	Items        []EventItem `json:"items"`
}

// EventItem is one leg of a TransferCreatedEvent.
type EventItem struct {
	AccountID string `json:"accountId"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Note      string `json:"note,omitempty"`
}

// NewTransferCreatedEvent builds the payload for transfer.
func NewTransferCreatedEvent(transfer *domain.Transfer) TransferCreatedEvent {
	event := TransferCreatedEvent{
		TransferID:   transfer.ID.String(),
		City:         transfer.City,
		Type:         string(transfer.Type),
		BookingDate:  transfer.BookingDate.Format(time.DateOnly),
		TransferDate: transfer.TransferDate.Format(time.DateOnly),
		Items:        make([]EventItem, 0, len(transfer.Items)),
	}
	if transfer.RequestID != uuid.Nil {
		event.RequestID = transfer.RequestID.String()
	}
	for _, item := range transfer.Items {
		event.Items = append(event.Items, EventItem{
			AccountID: item.AccountID.String(),
			Amount:    item.Amount.Amount.String(),
			Currency:  item.Amount.Currency,
			Note:      item.Note,
		})
	}
	return event
}

// RoutingKey returns the broker routing key of event, e.g. "ledger.transfer.payment".
func RoutingKey(event *domain.OutboxEvent) string {
	return "ledger." + event.AggregateType + "." + strings.ToLower(event.EventType)
}

// Publisher implements domain.ChangePublisher by appending to the outbox table.
type Publisher struct {
	repo domain.OutboxRepository
}

// NewPublisher creates a new Publisher.
func NewPublisher(repo domain.OutboxRepository) *Publisher {
	return &Publisher{repo: repo}
}

// PublishTransferCreated records transfer in the active unit of work.
// The record only becomes visible if that unit of work commits.
func (p *Publisher) PublishTransferCreated(ctx context.Context, transfer *domain.Transfer) error {
	if _, ok := domain.UnitOfWorkFromContext(ctx); !ok {
		return domain.ErrNoActiveTransaction
	}

	payload, err := json.Marshal(NewTransferCreatedEvent(transfer))
	if err != nil {
		return fmt.Errorf("failed to marshal transfer event: %w", err)
	}

	return p.repo.Append(ctx, &domain.OutboxEvent{
		AggregateType: AggregateTransfer,
		AggregateID:   transfer.ID,
		EventType:     string(transfer.Type),
		Payload:       payload,
	})
}
