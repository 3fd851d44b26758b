package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/outbox"
)

type fakeBroker struct {
	keys  []string
	ids   []uuid.UUID
	err   error
	calls int
}

func (b *fakeBroker) Publish(_ context.Context, routingKey string, event *domain.OutboxEvent) error {
	b.calls++
	if b.err != nil {
		return b.err
	}
	b.keys = append(b.keys, routingKey)
	b.ids = append(b.ids, event.ID)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func seed(t *testing.T, store *memOutbox, types ...domain.TransferType) {
	t.Helper()
	ctx := domain.ContextWithUnitOfWork(context.Background(), nopUOW{})
	publisher := outbox.NewPublisher(store)
	for _, tt := range types {
		transfer := sampleTransfer()
		transfer.Type = tt
		require.NoError(t, publisher.PublishTransferCreated(ctx, transfer))
	}
}

func TestRelay_FlushPublishesInOrder(t *testing.T) {
	store := &memOutbox{}
	seed(t, store, domain.TransferTypePayment, domain.TransferTypeFee, domain.TransferTypeGrant)
	broker := &fakeBroker{}
	relay := outbox.NewRelay(store, broker, outbox.RelayConfig{BatchSize: 10}, nil)

	n, err := relay.Flush(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"ledger.transfer.payment", "ledger.transfer.fee", "ledger.transfer.grant"}, broker.keys)
	assert.Equal(t, []uuid.UUID{store.events[0].ID, store.events[1].ID, store.events[2].ID}, broker.ids)

	n, err = relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "published records are not sent twice")
}

func TestRelay_FailureLeavesRecordsPending(t *testing.T) {
	store := &memOutbox{}
	seed(t, store, domain.TransferTypePayment, domain.TransferTypeFee)
	broker := &fakeBroker{err: errors.New("connection reset")}
	relay := outbox.NewRelay(store, broker, outbox.RelayConfig{}, nil)

	n, err := relay.Flush(context.Background())

	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, broker.calls, "flush stops at the first failure")

	pending, err := store.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRelay_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	store := &memOutbox{}
	seed(t, store, domain.TransferTypePayment)
	broker := &fakeBroker{err: errors.New("connection refused")}
	relay := outbox.NewRelay(store, broker, outbox.RelayConfig{
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := relay.Flush(context.Background())
		require.Error(t, err)
	}
	require.Equal(t, 2, broker.calls)

	_, err := relay.Flush(context.Background())
	assert.ErrorContains(t, err, "circuit breaker open")
	assert.Equal(t, 2, broker.calls, "open breaker short-circuits the broker")
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := &memOutbox{}
	seed(t, store, domain.TransferTypeBank)
	broker := &fakeBroker{}
	relay := outbox.NewRelay(store, broker, outbox.RelayConfig{Interval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		pending, _ := store.ListUnpublished(context.Background(), 10)
		return len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
