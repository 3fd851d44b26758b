package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

type recordingPublisher struct {
	store     *memStore
	published []uuid.UUID
	err       error
}

func (p *recordingPublisher) PublishTransferCreated(ctx context.Context, transfer *domain.Transfer) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, transfer.ID)
	return p.store.Append(ctx, &domain.OutboxEvent{ID: uuid.New(), AggregateID: transfer.ID})
}

type recordingListener struct {
	committed []uuid.UUID
}

func (l *recordingListener) TransferCommitted(_ context.Context, transfer *domain.Transfer) {
	l.committed = append(l.committed, transfer.ID)
}

type serviceFixture struct {
	store     *memStore
	publisher *recordingPublisher
	listener  *recordingListener
	logs      *observer.ObservedLogs
	service   *domain.TransferService
}

func newServiceFixture(accounts ...domain.Account) *serviceFixture {
	store := newMemStore(accounts...)
	core, logs := observer.New(zap.InfoLevel)
	f := &serviceFixture{
		store:     store,
		publisher: &recordingPublisher{store: store},
		listener:  &recordingListener{},
		logs:      logs,
	}
	f.service = domain.NewTransferService(
		domain.NewTransferEngine(store, memTransfers{store}, domain.EngineConfig{Idempotency: true}),
		singleShot{memTxManager{store}},
		f.publisher,
		f.listener,
		store,
		memTransfers{store},
		zap.New(core),
	)
	return f
}

func TestTransferService_CreateTransfer(t *testing.T) {
	a, b := account("100.00", false), account("0.00", false)
	f := newServiceFixture(a, b)

	transfer, err := f.service.CreateTransfer(context.Background(),
		request(leg(a.ID, "-30.00"), leg(b.ID, "30.00")), false)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{transfer.ID}, f.publisher.published)
	assert.Equal(t, []uuid.UUID{transfer.ID}, f.listener.committed)
	assert.Len(t, f.store.outbox, 1)
}

func TestTransferService_ReplaySkipsPublisherAndListener(t *testing.T) {
	a, b := account("100.00", false), account("0.00", false)
	f := newServiceFixture(a, b)
	req := request(leg(a.ID, "-30.00"), leg(b.ID, "30.00"))

	first, err := f.service.CreateTransfer(context.Background(), req, false)
	require.NoError(t, err)
	replay, err := f.service.CreateTransfer(context.Background(), req, false)
	require.NoError(t, err)

	assert.True(t, replay.Replayed)
	assert.Equal(t, first.ID, replay.ID)
	assert.Len(t, f.publisher.published, 1)
	assert.Len(t, f.listener.committed, 1)
	assert.Len(t, f.store.outbox, 1)
	assert.Equal(t, 1, f.logs.FilterMessage("transfer request replayed").Len())
}

func TestTransferService_PublisherFailureRollsBack(t *testing.T) {
	a, b := account("100.00", false), account("0.00", false)
	f := newServiceFixture(a, b)
	f.publisher.err = errors.New("outbox unavailable")

	_, err := f.service.CreateTransfer(context.Background(),
		request(leg(a.ID, "-30.00"), leg(b.ID, "30.00")), false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish change event")
	assert.Equal(t, "100.00", f.store.balance(a.ID))
	assert.Equal(t, 0, f.store.transferCount())
	assert.Empty(t, f.listener.committed)
	assert.Equal(t, 1, f.logs.FilterMessage("transfer failed").Len())
}

func TestTransferService_BusinessRejectionLoggedAtInfo(t *testing.T) {
	a, b := account("10.00", false), account("0.00", false)
	f := newServiceFixture(a, b)
	req := request(leg(a.ID, "-30.00"), leg(b.ID, "30.00"))

	_, err := f.service.CreateTransfer(context.Background(), req, false)
	require.ErrorIs(t, err, domain.ErrNegativeBalance)

	entries := f.logs.FilterMessage("transfer request rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, req.ID.String(), entries[0].ContextMap()["request_id"])
	assert.Contains(t, entries[0].ContextMap(), "request")
	assert.Empty(t, f.listener.committed)
}

func TestTransferService_Reads(t *testing.T) {
	a, b := account("100.00", false), account("5.00", false)
	f := newServiceFixture(a, b)

	transfer, err := f.service.CreateTransfer(context.Background(),
		request(leg(a.ID, "-1.00"), leg(b.ID, "1.00")), false)
	require.NoError(t, err)

	got, err := f.service.FindByID(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)

	_, err = f.service.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)

	all, err := f.service.FindAll(context.Background(), domain.TransferFilter{City: "stockholm"})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	balances, err := f.service.AccountBalances(context.Background(), []uuid.UUID{a.ID, b.ID}, true)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "99.00", balances[0].Balance.Amount.StringFixed(2))
	assert.Equal(t, "6.00", balances[1].Balance.Amount.StringFixed(2))

	_, err = f.service.GetAccount(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
