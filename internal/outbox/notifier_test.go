package outbox_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/outbox"
)

type recordingSink struct {
	mu       sync.Mutex
	accounts []string
	err      error
	block    chan struct{}
}

func (s *recordingSink) Notify(_ context.Context, accountID string, _ *domain.Transfer) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, accountID)
	return s.err
}

func (s *recordingSink) notified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.accounts...)
	sort.Strings(out)
	return out
}

func expectedAccounts(transfer *domain.Transfer) []string {
	out := []string{transfer.Items[0].AccountID.String(), transfer.Items[1].AccountID.String()}
	sort.Strings(out)
	return out
}

func TestNotifier_NotifiesEachAccountOnce(t *testing.T) {
	sink := &recordingSink{}
	notifier := outbox.NewNotifier(sink, nil, time.Second, nil)
	transfer := sampleTransfer()
	transfer.Items = append(transfer.Items, transfer.Items[0])

	notifier.TransferCommitted(context.Background(), transfer)
	notifier.Close()

	assert.Equal(t, expectedAccounts(transfer), sink.notified())
}

func TestNotifier_Throttled(t *testing.T) {
	sink := &recordingSink{}
	notifier := outbox.NewNotifier(sink, outbox.NewLocalThrottle(time.Hour, 1), time.Second, nil)
	transfer := sampleTransfer()

	notifier.TransferCommitted(context.Background(), transfer)
	notifier.TransferCommitted(context.Background(), transfer)
	notifier.Close()

	assert.Equal(t, expectedAccounts(transfer), sink.notified())
}

func TestNotifier_DoesNotBlockCaller(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	notifier := outbox.NewNotifier(sink, nil, time.Second, nil)

	returned := make(chan struct{})
	go func() {
		notifier.TransferCommitted(context.Background(), sampleTransfer())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("TransferCommitted blocked on the sink")
	}

	close(sink.block)
	notifier.Close()
	assert.Len(t, sink.notified(), 2)
}

func TestNotifier_FailuresAreLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &recordingSink{err: errors.New("nats: connection closed")}
	notifier := outbox.NewNotifier(sink, nil, time.Second, zap.New(core))

	notifier.TransferCommitted(context.Background(), sampleTransfer())
	notifier.Close()

	assert.Equal(t, 2, logs.FilterMessage("account notification failed").Len())
}

func TestNotifier_IgnoresCallsAfterClose(t *testing.T) {
	sink := &recordingSink{}
	notifier := outbox.NewNotifier(sink, nil, time.Second, nil)
	notifier.Close()

	notifier.TransferCommitted(context.Background(), sampleTransfer())

	assert.Empty(t, sink.notified())
}

func TestNotifier_CloseRacingCommits(t *testing.T) {
	sink := &recordingSink{}
	notifier := outbox.NewNotifier(sink, nil, time.Second, nil)
	transfer := sampleTransfer()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifier.TransferCommitted(context.Background(), transfer)
		}()
	}
	notifier.Close()
	delivered := len(sink.notified())

	wg.Wait()
	assert.Len(t, sink.notified(), delivered, "nothing is delivered after Close returns")
	assert.Zero(t, delivered%2, "each accepted transfer notifies both accounts")
}
