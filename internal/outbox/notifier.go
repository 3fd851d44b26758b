package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/metrics"
)

// Sink receives account notifications.
type Sink interface {
	Notify(ctx context.Context, accountID string, transfer *domain.Transfer) error
}

// AccountChanged is the payload of an account notification.
type AccountChanged struct {
	AccountID  string `json:"accountId"`
	TransferID string `json:"transferId"`
	City       string `json:"city"`
}

func accountChangedPayload(accountID string, transfer *domain.Transfer) ([]byte, error) {
	data, err := json.Marshal(AccountChanged{
		AccountID:  accountID,
		TransferID: transfer.ID.String(),
		City:       transfer.City,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return data, nil
}

// Notifier implements domain.CommitListener.
//
// Each touched account is notified on its own goroutine, at most as often as
// the throttle allows. Failures are logged and counted, never returned.
type Notifier struct {
	sink     Sink
	throttle Throttle
	timeout  time.Duration
	logger   *zap.Logger

	// mu orders wg.Add in TransferCommitted before wg.Wait in Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotifier creates a new Notifier. A nil throttle notifies every time.
func NewNotifier(sink Sink, throttle Throttle, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		sink:     sink,
		throttle: throttle,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "notifier")),
	}
}

// TransferCommitted returns immediately.
func (n *Notifier) TransferCommitted(ctx context.Context, transfer *domain.Transfer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	// Detached from the request so a finished HTTP call doesn't cancel delivery.
	base := context.WithoutCancel(ctx)

	seen := make(map[string]struct{}, len(transfer.Items))
	for _, item := range transfer.Items {
		accountID := item.AccountID.String()
		if _, ok := seen[accountID]; ok {
			continue
		}
		seen[accountID] = struct{}{}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.notify(base, accountID, transfer)
		}()
	}
}

func (n *Notifier) notify(ctx context.Context, accountID string, transfer *domain.Transfer) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if n.throttle != nil {
		allowed, err := n.throttle.Allow(ctx, accountID)
		switch {
		case err != nil:
			// Fail open: a throttle outage must not silence notifications.
			n.logger.Warn("throttle unavailable", zap.String("account_id", accountID), zap.Error(err))
		case !allowed:
			metrics.NotificationsTotal.WithLabelValues("throttled").Inc()
			return
		}
	}

	if err := n.sink.Notify(ctx, accountID, transfer); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		n.logger.Warn("account notification failed",
			zap.String("account_id", accountID),
			zap.Stringer("transfer_id", transfer.ID),
			zap.Error(err))
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}

// Close stops accepting notifications and waits for in-flight ones.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}
