package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/metrics"
)

// Broker delivers change records to consumers.
type Broker interface {
	Publish(ctx context.Context, routingKey string, event *domain.OutboxEvent) error
	Close() error
}

// Store is the relay's view of the outbox table.
type Store interface {
	ListUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
}

// RelayConfig controls polling and the broker circuit breaker.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	// BreakerFailures consecutive broker failures open the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

// DefaultRelayConfig returns the defaults used when nothing is configured.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Interval:        time.Second,
		BatchSize:       100,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Relay polls unpublished change records and hands them to the broker in order.
// Delivery is at least once: a crash between publish and mark republishes.
type Relay struct {
	store   Store
	broker  Broker
	breaker *gobreaker.CircuitBreaker
	cfg     RelayConfig
	logger  *zap.Logger
}

// NewRelay creates a new Relay.
func NewRelay(store Store, broker Broker, cfg RelayConfig, logger *zap.Logger) *Relay {
	defaults := DefaultRelayConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaults.BreakerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "outbox-relay"))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-broker",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Relay{
		store:   store,
		broker:  broker,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run flushes the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("outbox flush incomplete", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch and returns how many records were delivered.
// It stops at the first failure so records keep their order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.ListUnpublished(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list outbox events: %w", err)
	}

	published := 0
	for _, event := range events {
		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, r.broker.Publish(ctx, RoutingKey(event), event)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				metrics.OutboxPublishedTotal.WithLabelValues("rejected").Inc()
				return published, fmt.Errorf("broker unavailable (circuit breaker open): %w", err)
			}
			metrics.OutboxPublishedTotal.WithLabelValues("failed").Inc()
			return published, fmt.Errorf("failed to publish outbox event %s: %w", event.ID, err)
		}

		if err := r.store.MarkPublished(ctx, event.ID); err != nil {
			return published, err
		}
		metrics.OutboxPublishedTotal.WithLabelValues("published").Inc()
		published++
	}

	return published, nil
}
