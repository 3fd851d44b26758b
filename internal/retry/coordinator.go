// Package retry re-executes whole units of work that failed on transient
// contention, with capped exponential backoff and per-attempt session tuning.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/metrics"
)

var tracer = otel.Tracer("ledger-service/retry")

// Config bounds the retry loop.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Coordinator implements domain.Executor.
type Coordinator struct {
	txManager  domain.TransactionManager
	tuner      *domain.SessionTuner
	classifier domain.ErrorClassifier
	cfg        Config
	logger     *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for retry and exhaustion messages.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// WithJitter replaces the jitter applied to each backoff delay.
func WithJitter(jitter func(d time.Duration) time.Duration) Option {
	return func(c *Coordinator) { c.jitter = jitter }
}

// NewCoordinator creates a new Coordinator. A nil tuner leaves sessions untouched.
func NewCoordinator(
	txManager domain.TransactionManager,
	tuner *domain.SessionTuner,
	classifier domain.ErrorClassifier,
	cfg Config,
	opts ...Option,
) *Coordinator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	c := &Coordinator{
		txManager:  txManager,
		tuner:      tuner,
		classifier: classifier,
		cfg:        cfg,
		logger:     zap.NewNop(),
		sleep:      SleepWithContext,
		jitter:     EqualJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "retry-coordinator"))
	return c
}

// Execute runs fn in a fresh unit of work per attempt.
//
// Each attempt stamps its number on the unit of work and applies the session
// tuner before fn runs. Business errors and non-transient failures end the loop
// at once. Transient contention is retried until MaxAttempts is reached, after
// which the last transient error is returned inside a *domain.RetriesExhaustedError.
func (c *Coordinator) Execute(ctx context.Context, opts domain.TxOptions, fn func(ctx context.Context) error) error {
	operation := metrics.OperationTransfer
	if opts.ReadOnly {
		operation = metrics.OperationRead
	}

	start := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	ctx, span := tracer.Start(ctx, "retry.Execute")
	defer span.End()

	var previous time.Duration
	for attempt := 1; ; attempt++ {
		err := c.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			uow, ok := domain.UnitOfWorkFromContext(txCtx)
			if !ok {
				return domain.ErrNoActiveTransaction
			}
			uow.SetAttempt(attempt)

			if c.tuner != nil {
				if err := c.tuner.Apply(txCtx, uow, opts); err != nil {
					return err
				}
			}
			return fn(txCtx)
		})
		span.SetAttributes(attribute.Int("retry.attempts", attempt))

		switch {
		case err == nil:
			metrics.AttemptsTotal.WithLabelValues(operation, metrics.OutcomeSuccess).Inc()
			return nil
		case domain.IsBusiness(err):
			metrics.AttemptsTotal.WithLabelValues(operation, metrics.OutcomeBusiness).Inc()
			return err
		case !c.classifier.IsTransient(err):
			metrics.AttemptsTotal.WithLabelValues(operation, metrics.OutcomeError).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		metrics.AttemptsTotal.WithLabelValues(operation, metrics.OutcomeTransient).Inc()

		if attempt >= c.cfg.MaxAttempts {
			exhausted := &domain.RetriesExhaustedError{Attempts: attempt, Err: err}
			c.logger.Error("giving up on transient contention",
				zap.Int("attempts", attempt),
				zap.Error(err))
			span.RecordError(exhausted)
			span.SetStatus(codes.Error, exhausted.Error())
			return exhausted
		}

		delay := c.nextDelay(attempt, previous)
		previous = delay

		c.logger.Warn("transient contention, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		metrics.RetriesTotal.WithLabelValues(operation).Inc()

		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, err)
		}
	}
}

// nextDelay never returns less than previous, so jitter cannot shrink the wait.
func (c *Coordinator) nextDelay(attempt int, previous time.Duration) time.Duration {
	d := c.jitter(Delay(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt))
	if d < previous {
		d = previous
	}
	return d
}
