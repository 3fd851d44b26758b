package domain

import (
	"context"
	"fmt"
	"time"
)

// HistoricalReadCapability reports whether the store can serve historical reads.
type HistoricalReadCapability interface {
	HistoricalReadsSupported(ctx context.Context) bool
}

// SessionConfig holds the per-attempt transaction properties.
type SessionConfig struct {
	ApplicationName string
	// HighPriority is the level used when a unit of work is escalated.
	HighPriority Priority
	// EscalateOnRetry raises the priority from the second attempt onward.
	EscalateOnRetry bool
	// IdleTimeout aborts a transaction stalled for longer than this. Zero disables it.
	IdleTimeout    time.Duration
	HistoricalRead HistoricalRead
}

// SessionTuner applies SessionConfig to the active unit of work before each attempt.
type SessionTuner struct {
	cfg        SessionConfig
	capability HistoricalReadCapability
}

// NewSessionTuner creates a new SessionTuner. A nil capability disables historical reads.
func NewSessionTuner(cfg SessionConfig, capability HistoricalReadCapability) *SessionTuner {
	if cfg.HighPriority == "" {
		cfg.HighPriority = PriorityHigh
	}
	return &SessionTuner{cfg: cfg, capability: capability}
}

// PriorityFor returns the priority of the given attempt.
func (t *SessionTuner) PriorityFor(opts TxOptions, attempt int) Priority {
	if opts.Urgent {
		return t.cfg.HighPriority
	}
	if t.cfg.EscalateOnRetry && attempt > 1 {
		return t.cfg.HighPriority
	}
	return PriorityNormal
}

// Apply configures uow for its current attempt.
// Historical reads go first since they must precede any other statement.
func (t *SessionTuner) Apply(ctx context.Context, uow UnitOfWork, opts TxOptions) error {
	if opts.ReadOnly && opts.Historical && t.historicalReadsEnabled(ctx) {
		if err := uow.SetHistoricalRead(ctx, t.cfg.HistoricalRead); err != nil {
			return fmt.Errorf("failed to set historical read: %w", err)
		}
	}

	if opts.ReadOnly {
		if err := uow.SetReadOnly(ctx); err != nil {
			return fmt.Errorf("failed to set read only: %w", err)
		}
	}

	if priority := t.PriorityFor(opts, uow.Attempt()); priority != PriorityNormal {
		if err := uow.SetPriority(ctx, priority); err != nil {
			return fmt.Errorf("failed to set priority: %w", err)
		}
	}

	if t.cfg.ApplicationName != "" {
		if err := uow.SetApplicationName(ctx, t.cfg.ApplicationName); err != nil {
			return fmt.Errorf("failed to set application name: %w", err)
		}
	}

	if t.cfg.IdleTimeout > 0 {
		if err := uow.SetIdleTimeout(ctx, t.cfg.IdleTimeout); err != nil {
			return fmt.Errorf("failed to set idle timeout: %w", err)
		}
	}

	return nil
}

func (t *SessionTuner) historicalReadsEnabled(ctx context.Context) bool {
	if t.cfg.HistoricalRead.Mode == HistoricalReadNone || t.capability == nil {
		return false
	}
	return t.capability.HistoricalReadsSupported(ctx)
}
