package db

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// HistoricalReadProbe implements domain.HistoricalReadCapability.
// The store is probed once; the answer is cached for the process lifetime.
type HistoricalReadProbe struct {
	db      rowQuerier
	enabled bool
	logger  *zap.Logger

	once      sync.Once
	supported bool
}

// NewHistoricalReadProbe creates a probe. A disabled probe never reports support.
func NewHistoricalReadProbe(pool *pgxpool.Pool, enabled bool, logger *zap.Logger) *HistoricalReadProbe {
	return newHistoricalReadProbe(pool, enabled, logger)
}

func newHistoricalReadProbe(db rowQuerier, enabled bool, logger *zap.Logger) *HistoricalReadProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoricalReadProbe{db: db, enabled: enabled, logger: logger}
}

// HistoricalReadsSupported reports whether follower_read_timestamp() is available.
// The probe outlives the caller's cancellation so one aborted request cannot
// disable historical reads for the whole process.
func (p *HistoricalReadProbe) HistoricalReadsSupported(ctx context.Context) bool {
	if !p.enabled {
		return false
	}

	p.once.Do(func() {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()

		var ts any
		if err := p.db.QueryRow(probeCtx, `SELECT follower_read_timestamp()`).Scan(&ts); err != nil {
			p.logger.Info("historical reads unavailable, falling back to current reads", zap.Error(err))
			return
		}
		p.supported = true
	})
	return p.supported
}
