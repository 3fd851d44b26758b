package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{
		pool: pool,
	}
}

// Append writes event in the caller's transaction. The store generates ID and CreatedAt.
func (r *OutboxRepository) Append(ctx context.Context, event *domain.OutboxEvent) error {
	query := `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}

	return nil
}

// ListUnpublished returns up to limit events not yet handed to the broker, oldest first.
func (r *OutboxRepository) ListUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`

	rows, err := conn(ctx, r.pool).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		if err := rows.Scan(
			&event.ID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}

	return events, nil
}

// MarkPublished stamps the event as delivered.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbox SET published_at = now() WHERE id = $1 AND published_at IS NULL`

	if _, err := conn(ctx, r.pool).Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark outbox event published: %w", err)
	}

	return nil
}
