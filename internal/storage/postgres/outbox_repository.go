package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// pullPendingQuery выдаёт pending-сообщения в порядке постановки. Сообщения
// агрегата, у которого есть более раннее failed-событие, не выдаются: порядок
// событий внутри агрегата сохраняется до переигрывания из DLQ.
const pullPendingQuery = `
	SELECT m.id, m.aggregate_type, m.aggregate_id, m.event_type, m.payload
	FROM outbox_messages m
	WHERE m.status = 'pending'
	  AND NOT EXISTS (
	      SELECT 1
	      FROM outbox_messages f
	      WHERE f.status = 'failed'
	        AND f.aggregate_type = m.aggregate_type
	        AND f.aggregate_id = m.aggregate_id
	        AND (f.created_at, f.id) < (m.created_at, m.id)
	  )
	ORDER BY m.created_at, m.id
	LIMIT $1
`

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,0,$7,$7)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
		outboxStatusPending, now,
	)
	if err != nil {
		return domain.OutboxMessage{}, unavailableErr("enqueue outbox message", err)
	}

	return msg, nil
}

func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, pullPendingQuery, limit)
	if err != nil {
		return nil, unavailableErr("pull pending outbox messages", err)
	}
	defer rows.Close()

	return collectOutboxMessages(rows, limit)
}

func collectOutboxMessages(rows *sql.Rows, capacity int) ([]domain.OutboxMessage, error) {
	result := make([]domain.OutboxMessage, 0, capacity)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailableErr("iterate outbox rows", err)
	}
	return result, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`,
		outboxStatusPending,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, unavailableErr("outbox stats query", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.markStatus(id, outboxStatusSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return unavailableErr(fmt.Sprintf("mark outbox message as %s", status), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return unavailableErr(fmt.Sprintf("rows affected for outbox %s", status), err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}

	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
