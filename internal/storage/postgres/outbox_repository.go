package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	outboxStatusSent   = "sent"
	outboxStatusFailed = "failed"

	insertOutboxSQL = `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7)`

	pendingOutboxSQL = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT $1`

	outboxStatsSQL = `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'`

	markOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`

	purgeOutboxSQL = `
		DELETE FROM outbox_messages
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'sent' AND updated_at <= $1
			ORDER BY seq
			LIMIT $2
		)`
)

// outboxRepository хранит события, записанные вместе с заказом, до их публикации relay-ем.
type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт outbox поверх таблицы outbox_messages.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msg = withOutboxDefaults(msg)
	if err := insertOutbox(ctx, r.db, msg); err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

// PullPending отдаёт до limit неотправленных событий в порядке записи (seq).
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, pendingOutboxSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	batch := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		msg, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, msg)
	}
	return batch, rows.Err()
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, outboxStatsSQL).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("query outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed выводит событие из backlog после передачи в dead-letter.
func (r *outboxRepository) MarkFailed(id string) error {
	return r.mark(id, outboxStatusFailed)
}

// PurgeSent удаляет до limit отправленных сообщений, обновлённых не позже before.
func (r *outboxRepository) PurgeSent(before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, purgeOutboxSQL, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("purge sent outbox: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sent outbox: %w", err)
	}
	return int(deleted), nil
}

func (r *outboxRepository) mark(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, markOutboxSQL, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	} else if n == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

// enqueueOutbox пишет события внутри транзакции сохранения заказа.
func enqueueOutbox(ctx context.Context, tx execer, msgs []domain.OutboxMessage) error {
	for _, msg := range msgs {
		if err := insertOutbox(ctx, tx, withOutboxDefaults(msg)); err != nil {
			return err
		}
	}
	return nil
}

func insertOutbox(ctx context.Context, db execer, msg domain.OutboxMessage) error {
	_, err := db.ExecContext(ctx, insertOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
		msg.CreatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox %s (%s): %w", msg.ID, msg.EventType, err)
	}
	return nil
}

func scanOutbox(rows *sql.Rows) (domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.CreatedAt); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("scan outbox row: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func withOutboxDefaults(msg domain.OutboxMessage) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
