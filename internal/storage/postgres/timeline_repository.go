package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	appendTimelineSQL = `
		INSERT INTO timeline_events (event_id, order_id, type, reason, occurred)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5)
		ON CONFLICT (event_id) WHERE event_id IS NOT NULL DO NOTHING`

	listTimelineSQL = `
		SELECT COALESCE(event_id, ''), order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`
)

// timelineRepository пишет историю заказа в timeline_events.
type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт историю заказов поверх PostgreSQL.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

// Append сохраняет запись; при повторной доставке события строка не дублируется.
func (r *timelineRepository) Append(entry domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	occurred := entry.Occurred
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := r.db.ExecContext(ctx, appendTimelineSQL,
		entry.EventID, entry.OrderID, entry.Type, entry.Reason, occurred.UTC())
	if err != nil {
		return fmt.Errorf("append timeline entry for order %s: %w", entry.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, listTimelineSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("query timeline for order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		var entry domain.TimelineEvent
		if err := rows.Scan(&entry.EventID, &entry.OrderID, &entry.Type, &entry.Reason, &entry.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		entry.Occurred = entry.Occurred.UTC()
		history = append(history, entry)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
