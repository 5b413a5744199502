package domain

import (
	"context"
	"time"
)

// EventPublisher передаёт доменное событие в шину. Fire-and-forget:
// ошибка возвращается только для логирования и метрик.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// Precondition: исход участника, необходимый для принятия заказа.
type Precondition string

const (
	PreconditionPayment   Precondition = "payment"
	PreconditionInventory Precondition = "inventory"
)

// RequiredPreconditions: полный набор исходов для политики all-required.
var RequiredPreconditions = []Precondition{PreconditionPayment, PreconditionInventory}

// PreconditionTracker накапливает успешные исходы по заказу.
type PreconditionTracker interface {
	// Satisfy отмечает исход и сообщает, собраны ли все RequiredPreconditions.
	Satisfy(ctx context.Context, orderID string, p Precondition) (bool, error)
	// Forget удаляет накопленное состояние заказа.
	Forget(ctx context.Context, orderID string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
