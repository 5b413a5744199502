package messaging

import (
	"context"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// AggregateTypeOrder: тип агрегата в outbox-сообщениях.
const AggregateTypeOrder = "order"

// ToOutboxMessages сериализует события агрегата в outbox-сообщения.
func ToOutboxMessages(events []domain.DomainEvent) ([]domain.OutboxMessage, error) {
	msgs := make([]domain.OutboxMessage, 0, len(events))
	for _, event := range events {
		body, err := Encode(event)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, domain.OutboxMessage{
			ID:            event.EventID(),
			AggregateType: AggregateTypeOrder,
			AggregateID:   event.AggregateID(),
			EventType:     string(event.Type()),
			Payload:       body,
			CreatedAt:     event.OccurredOn(),
		})
	}
	return msgs, nil
}

// OutboxRelay публикует сохранённые outbox-сообщения через тот же exchange.
type OutboxRelay struct {
	publisher *EventPublisher
}

// NewOutboxRelay создаёт relay поверх EventPublisher.
func NewOutboxRelay(publisher *EventPublisher) *OutboxRelay {
	return &OutboxRelay{publisher: publisher}
}

// Publish отправляет уже сериализованное тело под ключом, выведенным из типа события.
func (r *OutboxRelay) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	key, err := RoutingKeyFor(domain.EventType(msg.EventType))
	if err != nil {
		return err
	}
	return r.publisher.send(ctx, key, msg.Payload, msg.ID, msg.AggregateID)
}

// RoutingKeyOutboxDeadLetter: ключ для сообщений outbox, исчерпавших попытки публикации.
// Ни один участник на него не подписан; его читают только операторы.
const RoutingKeyOutboxDeadLetter = "outbox.deadletter"

// DeadLetterRelay публикует конверт неотправленного сообщения под RoutingKeyOutboxDeadLetter.
type DeadLetterRelay struct {
	publisher *EventPublisher
}

// NewDeadLetterRelay создаёт relay для мёртвых писем outbox.
func NewDeadLetterRelay(publisher *EventPublisher) *DeadLetterRelay {
	return &DeadLetterRelay{publisher: publisher}
}

func (r *DeadLetterRelay) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return r.publisher.send(ctx, RoutingKeyOutboxDeadLetter, msg.Payload, msg.ID, msg.AggregateID)
}

var (
	_ domain.OutboxPublisher = (*OutboxRelay)(nil)
	_ domain.OutboxPublisher = (*DeadLetterRelay)(nil)
)
