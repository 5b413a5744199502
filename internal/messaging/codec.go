package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Encode сериализует поля события в JSON без конверта и версии схемы.
func Encode(event domain.DomainEvent) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.Type(), err)
	}
	return body, nil
}

// Decode восстанавливает событие по ключу маршрутизации доставки.
func Decode(routingKey string, body []byte) (domain.DomainEvent, error) {
	eventType, err := EventTypeForKey(routingKey)
	if err != nil {
		return nil, err
	}
	return DecodeType(eventType, body)
}

// DecodeType восстанавливает событие по тегу типа (используется outbox-ом).
func DecodeType(eventType domain.EventType, body []byte) (domain.DomainEvent, error) {
	event, err := newEvent(eventType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, event); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", eventType, err)
	}
	return event, nil
}

func newEvent(eventType domain.EventType) (domain.DomainEvent, error) {
	switch eventType {
	case domain.EventTypeOrderCreated:
		return &domain.OrderCreated{}, nil
	case domain.EventTypeOrderAccepted:
		return &domain.OrderAccepted{}, nil
	case domain.EventTypeOrderCancelled:
		return &domain.OrderCancelled{}, nil
	case domain.EventTypeOrderCompleted:
		return &domain.OrderCompleted{}, nil
	case domain.EventTypePaymentSucceeded:
		return &domain.PaymentSucceeded{}, nil
	case domain.EventTypePaymentFailed:
		return &domain.PaymentFailed{}, nil
	case domain.EventTypeInventoryReserved:
		return &domain.InventoryReserved{}, nil
	case domain.EventTypeInventoryReservationFailed:
		return &domain.InventoryReservationFailed{}, nil
	case domain.EventTypeShippingArranged:
		return &domain.ShippingArranged{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEventType, eventType)
	}
}
