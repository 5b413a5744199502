package messaging

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// EventPublisher сериализует доменные события и передаёт их транспорту.
// Без подтверждений и повторов: ошибка логируется и возвращается вызывающему.
type EventPublisher struct {
	transport Transport
	metrics   *metrics.ChoreographyMetrics
	logger    *log.Entry
}

// PublisherOption настраивает EventPublisher.
type PublisherOption func(*EventPublisher)

// WithPublisherMetrics подключает метрики публикации.
func WithPublisherMetrics(m *metrics.ChoreographyMetrics) PublisherOption {
	return func(p *EventPublisher) { p.metrics = m }
}

// WithPublisherLogger задаёт логгер.
func WithPublisherLogger(logger *log.Entry) PublisherOption {
	return func(p *EventPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewEventPublisher создаёт паблишер поверх транспорта.
func NewEventPublisher(transport Transport, opts ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		transport: transport,
		logger:    log.WithField("component", "event-publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish выводит ключ из типа события, кодирует его и отправляет в exchange.
func (p *EventPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	key, err := RoutingKeyFor(event.Type())
	if err != nil {
		return err
	}
	body, err := Encode(event)
	if err != nil {
		return err
	}
	return p.send(ctx, key, body, event.EventID(), event.AggregateID())
}

func (p *EventPublisher) send(ctx context.Context, key string, body []byte, eventID, orderID string) error {
	err := p.transport.Publish(ctx, key, body)
	p.metrics.RecordPublished(key, err)

	fields := log.Fields{
		"routing_key": key,
		"event_id":    eventID,
		"order_id":    orderID,
	}
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Warn("event publish failed, event dropped")
		return fmt.Errorf("publish %s: %w", key, err)
	}
	p.logger.WithFields(fields).Debug("event published")
	return nil
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
