// Package ordering владеет агрегатом заказа: команды фронт-двери и реакции на исходы участников.
package ordering

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// PublishMode определяет, как события попадают в шину после записи заказа.
type PublishMode string

const (
	// PublishDirect публикует события сразу после записи; сбой между записью и публикацией теряет событие.
	PublishDirect PublishMode = "direct"
	// PublishOutbox пишет события в outbox той же транзакцией; их публикует outbox.Relay.
	PublishOutbox PublishMode = "outbox"
)

const (
	defaultConflictAttempts = 3
	defaultConflictDelay    = 10 * time.Millisecond
)

// Service выполняет команды над заказом: загрузка, переход, запись, публикация.
type Service struct {
	orders    domain.OrderRepository
	outbox    domain.TransactionalOrderRepository
	publisher domain.EventPublisher
	timeline  domain.TimelineRepository
	metrics   *metrics.ChoreographyMetrics
	logger    *log.Entry

	conflictAttempts int
	conflictDelay    time.Duration
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox переключает сервис в режим PublishOutbox.
func WithOutbox(repo domain.TransactionalOrderRepository) Option {
	return func(s *Service) { s.outbox = repo }
}

// WithTimeline включает запись истории заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = repo }
}

// WithMetrics подключает метрики переходов.
func WithMetrics(m *metrics.ChoreographyMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConflictRetry задаёт число попыток и базовую задержку при конфликте версий.
func WithConflictRetry(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.conflictAttempts = attempts
		}
		if delay >= 0 {
			s.conflictDelay = delay
		}
	}
}

// NewService создаёт сервис. publisher может быть nil в режиме outbox.
func NewService(orders domain.OrderRepository, publisher domain.EventPublisher, opts ...Option) *Service {
	s := &Service{
		orders:           orders,
		publisher:        publisher,
		logger:           log.WithField("component", "ordering"),
		conflictAttempts: defaultConflictAttempts,
		conflictDelay:    defaultConflictDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.outbox != nil {
		s.orders = s.outbox
	}
	return s
}

// Mode сообщает текущий режим публикации.
func (s *Service) Mode() PublishMode {
	if s.outbox != nil {
		return PublishOutbox
	}
	return PublishDirect
}

// Create валидирует вход, сохраняет новый заказ и публикует OrderCreatedEvent.
func (s *Service) Create(ctx context.Context, customerID string, items []domain.OrderItem) (*domain.Order, error) {
	order, err := domain.NewOrder(customerID, items)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, order, true); err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID(),
		"customer_id": order.CustomerID(),
		"total":       order.TotalAmount().StringFixed(2),
	}).Info("order created")
	return order, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(id string) (*domain.Order, error) {
	return s.orders.Get(id)
}

// List возвращает последние заказы.
func (s *Service) List(limit int) ([]*domain.Order, error) {
	return s.orders.List(limit)
}

// ListByCustomer возвращает заказы клиента.
func (s *Service) ListByCustomer(customerID string, limit int) ([]*domain.Order, error) {
	return s.orders.ListByCustomer(customerID, limit)
}

// Accept переводит заказ в Accepted.
func (s *Service) Accept(ctx context.Context, id string) (*domain.Order, error) {
	return s.mutate(ctx, id, "accept", (*domain.Order).Accept)
}

// Cancel отменяет заказ с непустой причиной.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*domain.Order, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.ErrCancelReasonRequired
	}
	return s.mutate(ctx, id, "cancel", func(o *domain.Order) error { return o.Cancel(reason) })
}

// Complete завершает принятый заказ.
func (s *Service) Complete(ctx context.Context, id string) (*domain.Order, error) {
	return s.mutate(ctx, id, "complete", (*domain.Order).Complete)
}

// UpdateItems заменяет позиции Pending-заказа.
func (s *Service) UpdateItems(ctx context.Context, id string, items []domain.OrderItem) (*domain.Order, error) {
	return s.mutate(ctx, id, "update_items", func(o *domain.Order) error { return o.UpdateItems(items) })
}

// Timeline возвращает историю заказа. Пустой список, если история не ведётся.
func (s *Service) Timeline(id string) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return s.timeline.List(id)
}

// mutate загружает заказ, применяет переход и сохраняет его. При конфликте версий
// переход повторяется на свежем состоянии, поэтому проигравший гонку получает ErrInvalidState.
func (s *Service) mutate(ctx context.Context, id, op string, apply func(*domain.Order) error) (*domain.Order, error) {
	delay := s.conflictDelay
	for attempt := 1; ; attempt++ {
		order, err := s.orders.Get(id)
		if err != nil {
			return nil, err
		}
		if err := apply(order); err != nil {
			return nil, err
		}

		err = s.commit(ctx, order, false)
		if err == nil {
			return persisted(order), nil
		}
		if !domain.IsVersionConflict(err) || attempt >= s.conflictAttempts {
			return nil, err
		}

		s.logger.WithFields(log.Fields{
			"order_id":  id,
			"operation": op,
			"attempt":   attempt,
			"version":   order.Version(),
		}).Warn("version conflict detected, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// commit пишет заказ и затем сбрасывает буфер событий: в outbox той же операцией
// либо напрямую в шину после успешной записи.
func (s *Service) commit(ctx context.Context, order *domain.Order, created bool) error {
	if err := s.persist(order, created); err != nil {
		return err
	}

	for _, event := range order.PullEvents() {
		s.metrics.RecordTransition(string(event.Type()))
		s.appendTimeline(event)
		if s.outbox != nil || s.publisher == nil {
			continue
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id":   event.AggregateID(),
				"event_type": event.Type(),
			}).Warn("event lost after persist")
		}
	}
	return nil
}

func (s *Service) persist(order *domain.Order, created bool) error {
	if s.outbox == nil {
		if created {
			return s.orders.Create(order)
		}
		return s.orders.Save(order)
	}

	msgs, err := messaging.ToOutboxMessages(order.PendingEvents())
	if err != nil {
		return err
	}
	if created {
		return s.outbox.CreateWithOutbox(order, msgs)
	}
	return s.outbox.SaveWithOutbox(order, msgs)
}

func (s *Service) appendTimeline(event domain.DomainEvent) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.Append(domain.TimelineEventFrom(event)); err != nil {
		s.logger.WithError(err).WithField("order_id", event.AggregateID()).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}

// persisted возвращает состояние заказа так, как его видит хранилище после Save.
func persisted(order *domain.Order) *domain.Order {
	snapshot := order.Snapshot()
	snapshot.Version++
	return domain.RestoreOrder(snapshot)
}
