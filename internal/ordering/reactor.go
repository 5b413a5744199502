package ordering

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// ReactionQueue: очередь обработчиков реакций ordering.
const ReactionQueue = "ordering"

// AcceptPolicy определяет, какой исход принимает заказ.
type AcceptPolicy string

const (
	// AcceptFirstSuccess принимает заказ на первом успешном исходе, не дожидаясь второго.
	AcceptFirstSuccess AcceptPolicy = "first-success"
	// AcceptAllRequired принимает заказ только после оплаты и резерва.
	AcceptAllRequired AcceptPolicy = "all-required"
)

// Результаты реакции для метрик.
const (
	reactionApplied   = "applied"
	reactionWaiting   = "waiting"
	reactionDropped   = "dropped"
	reactionDiscarded = "discarded"
	reactionError     = "error"
)

// ReactionKeys: исходы участников, на которые реагирует ordering.
func ReactionKeys() []string {
	return []string{
		messaging.RoutingKeyPaymentSucceeded,
		messaging.RoutingKeyPaymentFailed,
		messaging.RoutingKeyInventoryReserved,
		messaging.RoutingKeyInventoryReservationFailed,
	}
}

// Reactor переводит исходы участников в переходы агрегата.
// Дедупликации нет: повтор исхода доходит до агрегата и отклоняется им.
type Reactor struct {
	service *Service
	policy  AcceptPolicy
	tracker domain.PreconditionTracker
	metrics *metrics.ChoreographyMetrics
	logger  *log.Entry
}

// ReactorOption настраивает Reactor.
type ReactorOption func(*Reactor)

// WithAllRequired включает политику AcceptAllRequired с указанным трекером.
func WithAllRequired(tracker domain.PreconditionTracker) ReactorOption {
	return func(r *Reactor) {
		r.policy = AcceptAllRequired
		r.tracker = tracker
	}
}

// WithReactorMetrics подключает метрики реакций.
func WithReactorMetrics(m *metrics.ChoreographyMetrics) ReactorOption {
	return func(r *Reactor) { r.metrics = m }
}

// WithReactorLogger задаёт логгер.
func WithReactorLogger(logger *log.Entry) ReactorOption {
	return func(r *Reactor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReactor создаёт обработчик реакций поверх сервиса заказов.
func NewReactor(service *Service, opts ...ReactorOption) *Reactor {
	r := &Reactor{
		service: service,
		policy:  AcceptFirstSuccess,
		logger:  log.WithField("component", "ordering-reactor"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy == AcceptAllRequired && r.tracker == nil {
		r.policy = AcceptFirstSuccess
		r.logger.Warn("all-required policy without tracker, falling back to first-success")
	}
	return r
}

// Policy возвращает действующую политику принятия.
func (r *Reactor) Policy() AcceptPolicy {
	return r.policy
}

// Binding возвращает привязку очереди реакций.
func (r *Reactor) Binding(mode messaging.QueueMode) messaging.Binding {
	return messaging.Binding{
		Queue:       ReactionQueue,
		RoutingKeys: ReactionKeys(),
		Shared:      mode == messaging.QueueModeShared,
	}
}

// Handle декодирует исход и применяет соответствующий переход.
// Отсутствующий заказ и недопустимый переход не считаются ошибкой доставки.
func (r *Reactor) Handle(ctx context.Context, d messaging.Delivery) error {
	event, err := messaging.Decode(d.RoutingKey, d.Body)
	if err != nil {
		return fmt.Errorf("decode outcome %s: %w", d.RoutingKey, err)
	}

	switch e := event.(type) {
	case *domain.PaymentSucceeded:
		return r.succeed(ctx, d.RoutingKey, e.OrderID, domain.PreconditionPayment)
	case *domain.InventoryReserved:
		return r.succeed(ctx, d.RoutingKey, e.OrderID, domain.PreconditionInventory)
	case *domain.PaymentFailed:
		return r.fail(ctx, d.RoutingKey, e.OrderID, "Payment failed: "+e.Reason)
	case *domain.InventoryReservationFailed:
		return r.fail(ctx, d.RoutingKey, e.OrderID,
			"Inventory reservation failed: "+strings.Join(e.UnavailableProducts, ", "))
	default:
		r.logger.WithField("routing_key", d.RoutingKey).Debug("event is not an outcome, skipped")
		return nil
	}
}

func (r *Reactor) succeed(ctx context.Context, key, orderID string, p domain.Precondition) error {
	if r.policy == AcceptAllRequired {
		// Исход для заказа вне Pending в трекер не попадает.
		if err := r.ensurePending(orderID); err != nil {
			return r.settle(ctx, key, orderID, err)
		}
		ready, err := r.tracker.Satisfy(ctx, orderID, p)
		if err != nil {
			r.metrics.RecordReaction(key, reactionError)
			return err
		}
		if !ready {
			// Заказ мог быть отменён между проверкой и Satisfy.
			if err := r.ensurePending(orderID); err != nil {
				return r.settle(ctx, key, orderID, err)
			}
			r.metrics.RecordReaction(key, reactionWaiting)
			r.logger.WithFields(log.Fields{
				"order_id":     orderID,
				"precondition": p,
			}).Debug("waiting for remaining preconditions")
			return nil
		}
	}

	_, err := r.service.Accept(ctx, orderID)
	return r.settle(ctx, key, orderID, err)
}

func (r *Reactor) ensurePending(orderID string) error {
	order, err := r.service.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status() != domain.OrderStatusPending {
		return fmt.Errorf("order %s is %s: %w", orderID, order.Status(), domain.ErrOrderNotPending)
	}
	return nil
}

func (r *Reactor) fail(ctx context.Context, key, orderID, reason string) error {
	_, err := r.service.Cancel(ctx, orderID, reason)
	return r.settle(ctx, key, orderID, err)
}

func (r *Reactor) settle(ctx context.Context, key, orderID string, err error) error {
	logger := r.logger.WithFields(log.Fields{"order_id": orderID, "routing_key": key})

	switch {
	case err == nil:
		r.metrics.RecordReaction(key, reactionApplied)
		logger.Info("outcome applied")
	case domain.IsNotFound(err):
		r.metrics.RecordReaction(key, reactionDropped)
		logger.Warn("order not found, outcome dropped")
		return nil
	case domain.IsInvalidState(err):
		r.metrics.RecordReaction(key, reactionDiscarded)
		logger.WithError(err).Info("outcome discarded")
	default:
		r.metrics.RecordReaction(key, reactionError)
		return err
	}

	if r.policy == AcceptAllRequired {
		if err := r.tracker.Forget(ctx, orderID); err != nil {
			logger.WithError(err).Warn("failed to forget preconditions")
		}
	}
	return nil
}
