package ordering_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
	"github.com/vladislavdragonenkov/orderflow/internal/ordering"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

func deliver(t *testing.T, event domain.DomainEvent) messaging.Delivery {
	t.Helper()
	key, err := messaging.RoutingKeyFor(event.Type())
	require.NoError(t, err)
	body, err := messaging.Encode(event)
	require.NoError(t, err)
	return messaging.Delivery{MessageID: event.EventID(), RoutingKey: key, Body: body, Attempt: 1}
}

func newReactor(t *testing.T, opts ...ordering.ReactorOption) (*ordering.Reactor, *ordering.Service, domain.OrderRepository, *recordingPublisher) {
	t.Helper()
	svc, repo, publisher := newService(t)
	opts = append([]ordering.ReactorOption{ordering.WithReactorLogger(quietLogger())}, opts...)
	return ordering.NewReactor(svc, opts...), svc, repo, publisher
}

func createOrder(t *testing.T, svc *ordering.Service) *domain.Order {
	t.Helper()
	order, err := svc.Create(context.Background(), "customer-1", []domain.OrderItem{item("A", "10", 2)})
	require.NoError(t, err)
	return order
}

func TestReactor_FirstSuccessAccepts(t *testing.T) {
	ctx := context.Background()
	reactor, svc, repo, publisher := newReactor(t)
	order := createOrder(t, svc)
	require.Equal(t, ordering.AcceptFirstSuccess, reactor.Policy())

	succeeded := deliver(t, domain.NewPaymentSucceeded(order.ID(), decimal.NewFromInt(20)))
	require.NoError(t, reactor.Handle(ctx, succeeded))
	requireStatus(t, repo, order.ID(), domain.OrderStatusAccepted)

	// Повтор того же исхода отклоняется агрегатом и не считается ошибкой доставки.
	require.NoError(t, reactor.Handle(ctx, succeeded))
	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewInventoryReserved(order.ID(), []string{"A"}))))
	require.Len(t, publisher.ofType(domain.EventTypeOrderAccepted), 1)
}

func TestReactor_FailuresCancelWithReason(t *testing.T) {
	ctx := context.Background()
	reactor, svc, repo, publisher := newReactor(t)

	paymentOrder := createOrder(t, svc)
	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewPaymentFailed(paymentOrder.ID(), "Amount exceeds limit"))))
	requireStatus(t, repo, paymentOrder.ID(), domain.OrderStatusCancelled)

	inventoryOrder := createOrder(t, svc)
	require.NoError(t, reactor.Handle(ctx, deliver(t,
		domain.NewInventoryReservationFailed(inventoryOrder.ID(), []string{"p-1", "p-2"}))))
	requireStatus(t, repo, inventoryOrder.ID(), domain.OrderStatusCancelled)

	cancelled := publisher.ofType(domain.EventTypeOrderCancelled)
	require.Len(t, cancelled, 2)
	require.Equal(t, "Payment failed: Amount exceeds limit", cancelled[0].(*domain.OrderCancelled).Reason)
	require.Equal(t, "Inventory reservation failed: p-1, p-2", cancelled[1].(*domain.OrderCancelled).Reason)
}

func TestReactor_FailureAfterAcceptCancels(t *testing.T) {
	ctx := context.Background()
	reactor, svc, repo, _ := newReactor(t)
	order := createOrder(t, svc)

	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewInventoryReserved(order.ID(), []string{"A"}))))
	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewPaymentFailed(order.ID(), "Amount exceeds limit"))))
	requireStatus(t, repo, order.ID(), domain.OrderStatusCancelled)
}

func TestReactor_MissingOrderDropped(t *testing.T) {
	reactor, _, _, publisher := newReactor(t)

	err := reactor.Handle(context.Background(), deliver(t, domain.NewPaymentSucceeded("missing", decimal.NewFromInt(1))))
	require.NoError(t, err)
	require.Empty(t, publisher.events)
}

func TestReactor_IgnoresNonOutcomes(t *testing.T) {
	reactor, _, _, _ := newReactor(t)

	err := reactor.Handle(context.Background(), deliver(t, domain.NewShippingArranged("o-1", "TRK-00000001", time.Now().UTC())))
	require.NoError(t, err)
}

func TestReactor_MalformedBody(t *testing.T) {
	reactor, _, _, _ := newReactor(t)

	err := reactor.Handle(context.Background(), messaging.Delivery{
		RoutingKey: messaging.RoutingKeyPaymentSucceeded,
		Body:       []byte("{not json"),
	})
	require.Error(t, err)
}

func TestReactor_AllRequiredWaitsForBoth(t *testing.T) {
	ctx := context.Background()
	reactor, svc, repo, publisher := newReactor(t, ordering.WithAllRequired(memory.NewPreconditionTracker()))
	require.Equal(t, ordering.AcceptAllRequired, reactor.Policy())
	order := createOrder(t, svc)

	payment := deliver(t, domain.NewPaymentSucceeded(order.ID(), decimal.NewFromInt(20)))
	require.NoError(t, reactor.Handle(ctx, payment))
	require.NoError(t, reactor.Handle(ctx, payment))
	requireStatus(t, repo, order.ID(), domain.OrderStatusPending)

	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewInventoryReserved(order.ID(), []string{"A"}))))
	requireStatus(t, repo, order.ID(), domain.OrderStatusAccepted)
	require.Len(t, publisher.ofType(domain.EventTypeOrderAccepted), 1)
}

func TestReactor_AllRequiredFailureStillCancels(t *testing.T) {
	ctx := context.Background()
	reactor, svc, repo, _ := newReactor(t, ordering.WithAllRequired(memory.NewPreconditionTracker()))
	order := createOrder(t, svc)

	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewPaymentSucceeded(order.ID(), decimal.NewFromInt(20)))))
	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewInventoryReservationFailed(order.ID(), []string{"A"}))))
	requireStatus(t, repo, order.ID(), domain.OrderStatusCancelled)
}

func TestReactor_AllRequiredLateSuccessLeavesNoTrackerState(t *testing.T) {
	ctx := context.Background()
	tracker := memory.NewPreconditionTracker()
	reactor, svc, repo, publisher := newReactor(t, ordering.WithAllRequired(tracker))
	order := createOrder(t, svc)

	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewPaymentFailed(order.ID(), "Card declined"))))
	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewInventoryReserved(order.ID(), []string{"A"}))))
	requireStatus(t, repo, order.ID(), domain.OrderStatusCancelled)
	require.Empty(t, publisher.ofType(domain.EventTypeOrderAccepted))

	// Если бы InventoryReserved попал в трекер, одного платежа хватило бы для готовности.
	ready, err := tracker.Satisfy(ctx, order.ID(), domain.PreconditionPayment)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestReactor_AllRequiredReplayAfterAcceptDiscarded(t *testing.T) {
	ctx := context.Background()
	tracker := memory.NewPreconditionTracker()
	reactor, svc, repo, publisher := newReactor(t, ordering.WithAllRequired(tracker))
	order := createOrder(t, svc)

	payment := deliver(t, domain.NewPaymentSucceeded(order.ID(), decimal.NewFromInt(20)))
	require.NoError(t, reactor.Handle(ctx, payment))
	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewInventoryReserved(order.ID(), []string{"A"}))))
	accepted := requireStatus(t, repo, order.ID(), domain.OrderStatusAccepted)

	require.NoError(t, reactor.Handle(ctx, payment))
	replayed := requireStatus(t, repo, order.ID(), domain.OrderStatusAccepted)
	require.Equal(t, accepted.Version(), replayed.Version())
	require.Len(t, publisher.ofType(domain.EventTypeOrderAccepted), 1)

	ready, err := tracker.Satisfy(ctx, order.ID(), domain.PreconditionInventory)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestReactor_AllRequiredMissingOrderDropped(t *testing.T) {
	ctx := context.Background()
	tracker := memory.NewPreconditionTracker()
	reactor, _, _, publisher := newReactor(t, ordering.WithAllRequired(tracker))

	require.NoError(t, reactor.Handle(ctx, deliver(t, domain.NewPaymentSucceeded("missing", decimal.NewFromInt(1)))))
	require.Empty(t, publisher.events)

	ready, err := tracker.Satisfy(ctx, "missing", domain.PreconditionInventory)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestReactor_TrackerErrorSurfaces(t *testing.T) {
	reactor, svc, _, _ := newReactor(t, ordering.WithAllRequired(failingTracker{}))
	order := createOrder(t, svc)

	err := reactor.Handle(context.Background(), deliver(t, domain.NewPaymentSucceeded(order.ID(), decimal.NewFromInt(20))))
	require.Error(t, err)
}

func TestReactor_AllRequiredWithoutTrackerFallsBack(t *testing.T) {
	reactor, _, _, _ := newReactor(t, ordering.WithAllRequired(nil))
	require.Equal(t, ordering.AcceptFirstSuccess, reactor.Policy())
}

func TestReactor_Binding(t *testing.T) {
	reactor, _, _, _ := newReactor(t)

	exclusive := reactor.Binding(messaging.QueueModeExclusive)
	require.Equal(t, ordering.ReactionQueue, exclusive.Queue)
	require.False(t, exclusive.Shared)
	require.ElementsMatch(t, []string{"PaymentSucceeded", "PaymentFailed", "InventoryReserved", "InventoryReservationFailed"}, exclusive.RoutingKeys)

	require.True(t, reactor.Binding(messaging.QueueModeShared).Shared)
}
