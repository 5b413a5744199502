package participant_test

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/inmemory"
	"github.com/vladislavdragonenkov/orderflow/internal/participant"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "participant-test")
}

func orderCreated(total string, productIDs ...string) *domain.OrderCreated {
	return domain.NewOrderCreated("order-1", "customer-1", decimal.RequireFromString(total), productIDs)
}

func decide(t *testing.T, p participant.Participant, trigger domain.DomainEvent) domain.DomainEvent {
	t.Helper()
	outcome, err := p.Decide(context.Background(), trigger)
	require.NoError(t, err)
	return outcome
}

func TestPayment_Decision(t *testing.T) {
	p := participant.NewPayment(participant.DefaultPaymentLimit, 0)
	require.Equal(t, []string{messaging.RoutingKeyOrderCreated}, p.RoutingKeys)

	approved := decide(t, p, orderCreated("5000"))
	require.IsType(t, &domain.PaymentSucceeded{}, approved)
	require.True(t, approved.(*domain.PaymentSucceeded).Amount.Equal(decimal.NewFromInt(5000)))

	rejected := decide(t, p, orderCreated("5000.01"))
	require.IsType(t, &domain.PaymentFailed{}, rejected)
	require.Equal(t, participant.PaymentLimitReason, rejected.(*domain.PaymentFailed).Reason)

	require.Nil(t, decide(t, p, domain.NewOrderAccepted("order-1")))
}

func TestInventory_Decision(t *testing.T) {
	p := participant.NewInventory([]string{"discontinued"}, 0)

	reserved := decide(t, p, orderCreated("10", "p-1", "p-2"))
	require.IsType(t, &domain.InventoryReserved{}, reserved)
	require.Equal(t, []string{"p-1", "p-2"}, reserved.(*domain.InventoryReserved).ProductIDs)

	failed := decide(t, p, orderCreated("10", "p-1", "discontinued", "discontinued"))
	require.IsType(t, &domain.InventoryReservationFailed{}, failed)
	require.Equal(t, []string{"discontinued"}, failed.(*domain.InventoryReservationFailed).UnavailableProducts)
}

func TestShipping_Decision(t *testing.T) {
	p := participant.NewShipping(0)
	require.Equal(t, []string{messaging.RoutingKeyOrderAccepted}, p.RoutingKeys)

	before := time.Now().UTC()
	outcome := decide(t, p, domain.NewOrderAccepted("order-1"))
	arranged, ok := outcome.(*domain.ShippingArranged)
	require.True(t, ok)
	require.Regexp(t, regexp.MustCompile(`^TRK-\d{8}$`), arranged.TrackingNumber)
	require.WithinDuration(t, before.Add(participant.DeliveryWindow), arranged.EstimatedDelivery, time.Minute)

	require.Nil(t, decide(t, p, orderCreated("1")))
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []participant.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification participant.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func TestNotification_RendersAndPublishesNothing(t *testing.T) {
	notifier := &recordingNotifier{}
	p := participant.NewNotification(notifier, 0)

	require.Contains(t, p.RoutingKeys, messaging.RoutingKeyOrderCompletedTypo)
	require.Contains(t, p.RoutingKeys, messaging.RoutingKeyShippingArranged)

	require.Nil(t, decide(t, p, domain.NewOrderCancelled("order-1", "r")))
	require.Len(t, notifier.sent, 1)
	require.Equal(t, "Order cancellation notification sent", notifier.sent[0].Text)
	require.Equal(t, "order-1", notifier.sent[0].OrderID)
}

func TestRender(t *testing.T) {
	require.Equal(t, "Your order has been completed and shipped!", participant.Render("ordercompletededvent", "o").Text)
	require.Equal(t, "Payment confirmation sent", participant.Render("PaymentSucceeded", "o").Text)
	require.Equal(t, "General notification sent", participant.Render("unknown", "o").Text)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.DomainEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func TestRunner_HandlePublishesOutcome(t *testing.T) {
	publisher := &capturePublisher{}
	runner := participant.NewRunner(participant.NewPayment(participant.DefaultPaymentLimit, time.Millisecond), nil, publisher,
		participant.WithLogger(quietLogger()))

	body, err := messaging.Encode(orderCreated("20"))
	require.NoError(t, err)

	require.NoError(t, runner.Handle(context.Background(), messaging.Delivery{RoutingKey: messaging.RoutingKeyOrderCreated, Body: body}))
	require.Len(t, publisher.events, 1)
	require.Equal(t, domain.EventTypePaymentSucceeded, publisher.events[0].Type())

	publisher.err = domain.ErrTransportUnavailable
	err = runner.Handle(context.Background(), messaging.Delivery{RoutingKey: messaging.RoutingKeyOrderCreated, Body: body})
	require.True(t, errors.Is(err, domain.ErrTransportUnavailable))

	err = runner.Handle(context.Background(), messaging.Delivery{RoutingKey: messaging.RoutingKeyOrderCreated, Body: []byte("nope")})
	require.Error(t, err)
}

func TestRunner_LatencyHonoursContext(t *testing.T) {
	runner := participant.NewRunner(participant.NewShipping(time.Hour), nil, &capturePublisher{},
		participant.WithLogger(quietLogger()))

	body, err := messaging.Encode(domain.NewOrderAccepted("order-1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = runner.Handle(ctx, messaging.Delivery{RoutingKey: messaging.RoutingKeyOrderAccepted, Body: body})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Binding(t *testing.T) {
	p := participant.NewInventory(nil, 0)

	exclusive := participant.NewRunner(p, nil, nil).Binding()
	require.Equal(t, participant.InventoryQueue, exclusive.Queue)
	require.False(t, exclusive.Shared)

	shared := participant.NewRunner(p, nil, nil, participant.WithQueueMode(messaging.QueueModeShared)).Binding()
	require.True(t, shared.Shared)
}

// Один OrderCreated должен независимо дойти до оплаты и склада.
func TestRunner_FanOutOverExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exchange := inmemory.NewExchange()
	t.Cleanup(func() { _ = exchange.Close() })
	publisher := messaging.NewEventPublisher(exchange, messaging.WithPublisherLogger(quietLogger()))

	outcomes := &recordingNotifier{}
	require.NoError(t, exchange.Subscribe(ctx, messaging.Binding{Queue: "probe", RoutingKeys: messaging.OutcomeKeys()},
		func(_ context.Context, d messaging.Delivery) error {
			return outcomes.Notify(ctx, participant.Notification{RoutingKey: d.RoutingKey})
		}))

	for _, p := range []participant.Participant{
		participant.NewPayment(participant.DefaultPaymentLimit, 0),
		participant.NewInventory(nil, 0),
	} {
		runner := participant.NewRunner(p, exchange, publisher, participant.WithLogger(quietLogger()))
		go func() { _ = runner.Run(ctx) }()
	}
	require.Eventually(t, func() bool { return exchange.QueueCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, publisher.Publish(ctx, orderCreated("20", "p-1")))

	require.Eventually(t, func() bool { return outcomes.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	keys := []string{outcomes.sent[0].RoutingKey, outcomes.sent[1].RoutingKey}
	require.ElementsMatch(t, []string{messaging.RoutingKeyPaymentSucceeded, messaging.RoutingKeyInventoryReserved}, keys)
}
