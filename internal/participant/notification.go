package participant

import (
	"context"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

// NotificationQueue: имя очереди участника уведомлений.
const NotificationQueue = "notification"

// Notification: сообщение клиенту, отрендеренное по событию.
type Notification struct {
	OrderID    string
	RoutingKey string
	Channel    string
	Text       string
}

// Notifier доставляет уведомления клиенту.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier поверх logrus.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", NotificationQueue)
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	n.logger.WithFields(log.Fields{
		"order_id":    notification.OrderID,
		"routing_key": notification.RoutingKey,
		"channel":     notification.Channel,
	}).Info(notification.Text)
	return nil
}

type template struct {
	channel string
	text    string
}

// templates проиндексированы ключами в нижнем регистре.
var templates = map[string]template{
	"ordercreatedevent":          {"email", "Order confirmation sent to customer"},
	"orderacceptedevent":         {"sms", "Your order has been accepted and is being processed"},
	"ordercancelledevent":        {"email", "Order cancellation notification sent"},
	"ordercompletedevent":        {"sms", "Your order has been completed and shipped!"},
	"ordercompletededvent":       {"sms", "Your order has been completed and shipped!"},
	"paymentsucceeded":           {"email", "Payment confirmation sent"},
	"paymentfailed":              {"sms", "Payment failed notification sent"},
	"inventoryreserved":          {"email", "Items reserved for your order"},
	"inventoryreservationfailed": {"email", "Some items in your order are unavailable"},
	"shippingarranged":           {"sms", "Your order has been shipped"},
}

var fallbackTemplate = template{"push", "General notification sent"}

// Render подбирает текст уведомления по ключу маршрутизации без учёта регистра.
func Render(routingKey, orderID string) Notification {
	tpl, ok := templates[strings.ToLower(routingKey)]
	if !ok {
		tpl = fallbackTemplate
	}
	return Notification{OrderID: orderID, RoutingKey: routingKey, Channel: tpl.channel, Text: tpl.text}
}

// NotificationKeys: все ключи событий заказа, включая опечатку, и все исходы.
func NotificationKeys() []string {
	return slices.Concat(messaging.OrderEventKeys(), messaging.OutcomeKeys())
}

// NewNotification рассылает уведомления по всем событиям и ничего не публикует.
// Ключ триггера в Decision недоступен, поэтому он восстанавливается из типа события.
func NewNotification(notifier Notifier, latency time.Duration) Participant {
	return Participant{
		Name:        NotificationQueue,
		RoutingKeys: NotificationKeys(),
		Latency:     latency,
		Decide: func(ctx context.Context, trigger domain.DomainEvent) (domain.DomainEvent, error) {
			key, err := messaging.RoutingKeyFor(trigger.Type())
			if err != nil {
				return nil, err
			}
			return nil, notifier.Notify(ctx, Render(key, trigger.AggregateID()))
		},
	}
}
