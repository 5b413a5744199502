package messaging

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// ExchangeName: topic exchange, общий для всех участников.
const ExchangeName = "ordering-events"

// Ключи маршрутизации событий заказа: имя типа в нижнем регистре.
const (
	RoutingKeyOrderCreated   = "ordercreatedevent"
	RoutingKeyOrderAccepted  = "orderacceptedevent"
	RoutingKeyOrderCancelled = "ordercancelledevent"
	RoutingKeyOrderCompleted = "ordercompletedevent"
	// RoutingKeyOrderCompletedTypo встречается у старых издателей; потребители обязаны его принимать.
	RoutingKeyOrderCompletedTypo = "ordercompletededvent"
)

// Ключи исходов участников публикуются под внешними именами.
const (
	RoutingKeyPaymentSucceeded           = "PaymentSucceeded"
	RoutingKeyPaymentFailed              = "PaymentFailed"
	RoutingKeyInventoryReserved          = "InventoryReserved"
	RoutingKeyInventoryReservationFailed = "InventoryReservationFailed"
	RoutingKeyShippingArranged           = "ShippingArranged"
)

var routes = map[domain.EventType]string{
	domain.EventTypeOrderCreated:               RoutingKeyOrderCreated,
	domain.EventTypeOrderAccepted:              RoutingKeyOrderAccepted,
	domain.EventTypeOrderCancelled:             RoutingKeyOrderCancelled,
	domain.EventTypeOrderCompleted:             RoutingKeyOrderCompleted,
	domain.EventTypePaymentSucceeded:           RoutingKeyPaymentSucceeded,
	domain.EventTypePaymentFailed:              RoutingKeyPaymentFailed,
	domain.EventTypeInventoryReserved:          RoutingKeyInventoryReserved,
	domain.EventTypeInventoryReservationFailed: RoutingKeyInventoryReservationFailed,
	domain.EventTypeShippingArranged:           RoutingKeyShippingArranged,
}

// byTag и byKey строятся из routes; поиск по ним регистронезависимый.
var (
	byTag = map[string]domain.EventType{}
	byKey = map[string]domain.EventType{}
)

func init() {
	for eventType, key := range routes {
		byTag[strings.ToLower(string(eventType))] = eventType
		byKey[strings.ToLower(key)] = eventType
	}
	byKey[RoutingKeyOrderCompletedTypo] = domain.EventTypeOrderCompleted
}

// RoutingKeyFor детерминированно выводит ключ маршрутизации из тега типа.
func RoutingKeyFor(eventType domain.EventType) (string, error) {
	canonical, ok := byTag[strings.ToLower(string(eventType))]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownEventType, eventType)
	}
	return routes[canonical], nil
}

// EventTypeForKey возвращает тип события по ключу маршрутизации, включая опечатку ordercompletededvent.
func EventTypeForKey(routingKey string) (domain.EventType, error) {
	eventType, ok := byKey[strings.ToLower(routingKey)]
	if !ok {
		return "", fmt.Errorf("%w: routing key %q", domain.ErrUnknownEventType, routingKey)
	}
	return eventType, nil
}

// OrderEventKeys: ключи всех событий заказа, включая опечатку.
func OrderEventKeys() []string {
	return []string{
		RoutingKeyOrderCreated,
		RoutingKeyOrderAccepted,
		RoutingKeyOrderCancelled,
		RoutingKeyOrderCompleted,
		RoutingKeyOrderCompletedTypo,
	}
}

// OutcomeKeys: ключи исходов участников.
func OutcomeKeys() []string {
	return []string{
		RoutingKeyPaymentSucceeded,
		RoutingKeyPaymentFailed,
		RoutingKeyInventoryReserved,
		RoutingKeyInventoryReservationFailed,
		RoutingKeyShippingArranged,
	}
}

// MatchTopic проверяет ключ против шаблона topic-привязки: слова через точку,
// "*" заменяет ровно одно слово, "#" ноль или больше слов.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == "#" {
			rest := pattern[1:]
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		if head != "*" && head != key[0] {
			return false
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
