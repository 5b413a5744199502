package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType: тег типа события. Из него выводится ключ маршрутизации.
type EventType string

const (
	EventTypeOrderCreated   EventType = "OrderCreatedEvent"
	EventTypeOrderAccepted  EventType = "OrderAcceptedEvent"
	EventTypeOrderCancelled EventType = "OrderCancelledEvent"
	EventTypeOrderCompleted EventType = "OrderCompletedEvent"

	// Исходы участников хореографии.
	EventTypePaymentSucceeded           EventType = "PaymentSucceeded"
	EventTypePaymentFailed              EventType = "PaymentFailed"
	EventTypeInventoryReserved          EventType = "InventoryReserved"
	EventTypeInventoryReservationFailed EventType = "InventoryReservationFailed"
	EventTypeShippingArranged           EventType = "ShippingArranged"
)

// DomainEvent: неизменяемый факт с собственной идентичностью и UTC-меткой времени.
type DomainEvent interface {
	EventID() string
	OccurredOn() time.Time
	Type() EventType
	// AggregateID возвращает идентификатор заказа, к которому относится событие.
	AggregateID() string
}

// EventMeta: общие поля всех событий.
type EventMeta struct {
	ID         string    `json:"Id"`
	OccurredAt time.Time `json:"OccurredOn"`
}

func newEventMeta() EventMeta {
	return EventMeta{ID: uuid.NewString(), OccurredAt: time.Now().UTC()}
}

func (m EventMeta) EventID() string       { return m.ID }
func (m EventMeta) OccurredOn() time.Time { return m.OccurredAt }

// OrderCreated публикуется при создании заказа.
type OrderCreated struct {
	EventMeta
	OrderID     string          `json:"OrderId"`
	CustomerID  string          `json:"CustomerId"`
	TotalAmount decimal.Decimal `json:"TotalAmount"`
	ProductIDs  []string        `json:"ProductIds,omitempty"`
}

func NewOrderCreated(orderID, customerID string, total decimal.Decimal, productIDs []string) *OrderCreated {
	return &OrderCreated{EventMeta: newEventMeta(), OrderID: orderID, CustomerID: customerID, TotalAmount: total, ProductIDs: productIDs}
}

func (e *OrderCreated) Type() EventType     { return EventTypeOrderCreated }
func (e *OrderCreated) AggregateID() string { return e.OrderID }

type OrderAccepted struct {
	EventMeta
	OrderID string `json:"OrderId"`
}

func NewOrderAccepted(orderID string) *OrderAccepted {
	return &OrderAccepted{EventMeta: newEventMeta(), OrderID: orderID}
}

func (e *OrderAccepted) Type() EventType     { return EventTypeOrderAccepted }
func (e *OrderAccepted) AggregateID() string { return e.OrderID }

type OrderCancelled struct {
	EventMeta
	OrderID string `json:"OrderId"`
	Reason  string `json:"Reason"`
}

func NewOrderCancelled(orderID, reason string) *OrderCancelled {
	return &OrderCancelled{EventMeta: newEventMeta(), OrderID: orderID, Reason: reason}
}

func (e *OrderCancelled) Type() EventType     { return EventTypeOrderCancelled }
func (e *OrderCancelled) AggregateID() string { return e.OrderID }

type OrderCompleted struct {
	EventMeta
	OrderID string `json:"OrderId"`
}

func NewOrderCompleted(orderID string) *OrderCompleted {
	return &OrderCompleted{EventMeta: newEventMeta(), OrderID: orderID}
}

func (e *OrderCompleted) Type() EventType     { return EventTypeOrderCompleted }
func (e *OrderCompleted) AggregateID() string { return e.OrderID }

// PaymentSucceeded: платёж по заказу одобрен.
type PaymentSucceeded struct {
	EventMeta
	OrderID string          `json:"OrderId"`
	Amount  decimal.Decimal `json:"Amount"`
}

func NewPaymentSucceeded(orderID string, amount decimal.Decimal) *PaymentSucceeded {
	return &PaymentSucceeded{EventMeta: newEventMeta(), OrderID: orderID, Amount: amount}
}

func (e *PaymentSucceeded) Type() EventType     { return EventTypePaymentSucceeded }
func (e *PaymentSucceeded) AggregateID() string { return e.OrderID }

// PaymentFailed: платёж отклонён.
type PaymentFailed struct {
	EventMeta
	OrderID string `json:"OrderId"`
	Reason  string `json:"Reason"`
}

func NewPaymentFailed(orderID, reason string) *PaymentFailed {
	return &PaymentFailed{EventMeta: newEventMeta(), OrderID: orderID, Reason: reason}
}

func (e *PaymentFailed) Type() EventType     { return EventTypePaymentFailed }
func (e *PaymentFailed) AggregateID() string { return e.OrderID }

// InventoryReserved: товары заказа зарезервированы.
type InventoryReserved struct {
	EventMeta
	OrderID    string   `json:"OrderId"`
	ProductIDs []string `json:"ProductIds"`
}

func NewInventoryReserved(orderID string, productIDs []string) *InventoryReserved {
	return &InventoryReserved{EventMeta: newEventMeta(), OrderID: orderID, ProductIDs: productIDs}
}

func (e *InventoryReserved) Type() EventType     { return EventTypeInventoryReserved }
func (e *InventoryReserved) AggregateID() string { return e.OrderID }

// InventoryReservationFailed: часть товаров недоступна.
type InventoryReservationFailed struct {
	EventMeta
	OrderID             string   `json:"OrderId"`
	UnavailableProducts []string `json:"UnavailableProducts"`
}

func NewInventoryReservationFailed(orderID string, unavailable []string) *InventoryReservationFailed {
	return &InventoryReservationFailed{EventMeta: newEventMeta(), OrderID: orderID, UnavailableProducts: unavailable}
}

func (e *InventoryReservationFailed) Type() EventType {
	return EventTypeInventoryReservationFailed
}
func (e *InventoryReservationFailed) AggregateID() string { return e.OrderID }

// ShippingArranged: доставка оформлена.
type ShippingArranged struct {
	EventMeta
	OrderID           string    `json:"OrderId"`
	TrackingNumber    string    `json:"TrackingNumber"`
	EstimatedDelivery time.Time `json:"EstimatedDelivery"`
}

func NewShippingArranged(orderID, trackingNumber string, eta time.Time) *ShippingArranged {
	return &ShippingArranged{EventMeta: newEventMeta(), OrderID: orderID, TrackingNumber: trackingNumber, EstimatedDelivery: eta}
}

func (e *ShippingArranged) Type() EventType     { return EventTypeShippingArranged }
func (e *ShippingArranged) AggregateID() string { return e.OrderID }

var (
	_ DomainEvent = (*OrderCreated)(nil)
	_ DomainEvent = (*OrderAccepted)(nil)
	_ DomainEvent = (*OrderCancelled)(nil)
	_ DomainEvent = (*OrderCompleted)(nil)
	_ DomainEvent = (*PaymentSucceeded)(nil)
	_ DomainEvent = (*PaymentFailed)(nil)
	_ DomainEvent = (*InventoryReserved)(nil)
	_ DomainEvent = (*InventoryReservationFailed)(nil)
	_ DomainEvent = (*ShippingArranged)(nil)
)
