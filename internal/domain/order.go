package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан и ждёт исходов от участников.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusAccepted: оплата или резерв подтверждены.
	OrderStatusAccepted OrderStatus = "Accepted"
	// OrderStatusCancelled: заказ отменён до завершения цикла.
	OrderStatusCancelled OrderStatus = "Cancelled"
	// OrderStatusCompleted: заказ исполнен.
	OrderStatusCompleted OrderStatus = "Completed"
)

// IsFinal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

// Order: агрегат заказа. Единственный писатель своего состояния:
// все изменения проходят через методы, каждое изменение статуса
// добавляет ровно одно событие в буфер pending.
type Order struct {
	id         string
	customerID string
	status     OrderStatus
	total      decimal.Decimal
	items      []OrderItem
	version    int64
	createdAt  time.Time
	updatedAt  time.Time

	pending []DomainEvent
}

// OrderSnapshot: плоское представление агрегата для хранилищ и ответов API.
type OrderSnapshot struct {
	ID          string
	CustomerID  string
	Status      OrderStatus
	TotalAmount decimal.Decimal
	Items       []OrderItem
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOrder валидирует вход и создаёт заказ в статусе Pending с событием OrderCreatedEvent в буфере.
func NewOrder(customerID string, items []OrderItem) (*Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrCustomerRequired
	}
	total, err := validateItems(items)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &Order{
		id:         uuid.NewString(),
		customerID: customerID,
		status:     OrderStatusPending,
		total:      total,
		items:      assignItemIDs(items),
		createdAt:  now,
		updatedAt:  now,
	}
	order.record(NewOrderCreated(order.id, customerID, total, productIDs(order.items)))
	return order, nil
}

// RestoreOrder поднимает агрегат из сохранённого снимка без валидации и без событий.
func RestoreOrder(s OrderSnapshot) *Order {
	return &Order{
		id:         s.ID,
		customerID: s.CustomerID,
		status:     s.Status,
		total:      s.TotalAmount,
		items:      cloneItems(s.Items),
		version:    s.Version,
		createdAt:  s.CreatedAt,
		updatedAt:  s.UpdatedAt,
	}
}

// Accept переводит Pending → Accepted.
func (o *Order) Accept() error {
	if o.status != OrderStatusPending {
		return ErrOrderNotPending
	}
	o.transition(OrderStatusAccepted)
	o.record(NewOrderAccepted(o.id))
	return nil
}

// Cancel переводит Pending или Accepted → Cancelled с указанной причиной.
func (o *Order) Cancel(reason string) error {
	if o.status.IsFinal() {
		return ErrOrderFinalized
	}
	o.transition(OrderStatusCancelled)
	o.record(NewOrderCancelled(o.id, reason))
	return nil
}

// Complete переводит Accepted → Completed.
func (o *Order) Complete() error {
	if o.status != OrderStatusAccepted {
		return ErrOrderNotAccepted
	}
	o.transition(OrderStatusCompleted)
	o.record(NewOrderCompleted(o.id))
	return nil
}

// UpdateItems целиком заменяет позиции Pending-заказа и пересчитывает сумму.
// События не порождает.
func (o *Order) UpdateItems(items []OrderItem) error {
	if o.status != OrderStatusPending {
		return ErrOrderNotPending
	}
	total, err := validateItems(items)
	if err != nil {
		return err
	}
	o.items = assignItemIDs(items)
	o.total = total
	o.updatedAt = time.Now().UTC()
	return nil
}

// PullEvents возвращает накопленные события и очищает буфер.
// Вызывается только после успешной записи в хранилище.
func (o *Order) PullEvents() []DomainEvent {
	events := o.pending
	o.pending = nil
	return events
}

// PendingEvents возвращает копию буфера, не очищая его.
func (o *Order) PendingEvents() []DomainEvent {
	out := make([]DomainEvent, len(o.pending))
	copy(out, o.pending)
	return out
}

func (o *Order) ID() string                   { return o.id }
func (o *Order) CustomerID() string           { return o.customerID }
func (o *Order) Status() OrderStatus          { return o.status }
func (o *Order) TotalAmount() decimal.Decimal { return o.total }
func (o *Order) Version() int64               { return o.version }
func (o *Order) CreatedAt() time.Time         { return o.createdAt }
func (o *Order) UpdatedAt() time.Time         { return o.updatedAt }

// Items возвращает копию позиций.
func (o *Order) Items() []OrderItem { return cloneItems(o.items) }

// Snapshot возвращает текущее состояние для сохранения.
func (o *Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		ID:          o.id,
		CustomerID:  o.customerID,
		Status:      o.status,
		TotalAmount: o.total,
		Items:       cloneItems(o.items),
		Version:     o.version,
		CreatedAt:   o.createdAt,
		UpdatedAt:   o.updatedAt,
	}
}

func (o *Order) transition(next OrderStatus) {
	o.status = next
	o.updatedAt = time.Now().UTC()
}

func (o *Order) record(event DomainEvent) {
	o.pending = append(o.pending, event)
}

func assignItemIDs(items []OrderItem) []OrderItem {
	out := cloneItems(items)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}

func cloneItems(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	copy(out, items)
	return out
}

func productIDs(items []OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
