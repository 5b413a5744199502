package domain_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// helper для позиции с ценой в виде строки.
func item(productID, price string, qty int) domain.OrderItem {
	return domain.OrderItem{
		ProductID:   productID,
		ProductName: "name-" + productID,
		Price:       decimal.RequireFromString(price),
		Quantity:    qty,
	}
}

func newPendingOrder(t *testing.T) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder("customer-1", []domain.OrderItem{item("laptop-001", "999.99", 1)})
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	order.PullEvents()
	return order
}

func TestNewOrder_ComputesTotalExactly(t *testing.T) {
	order, err := domain.NewOrder("c1", []domain.OrderItem{
		item("p1", "10.00", 2),
		item("p2", "5.50", 1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.TotalAmount().Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("expected total 25.50, got %s", order.TotalAmount())
	}
	if order.Status() != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status())
	}
	if order.ID() == "" {
		t.Fatal("expected generated order id")
	}
	for _, it := range order.Items() {
		if it.ID == "" {
			t.Fatal("expected generated item id")
		}
	}

	events := order.PullEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	created, ok := events[0].(*domain.OrderCreated)
	if !ok {
		t.Fatalf("expected OrderCreated, got %T", events[0])
	}
	if created.OrderID != order.ID() || created.CustomerID != "c1" {
		t.Fatalf("unexpected payload: %+v", created)
	}
	if !created.TotalAmount.Equal(order.TotalAmount()) {
		t.Fatalf("event total %s != order total %s", created.TotalAmount, order.TotalAmount())
	}
	if len(created.ProductIDs) != 2 || created.ProductIDs[0] != "p1" {
		t.Fatalf("unexpected product ids: %v", created.ProductIDs)
	}
	if created.EventID() == "" || created.OccurredOn().Location().String() != "UTC" {
		t.Fatalf("event meta not populated: %+v", created.EventMeta)
	}

	if again := order.PullEvents(); len(again) != 0 {
		t.Fatalf("expected drained buffer, got %d events", len(again))
	}
}

func TestNewOrder_TotalAtCapIsAllowed(t *testing.T) {
	order, err := domain.NewOrder("c1", []domain.OrderItem{item("p1", "10000", 1)})
	if err != nil {
		t.Fatalf("total equal to cap must pass: %v", err)
	}
	if !order.TotalAmount().Equal(domain.MaxOrderTotal) {
		t.Fatalf("unexpected total %s", order.TotalAmount())
	}
}

func TestNewOrder_ValidationErrors(t *testing.T) {
	cases := []struct {
		name     string
		customer string
		items    []domain.OrderItem
		want     error
		kind     error
	}{
		{name: "blank customer", customer: "  ", items: []domain.OrderItem{item("p1", "1", 1)}, want: domain.ErrCustomerRequired, kind: domain.ErrInvalidArgument},
		{name: "no items", customer: "c1", want: domain.ErrItemsRequired, kind: domain.ErrInvalidArgument},
		{name: "blank product id", customer: "c1", items: []domain.OrderItem{item("", "1", 1)}, want: domain.ErrProductIDRequired, kind: domain.ErrInvalidArgument},
		{name: "negative price", customer: "c1", items: []domain.OrderItem{item("p1", "-0.01", 1)}, want: domain.ErrItemPriceInvalid, kind: domain.ErrInvalidArgument},
		{name: "zero quantity", customer: "c1", items: []domain.OrderItem{item("p1", "1", 0)}, want: domain.ErrItemQtyInvalid, kind: domain.ErrInvalidArgument},
		{name: "out of stock", customer: "c1", items: []domain.OrderItem{item(domain.OutOfStockProductID, "1", 1)}, want: domain.ErrProductOutOfStock, kind: domain.ErrPreconditionFailed},
		{name: "out of stock before later malformed item", customer: "c1", items: []domain.OrderItem{item(domain.OutOfStockProductID, "1", 1), {ProductID: "p2", Price: decimal.NewFromInt(1), Quantity: 1}}, want: domain.ErrProductOutOfStock, kind: domain.ErrPreconditionFailed},
		{name: "malformed item before later out of stock", customer: "c1", items: []domain.OrderItem{item("", "1", 1), item(domain.OutOfStockProductID, "1", 1)}, want: domain.ErrProductIDRequired, kind: domain.ErrInvalidArgument},
		{name: "total above cap", customer: "c1", items: []domain.OrderItem{item("p1", "10000.01", 1)}, want: domain.ErrOrderTotalExceeded, kind: domain.ErrPreconditionFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order, err := domain.NewOrder(tc.customer, tc.items)
			if order != nil {
				t.Fatal("expected no order on validation failure")
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected kind %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestNewOrder_BlankProductName(t *testing.T) {
	bad := item("p1", "1", 1)
	bad.ProductName = ""
	if _, err := domain.NewOrder("c1", []domain.OrderItem{bad}); !errors.Is(err, domain.ErrProductNameRequired) {
		t.Fatalf("expected ErrProductNameRequired, got %v", err)
	}
}

func TestOrder_Transitions(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(o *domain.Order)
		apply   func(o *domain.Order) error
		status  domain.OrderStatus
		event   domain.EventType
		wantErr error
	}{
		{
			name:   "accept pending",
			apply:  func(o *domain.Order) error { return o.Accept() },
			status: domain.OrderStatusAccepted,
			event:  domain.EventTypeOrderAccepted,
		},
		{
			name:   "cancel pending",
			apply:  func(o *domain.Order) error { return o.Cancel("changed mind") },
			status: domain.OrderStatusCancelled,
			event:  domain.EventTypeOrderCancelled,
		},
		{
			name:    "cancel accepted",
			prepare: func(o *domain.Order) { _ = o.Accept() },
			apply:   func(o *domain.Order) error { return o.Cancel("late") },
			status:  domain.OrderStatusCancelled,
			event:   domain.EventTypeOrderCancelled,
		},
		{
			name:    "complete accepted",
			prepare: func(o *domain.Order) { _ = o.Accept() },
			apply:   func(o *domain.Order) error { return o.Complete() },
			status:  domain.OrderStatusCompleted,
			event:   domain.EventTypeOrderCompleted,
		},
		{
			name:    "accept twice",
			prepare: func(o *domain.Order) { _ = o.Accept() },
			apply:   func(o *domain.Order) error { return o.Accept() },
			status:  domain.OrderStatusAccepted,
			wantErr: domain.ErrInvalidState,
		},
		{
			name:    "complete pending",
			apply:   func(o *domain.Order) error { return o.Complete() },
			status:  domain.OrderStatusPending,
			wantErr: domain.ErrInvalidState,
		},
		{
			name: "cancel completed",
			prepare: func(o *domain.Order) {
				_ = o.Accept()
				_ = o.Complete()
			},
			apply:   func(o *domain.Order) error { return o.Cancel("too late") },
			status:  domain.OrderStatusCompleted,
			wantErr: domain.ErrInvalidState,
		},
		{
			name:    "accept cancelled",
			prepare: func(o *domain.Order) { _ = o.Cancel("x") },
			apply:   func(o *domain.Order) error { return o.Accept() },
			status:  domain.OrderStatusCancelled,
			wantErr: domain.ErrInvalidState,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := newPendingOrder(t)
			if tc.prepare != nil {
				tc.prepare(order)
				order.PullEvents()
			}

			err := tc.apply(order)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if n := len(order.PullEvents()); n != 0 {
					t.Fatalf("failed transition must not emit events, got %d", n)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				events := order.PullEvents()
				if len(events) != 1 || events[0].Type() != tc.event {
					t.Fatalf("expected exactly one %s, got %v", tc.event, events)
				}
				if events[0].AggregateID() != order.ID() {
					t.Fatalf("event bound to wrong order: %s", events[0].AggregateID())
				}
			}
			if order.Status() != tc.status {
				t.Fatalf("expected status %s, got %s", tc.status, order.Status())
			}
		})
	}
}

func TestOrder_CancelCarriesReason(t *testing.T) {
	order := newPendingOrder(t)
	if err := order.Cancel("Payment failed: Amount exceeds limit"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	events := order.PullEvents()
	cancelled := events[0].(*domain.OrderCancelled)
	if cancelled.Reason != "Payment failed: Amount exceeds limit" {
		t.Fatalf("unexpected reason %q", cancelled.Reason)
	}
}

func TestOrder_UpdateItems(t *testing.T) {
	order := newPendingOrder(t)

	if err := order.UpdateItems([]domain.OrderItem{item("p1", "3.10", 3)}); err != nil {
		t.Fatalf("update items: %v", err)
	}
	if !order.TotalAmount().Equal(decimal.RequireFromString("9.30")) {
		t.Fatalf("expected 9.30, got %s", order.TotalAmount())
	}
	if n := len(order.PullEvents()); n != 0 {
		t.Fatalf("update must not emit events, got %d", n)
	}

	// Невалидный список не меняет заказ.
	if err := order.UpdateItems(nil); !errors.Is(err, domain.ErrItemsRequired) {
		t.Fatalf("expected ErrItemsRequired, got %v", err)
	}
	if len(order.Items()) != 1 || !order.TotalAmount().Equal(decimal.RequireFromString("9.30")) {
		t.Fatal("order mutated by rejected update")
	}

	_ = order.Accept()
	if err := order.UpdateItems([]domain.OrderItem{item("p2", "1", 1)}); !errors.Is(err, domain.ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending, got %v", err)
	}
}

func TestOrder_ItemsAreCopied(t *testing.T) {
	items := []domain.OrderItem{item("p1", "1", 1)}
	order, err := domain.NewOrder("c1", items)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	items[0].Quantity = 100

	got := order.Items()
	got[0].Quantity = 50
	if order.Items()[0].Quantity != 1 {
		t.Fatal("order items must not alias caller slices")
	}
}

func TestRestoreOrder_RoundTrip(t *testing.T) {
	order := newPendingOrder(t)
	snap := order.Snapshot()
	snap.Version = 7

	restored := domain.RestoreOrder(snap)
	if restored.ID() != order.ID() || restored.Version() != 7 || restored.Status() != domain.OrderStatusPending {
		t.Fatalf("unexpected restored order: %+v", restored.Snapshot())
	}
	if len(restored.PendingEvents()) != 0 {
		t.Fatal("restored order must have empty event buffer")
	}
}

func TestPendingEvents_DoesNotDrain(t *testing.T) {
	order, _ := domain.NewOrder("c1", []domain.OrderItem{item("p1", "1", 1)})
	if len(order.PendingEvents()) != 1 {
		t.Fatal("expected one pending event")
	}
	if len(order.PullEvents()) != 1 {
		t.Fatal("peek must not drain the buffer")
	}
}
