package messaging

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestEncode_UsesWireFieldNames(t *testing.T) {
	event := domain.NewOrderCreated("o-1", "c-1", decimal.RequireFromString("25.50"), []string{"p1"})

	body, err := Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	for _, name := range []string{"Id", "OccurredOn", "OrderId", "CustomerId", "TotalAmount", "ProductIds"} {
		if _, ok := fields[name]; !ok {
			t.Errorf("expected field %s in %s", name, body)
		}
	}
}

func TestDecode_ByRoutingKey(t *testing.T) {
	original := domain.NewPaymentFailed("o-1", "Amount exceeds limit")
	body, _ := Encode(original)

	event, err := Decode(RoutingKeyPaymentFailed, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	failed, ok := event.(*domain.PaymentFailed)
	if !ok {
		t.Fatalf("expected *PaymentFailed, got %T", event)
	}
	if failed.OrderID != "o-1" || failed.Reason != "Amount exceeds limit" || failed.EventID() != original.EventID() {
		t.Fatalf("unexpected decoded event %+v", failed)
	}
}

func TestDecode_AcceptsNumericAmounts(t *testing.T) {
	body := []byte(`{"Id":"e1","OccurredOn":"2024-01-02T03:04:05Z","OrderId":"o-1","CustomerId":"c","TotalAmount":1999.99}`)
	event, err := Decode(RoutingKeyOrderCreated, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	created := event.(*domain.OrderCreated)
	if !created.TotalAmount.Equal(decimal.RequireFromString("1999.99")) {
		t.Fatalf("unexpected amount %s", created.TotalAmount)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode("nope", []byte(`{}`)); err == nil {
		t.Fatal("expected unknown key error")
	}
	if _, err := Decode(RoutingKeyOrderCreated, []byte(`not-json`)); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
