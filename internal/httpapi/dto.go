package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type itemRequest struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type createOrderRequest struct {
	CustomerID string        `json:"customerId"`
	Items      []itemRequest `json:"items"`
}

type updateItemsRequest struct {
	Items []itemRequest `json:"items"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type itemResponse struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type orderResponse struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []itemResponse  `json:"items"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type timelineResponse struct {
	EventID    string    `json:"eventId,omitempty"`
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func toDomainItems(items []itemRequest) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		})
	}
	return out
}

func toOrderResponse(order *domain.Order) orderResponse {
	snapshot := order.Snapshot()
	items := make([]itemResponse, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, itemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal(),
		})
	}
	return orderResponse{
		ID:          snapshot.ID,
		CustomerID:  snapshot.CustomerID,
		Status:      string(snapshot.Status),
		TotalAmount: snapshot.TotalAmount,
		Items:       items,
		Version:     snapshot.Version,
		CreatedAt:   snapshot.CreatedAt,
		UpdatedAt:   snapshot.UpdatedAt,
	}
}

func toOrderResponses(orders []*domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	return out
}

func toTimelineResponses(events []domain.TimelineEvent) []timelineResponse {
	out := make([]timelineResponse, 0, len(events))
	for _, event := range events {
		out = append(out, timelineResponse{
			EventID:    event.EventID,
			Type:       event.Type,
			Reason:     event.Reason,
			OccurredAt: event.Occurred,
		})
	}
	return out
}
