package participant

import (
	"context"
	"slices"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

// InventoryQueue: имя очереди складского участника.
const InventoryQueue = "inventory"

// NewInventory резервирует товары заказа, если ни один из них не входит в unavailable.
func NewInventory(unavailable []string, latency time.Duration) Participant {
	blocked := slices.Clone(unavailable)
	return Participant{
		Name:        InventoryQueue,
		RoutingKeys: []string{messaging.RoutingKeyOrderCreated},
		Latency:     latency,
		Decide: func(_ context.Context, trigger domain.DomainEvent) (domain.DomainEvent, error) {
			created, ok := trigger.(*domain.OrderCreated)
			if !ok {
				return nil, nil
			}

			var missing []string
			for _, productID := range created.ProductIDs {
				if slices.Contains(blocked, productID) && !slices.Contains(missing, productID) {
					missing = append(missing, productID)
				}
			}
			if len(missing) > 0 {
				return domain.NewInventoryReservationFailed(created.OrderID, missing), nil
			}
			return domain.NewInventoryReserved(created.OrderID, slices.Clone(created.ProductIDs)), nil
		},
	}
}
