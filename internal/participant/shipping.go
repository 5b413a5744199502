package participant

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

const (
	// ShippingQueue: имя очереди участника доставки.
	ShippingQueue = "shipping"
	// DeliveryWindow: срок доставки от момента оформления.
	DeliveryWindow = 72 * time.Hour
)

// NewShipping оформляет доставку для принятого заказа.
func NewShipping(latency time.Duration) Participant {
	return Participant{
		Name:        ShippingQueue,
		RoutingKeys: []string{messaging.RoutingKeyOrderAccepted},
		Latency:     latency,
		Decide: func(_ context.Context, trigger domain.DomainEvent) (domain.DomainEvent, error) {
			accepted, ok := trigger.(*domain.OrderAccepted)
			if !ok {
				return nil, nil
			}
			eta := time.Now().UTC().Add(DeliveryWindow)
			return domain.NewShippingArranged(accepted.OrderID, trackingNumber(), eta), nil
		},
	}
}

// trackingNumber возвращает номер вида TRK-########.
func trackingNumber() string {
	return fmt.Sprintf("TRK-%08d", 10000000+rand.IntN(90000000))
}
