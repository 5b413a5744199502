package participant

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

const (
	// PaymentQueue: имя очереди платёжного участника.
	PaymentQueue = "payment"
	// PaymentLimitReason: причина отказа при превышении лимита.
	PaymentLimitReason = "Amount exceeds limit"
)

// DefaultPaymentLimit: максимальная сумма, которую одобряет платёжный участник.
var DefaultPaymentLimit = decimal.NewFromInt(5000)

// NewPayment одобряет заказ, если его сумма не превышает limit.
func NewPayment(limit decimal.Decimal, latency time.Duration) Participant {
	return Participant{
		Name:        PaymentQueue,
		RoutingKeys: []string{messaging.RoutingKeyOrderCreated},
		Latency:     latency,
		Decide: func(_ context.Context, trigger domain.DomainEvent) (domain.DomainEvent, error) {
			created, ok := trigger.(*domain.OrderCreated)
			if !ok {
				return nil, nil
			}
			if created.TotalAmount.GreaterThan(limit) {
				return domain.NewPaymentFailed(created.OrderID, PaymentLimitReason), nil
			}
			return domain.NewPaymentSucceeded(created.OrderID, created.TotalAmount), nil
		},
	}
}
