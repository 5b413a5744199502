package messaging

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// Instrument оборачивает обработчик логированием ошибок и метриками потребления.
func Instrument(consumer string, m *metrics.ChoreographyMetrics, logger *log.Entry, next Handler) Handler {
	if logger == nil {
		logger = log.WithField("component", consumer)
	}
	return func(ctx context.Context, d Delivery) error {
		start := time.Now()
		err := next(ctx, d)
		m.RecordConsumed(consumer, d.RoutingKey, time.Since(start), err)
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"routing_key": d.RoutingKey,
				"message_id":  d.MessageID,
				"attempt":     d.Attempt,
			}).Warn("delivery handling failed")
		}
		return err
	}
}
