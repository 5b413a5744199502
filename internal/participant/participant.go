// Package participant содержит участников хореографии: каждый слушает свои ключи,
// принимает решение и публикует не более одного исхода в тот же exchange.
package participant

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// Decision: чистая функция решения участника. nil-исход означает, что публиковать нечего.
type Decision func(ctx context.Context, trigger domain.DomainEvent) (domain.DomainEvent, error)

// Participant описывает участника: имя очереди, ключи, имитацию задержки и решение.
type Participant struct {
	Name        string
	RoutingKeys []string
	Latency     time.Duration
	Decide      Decision
}

// Runner подписывает участника на шину и публикует его исходы.
type Runner struct {
	participant Participant
	transport   messaging.Transport
	publisher   domain.EventPublisher
	queueMode   messaging.QueueMode
	metrics     *metrics.ChoreographyMetrics
	logger      *log.Entry
}

// RunnerOption настраивает Runner.
type RunnerOption func(*Runner)

// WithQueueMode задаёт топологию очереди.
func WithQueueMode(mode messaging.QueueMode) RunnerOption {
	return func(r *Runner) { r.queueMode = mode }
}

// WithMetrics подключает метрики потребления.
func WithMetrics(m *metrics.ChoreographyMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner создаёт раннер участника.
func NewRunner(p Participant, transport messaging.Transport, publisher domain.EventPublisher, opts ...RunnerOption) *Runner {
	r := &Runner{
		participant: p,
		transport:   transport,
		publisher:   publisher,
		queueMode:   messaging.QueueModeExclusive,
		logger:      log.WithField("component", p.Name),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Binding возвращает привязку очереди участника.
func (r *Runner) Binding() messaging.Binding {
	return messaging.Binding{
		Queue:       r.participant.Name,
		RoutingKeys: r.participant.RoutingKeys,
		Shared:      r.queueMode == messaging.QueueModeShared,
	}
}

// Run подписывается и блокируется до отмены ctx.
func (r *Runner) Run(ctx context.Context) error {
	handler := messaging.Instrument(r.participant.Name, r.metrics, r.logger, r.Handle)
	if err := r.transport.Subscribe(ctx, r.Binding(), handler); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.participant.Name, err)
	}
	r.logger.WithField("routing_keys", r.participant.RoutingKeys).Info("participant listening")
	<-ctx.Done()
	return nil
}

// Handle декодирует триггер, выжидает задержку, принимает решение и публикует исход.
// Ошибка публикации возвращается, чтобы режим after-handle мог повторить доставку.
func (r *Runner) Handle(ctx context.Context, d messaging.Delivery) error {
	trigger, err := messaging.Decode(d.RoutingKey, d.Body)
	if err != nil {
		return fmt.Errorf("decode %s: %w", d.RoutingKey, err)
	}

	if r.participant.Latency > 0 {
		timer := time.NewTimer(r.participant.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	outcome, err := r.participant.Decide(ctx, trigger)
	if err != nil {
		return fmt.Errorf("%s decision: %w", r.participant.Name, err)
	}
	if outcome == nil {
		return nil
	}

	r.logger.WithFields(log.Fields{
		"order_id": outcome.AggregateID(),
		"trigger":  d.RoutingKey,
		"outcome":  outcome.Type(),
	}).Info("outcome decided")
	return r.publisher.Publish(ctx, outcome)
}
