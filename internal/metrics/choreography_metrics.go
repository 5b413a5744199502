package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ChoreographyMetrics содержит метрики публикации, потребления и реакций.
// Все методы безопасны для nil-получателя.
type ChoreographyMetrics struct {
	// Шина
	published *prometheus.CounterVec
	consumed  *prometheus.CounterVec
	degraded  prometheus.Gauge

	// Агрегат и реакции
	transitions *prometheus.CounterVec
	reactions   *prometheus.CounterVec

	handlerDuration *prometheus.HistogramVec
	timelineEvents  prometheus.Counter
}

// NewChoreographyMetrics регистрирует метрики в DefaultRegisterer.
func NewChoreographyMetrics() *ChoreographyMetrics {
	return NewChoreographyMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewChoreographyMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewChoreographyMetricsWithRegisterer(registerer prometheus.Registerer) *ChoreographyMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ChoreographyMetrics{
		published: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_events_published_total",
			Help: "Events handed to the bus by routing key and result",
		}, []string{"routing_key", "result"})),
		consumed: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_events_consumed_total",
			Help: "Deliveries processed by consumer, routing key and result",
		}, []string{"consumer", "routing_key", "result"})),
		degraded: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_transport_degraded",
			Help: "1 when the process runs without a bus and only logs events",
		})),
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_order_transitions_total",
			Help: "Persisted order lifecycle events by type",
		}, []string{"event_type"})),
		reactions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_reactions_total",
			Help: "Outcome reactions in the ordering service by outcome and result",
		}, []string{"outcome", "result"})),
		handlerDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderflow_handler_duration_seconds",
			Help:    "Delivery handling time per consumer",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"consumer"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordPublished учитывает попытку публикации; err == nil означает успех.
func (m *ChoreographyMetrics) RecordPublished(routingKey string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(routingKey, resultLabel(err)).Inc()
}

// RecordConsumed учитывает обработанную доставку и время обработки.
func (m *ChoreographyMetrics) RecordConsumed(consumer, routingKey string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(consumer, routingKey, resultLabel(err)).Inc()
	m.handlerDuration.WithLabelValues(consumer).Observe(duration.Seconds())
}

// SetDegraded отмечает работу без шины.
func (m *ChoreographyMetrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.degraded.Set(1)
		return
	}
	m.degraded.Set(0)
}

// RecordTransition учитывает сохранённое событие жизненного цикла.
func (m *ChoreographyMetrics) RecordTransition(eventType string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(eventType).Inc()
}

// RecordReaction учитывает результат реакции на исход участника.
func (m *ChoreographyMetrics) RecordReaction(outcome, result string) {
	if m == nil {
		return
	}
	m.reactions.WithLabelValues(outcome, result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ChoreographyMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
