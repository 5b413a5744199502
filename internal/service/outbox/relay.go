// Package outbox переносит события, сохранённые вместе с заказом, в шину.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	relayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_outbox_publish_attempts_total",
		Help: "Outbox publish attempts grouped by event type and result.",
	}, []string{"event_type", "result"})
	relayPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_outbox_pending_records",
		Help: "Current number of pending records in the outbox.",
	})
	relayOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// Config задаёт параметры relay.
type Config struct {
	Logger         *log.Entry
	DeadLetter     domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Relay.
type Option func(*Config)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithDeadLetter задаёт получателя сообщений, исчерпавших попытки.
func WithDeadLetter(publisher domain.OutboxPublisher) Option {
	return func(c *Config) { c.DeadLetter = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) { c.PollInterval = interval }
}

// WithBatchSize задаёт размер батча.
func WithBatchSize(size int) Option {
	return func(c *Config) { c.BatchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения за цикл.
func WithMaxAttempts(attempts int) Option {
	return func(c *Config) { c.MaxAttempts = attempts }
}

// WithRetryBaseDelay задаёт базовую задержку exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *Config) { c.RetryBaseDelay = delay }
}

// Relay публикует pending-сообщения outbox и помечает их отправленными.
// Доставка at-least-once: сбой между публикацией и MarkSent приводит к повтору.
type Relay struct {
	repo       domain.OutboxRepository
	publisher  domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	logger     *log.Entry
	cfg        Config
}

// NewRelay создаёт relay.
func NewRelay(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Relay {
	cfg := Config{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "outbox-relay")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBaseDelay < 0 {
		cfg.RetryBaseDelay = 0
	}

	return &Relay{
		repo:       repo,
		publisher:  publisher,
		deadLetter: cfg.DeadLetter,
		logger:     cfg.Logger,
		cfg:        cfg,
	}
}

// Run опрашивает outbox до отмены ctx.
func (r *Relay) Run(ctx context.Context) error {
	if r.repo == nil || r.publisher == nil {
		r.logger.Warn("outbox relay is disabled: repo or publisher is nil")
		return nil
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.WithField("poll_interval", r.cfg.PollInterval).Info("outbox relay started")
	r.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			r.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce публикует один батч и возвращает число отправленных сообщений.
func (r *Relay) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer r.refreshBacklogMetrics()

	batch, err := r.repo.PullPending(r.cfg.BatchSize)
	if err != nil {
		r.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			return sent
		}
		logger := r.logger.WithFields(log.Fields{
			"outbox_id":  msg.ID,
			"event_type": msg.EventType,
			"order_id":   msg.AggregateID,
		})

		if err := r.publishWithRetry(ctx, msg); err != nil {
			logger.WithError(err).Error("outbox publish failed after retries")
			relayAttempts.WithLabelValues(msg.EventType, "failed").Inc()

			if dlErr := r.publishDeadLetter(ctx, msg, err); dlErr != nil {
				logger.WithError(dlErr).Warn("failed to publish dead letter")
				relayAttempts.WithLabelValues(msg.EventType, "dead_letter_failed").Inc()
			}
			if markErr := r.repo.MarkFailed(msg.ID); markErr != nil {
				logger.WithError(markErr).Warn("failed to mark outbox message as failed")
			}
			continue
		}

		if err := r.repo.MarkSent(msg.ID); err != nil {
			logger.WithError(err).Warn("failed to mark outbox message as sent")
			continue
		}
		sent++
	}
	return sent
}

func (r *Relay) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := r.publisher.Publish(ctx, msg)
		if err == nil {
			relayAttempts.WithLabelValues(msg.EventType, "sent").Inc()
			return nil
		}
		lastErr = err
		relayAttempts.WithLabelValues(msg.EventType, "retry_error").Inc()

		if attempt == r.cfg.MaxAttempts {
			break
		}
		delay := retryBackoff(r.cfg.RetryBaseDelay, attempt)
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrOutboxPublish, r.cfg.MaxAttempts, lastErr)
}

// retryBackoff удваивает базовую задержку на каждой попытке с защитой от переполнения.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	const maxDuration = time.Duration(1<<63 - 1)
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

func (r *Relay) refreshBacklogMetrics() {
	stats, err := r.repo.Stats()
	if err != nil {
		r.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	relayPending.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		relayOldestPendingAge.Set(0)
		return
	}
	relayOldestPendingAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}

func (r *Relay) publishDeadLetter(ctx context.Context, msg domain.OutboxMessage, publishErr error) error {
	if r.deadLetter == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":      msg.ID,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
		"event_type":     msg.EventType,
		"payload":        json.RawMessage(msg.Payload),
		"publish_error":  publishErr.Error(),
		"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	deadLetter := msg
	deadLetter.Payload = payload
	if err := r.deadLetter.Publish(ctx, deadLetter); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}
