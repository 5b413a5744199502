package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultRetention        = 24 * time.Hour
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_outbox_cleanup_runs_total",
		Help: "Total number of outbox cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_outbox_cleanup_deleted_total",
		Help: "Total number of purged sent outbox records.",
	})
)

// SentPurger удаляет отправленные сообщения, обновлённые не позже before.
// Возвращает число удалённых записей, не больше limit.
type SentPurger interface {
	PurgeSent(before time.Time, limit int) (int, error)
}

// CleanerOptions задаёт параметры очистки outbox.
type CleanerOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// CleanerOption настраивает Cleaner.
type CleanerOption func(*CleanerOptions)

// WithCleanerLogger задаёт logger.
func WithCleanerLogger(logger *log.Entry) CleanerOption {
	return func(opts *CleanerOptions) { opts.Logger = logger }
}

// WithCleanupInterval задаёт интервал между циклами очистки.
func WithCleanupInterval(interval time.Duration) CleanerOption {
	return func(opts *CleanerOptions) { opts.Interval = interval }
}

// WithCleanupBatchSize задаёт размер одного удаления.
func WithCleanupBatchSize(size int) CleanerOption {
	return func(opts *CleanerOptions) { opts.BatchSize = size }
}

// WithRetention задаёт, сколько отправленные сообщения хранятся до удаления.
func WithRetention(retention time.Duration) CleanerOption {
	return func(opts *CleanerOptions) { opts.Retention = retention }
}

// Cleaner периодически удаляет уже опубликованные сообщения outbox.
type Cleaner struct {
	repo      SentPurger
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewCleaner создаёт воркер очистки.
func NewCleaner(repo SentPurger, options ...CleanerOption) *Cleaner {
	opts := CleanerOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
		Retention: defaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "outbox-cleaner")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Retention < 0 {
		opts.Retention = 0
	}

	return &Cleaner{
		repo:      repo,
		logger:    opts.Logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run чистит outbox до отмены ctx.
func (c *Cleaner) Run(ctx context.Context) error {
	if c.repo == nil {
		c.logger.Warn("outbox cleaner is disabled: repo is nil")
		return nil
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) {
	deleted, err := c.Purge(ctx, c.now().Add(-c.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRunsTotal.WithLabelValues("error").Inc()
		c.logger.WithError(err).Warn("outbox cleanup run failed")
		return
	}

	cleanupRunsTotal.WithLabelValues("ok").Inc()
	if deleted > 0 {
		c.logger.WithField("deleted", deleted).Info("outbox cleanup completed")
	}
}

// Purge удаляет все отправленные сообщения старше before порциями batchSize.
func (c *Cleaner) Purge(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := c.repo.PurgeSent(before, c.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			cleanupDeletedTotal.Add(float64(deleted))
		}
		if deleted < c.batchSize {
			return total, nil
		}
	}
}
