package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/inmemory"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
	"github.com/vladislavdragonenkov/orderflow/internal/ordering"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/redis"
)

const storageInitTimeout = 10 * time.Second

// runtimeDependencies: хранилища сервиса заказов и функция их закрытия.
type runtimeDependencies struct {
	orders        domain.OrderRepository
	transactional domain.TransactionalOrderRepository
	outboxRepo    domain.OutboxRepository
	timelineRepo  domain.TimelineRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies поднимает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		outboxRepo := memory.NewOutboxRepository()
		transactional := memory.NewTransactionalOrderRepository(outboxRepo)
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			orders:        transactional,
			transactional: transactional,
			outboxRepo:    outboxRepo,
			timelineRepo:  memory.NewTimelineRepository(),
		}, nil
	case StorageDriverPostgres:
		return initPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func initPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres storage requires POSTGRES_DSN")
	}

	initCtx, cancel := context.WithTimeout(ctx, storageInitTimeout)
	defer cancel()

	store, err := postgres.Open(initCtx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(initCtx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		version, applied, err := store.MigrationStatus(initCtx)
		if err == nil {
			logger.WithFields(log.Fields{"version": version, "applied": applied}).Info("postgres migrations applied")
		}
	}

	transactional := postgres.NewOrderRepository(store)
	logger.Info("using postgres storage")
	return &runtimeDependencies{
		orders:         transactional,
		transactional:  transactional,
		outboxRepo:     postgres.NewOutboxRepository(store),
		timelineRepo:   postgres.NewTimelineRepository(store),
		storageChecker: healthcheck.NewPingChecker("postgres", store.Ping),
		closeFn:        store.Close,
	}, nil
}

// trackerDependencies: трекер предусловий для политики all-required.
type trackerDependencies struct {
	tracker domain.PreconditionTracker
	checker healthcheck.Checker
	closeFn func() error
}

// initTracker возвращает nil-трекер для first-success; для all-required: Redis,
// если задан REDIS_ADDR, иначе память процесса.
func initTracker(ctx context.Context, cfg Config, logger *log.Entry) (*trackerDependencies, error) {
	if cfg.AcceptPolicy != ordering.AcceptAllRequired {
		return &trackerDependencies{}, nil
	}
	if cfg.RedisAddr == "" {
		logger.Warn("all-required policy without REDIS_ADDR: preconditions are kept in process memory")
		return &trackerDependencies{tracker: memory.NewPreconditionTracker()}, nil
	}

	client, err := redis.Dial(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.WithField("addr", cfg.RedisAddr).Info("precondition tracker uses redis")
	return &trackerDependencies{
		tracker: redis.NewPreconditionTracker(client, cfg.PreconditionTTL),
		checker: healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}),
		closeFn: client.Close,
	}, nil
}

// busDependencies: подключённая шина и признак деградации.
type busDependencies struct {
	transport messaging.Transport
	degraded  bool
}

// dialers подменяются в тестах.
var (
	dialRabbitMQ = func(cfg rabbitmq.Config) (messaging.Transport, error) { return rabbitmq.Dial(cfg) }
	dialKafka    = func(cfg kafka.TransportConfig) (messaging.Transport, error) { return kafka.NewTransport(cfg) }
)

// initTransport подключает шину. Недоступный брокер при старте переводит процесс
// в режим только-лог до перезапуска: события пишутся в лог, подписки не создаются.
func initTransport(cfg Config, m *metrics.ChoreographyMetrics, logger *log.Entry) (*busDependencies, error) {
	var (
		transport messaging.Transport
		err       error
	)
	switch cfg.BusDriver {
	case BusDriverMemory:
		var opts []inmemory.Option
		if cfg.AckMode == messaging.AckAfterHandle {
			opts = append(opts, inmemory.WithAckAfterHandle(cfg.MaxRedeliveries))
		}
		transport = inmemory.NewExchange(opts...)
	case BusDriverRabbitMQ:
		transport, err = dialRabbitMQ(rabbitmq.Config{
			URL:             cfg.RabbitMQURL,
			AckMode:         cfg.AckMode,
			MaxRedeliveries: cfg.MaxRedeliveries,
		})
	case BusDriverKafka:
		transport, err = dialKafka(kafka.TransportConfig{
			Brokers:    cfg.KafkaBrokers,
			AckMode:    cfg.AckMode,
			MaxRetries: cfg.MaxRedeliveries,
		})
	default:
		return nil, fmt.Errorf("unsupported bus driver: %s", cfg.BusDriver)
	}

	if err != nil {
		if !errors.Is(err, domain.ErrTransportUnavailable) {
			return nil, err
		}
		logger.WithError(err).WithField("driver", cfg.BusDriver).Warn("message bus unavailable, falling back to log-only transport")
		m.SetDegraded(true)
		return &busDependencies{transport: messaging.NewLogOnlyTransport(logger), degraded: true}, nil
	}

	m.SetDegraded(false)
	logger.WithFields(log.Fields{
		"driver":     cfg.BusDriver,
		"queue_mode": cfg.QueueMode,
		"ack_mode":   cfg.AckMode,
	}).Info("message bus connected")
	return &busDependencies{transport: transport}, nil
}

// closeAll закрывает ресурсы в обратном порядке и логирует ошибки.
func closeAll(logger *log.Entry, closers ...func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close resource")
		}
	}
}
