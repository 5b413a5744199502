package app

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/httpapi"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
	"github.com/vladislavdragonenkov/orderflow/internal/ordering"
	"github.com/vladislavdragonenkov/orderflow/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderflow/internal/version"
)

// orderingComponents: собранный сервис заказов без сетевых серверов.
type orderingComponents struct {
	service   *ordering.Service
	reactor   *ordering.Reactor
	relay     *outbox.Relay
	cleaner   *outbox.Cleaner
	publisher *messaging.EventPublisher
	health    *healthcheck.Handler
	bus       *busDependencies
	closers   []func() error
}

func (c *orderingComponents) close(logger *log.Entry) {
	closeAll(logger, c.closers...)
}

// buildOrdering поднимает хранилище, трекер и шину и связывает их с сервисом и реакциями.
func buildOrdering(ctx context.Context, cfg Config, m *metrics.ChoreographyMetrics, logger *log.Entry) (*orderingComponents, error) {
	c := &orderingComponents{health: healthcheck.NewHandler("ordering", version.GetVersion())}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, deps.closeFn)
	if deps.storageChecker != nil {
		c.health.RegisterChecker("storage", deps.storageChecker)
	}

	tracker, err := initTracker(ctx, cfg, logger)
	if err != nil {
		c.close(logger)
		return nil, err
	}
	c.closers = append(c.closers, tracker.closeFn)
	if tracker.checker != nil {
		c.health.RegisterChecker("preconditions", tracker.checker)
	}

	c.bus, err = initTransport(cfg, m, logger)
	if err != nil {
		c.close(logger)
		return nil, err
	}
	c.closers = append(c.closers, c.bus.transport.Close)
	registerBusChecker(c.health, c.bus)

	c.publisher = messaging.NewEventPublisher(c.bus.transport,
		messaging.WithPublisherMetrics(m),
		messaging.WithPublisherLogger(logger.WithField("layer", "publisher")))

	opts := []ordering.Option{
		ordering.WithTimeline(deps.timelineRepo),
		ordering.WithMetrics(m),
		ordering.WithLogger(logger.WithField("layer", "service")),
	}
	if cfg.PublishMode == ordering.PublishOutbox {
		opts = append(opts, ordering.WithOutbox(deps.transactional))
		c.relay = outbox.NewRelay(deps.outboxRepo, messaging.NewOutboxRelay(c.publisher),
			outbox.WithDeadLetter(messaging.NewDeadLetterRelay(c.publisher)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithLogger(logger.WithField("layer", "outbox")))
		if purger, ok := deps.outboxRepo.(outbox.SentPurger); ok {
			c.cleaner = outbox.NewCleaner(purger,
				outbox.WithRetention(cfg.OutboxRetention),
				outbox.WithCleanupInterval(cfg.OutboxCleanupInterval),
				outbox.WithCleanupBatchSize(cfg.OutboxBatchSize),
				outbox.WithCleanerLogger(logger.WithField("layer", "outbox-cleaner")))
		}
	}
	c.service = ordering.NewService(deps.orders, c.publisher, opts...)

	reactorOpts := []ordering.ReactorOption{
		ordering.WithReactorMetrics(m),
		ordering.WithReactorLogger(logger.WithField("layer", "reactor")),
	}
	if tracker.tracker != nil {
		reactorOpts = append(reactorOpts, ordering.WithAllRequired(tracker.tracker))
	}
	c.reactor = ordering.NewReactor(c.service, reactorOpts...)

	logger.WithFields(log.Fields{
		"accept_policy": c.reactor.Policy(),
		"publish_mode":  c.service.Mode(),
		"degraded":      c.bus.degraded,
	}).Info("ordering service assembled")
	return c, nil
}

// start подписывает реакции, запускает relay и, для шины в памяти, участников.
func (c *orderingComponents) start(ctx context.Context, g *errgroup.Group, cfg Config, m *metrics.ChoreographyMetrics, logger *log.Entry) error {
	handler := messaging.Instrument(ordering.ReactionQueue, m, logger, c.reactor.Handle)
	if err := c.bus.transport.Subscribe(ctx, c.reactor.Binding(cfg.QueueMode), handler); err != nil {
		return err
	}
	if c.relay != nil {
		g.Go(func() error { return c.relay.Run(ctx) })
	}
	if c.cleaner != nil {
		g.Go(func() error { return c.cleaner.Run(ctx) })
	}
	if cfg.BusDriver == BusDriverMemory && !c.bus.degraded {
		logger.Info("in-process bus: starting participants inside ordering service")
		return startParticipants(ctx, g, ParticipantNames(), cfg, c.bus.transport, c.publisher, m)
	}
	return nil
}

// RunOrdering запускает сервис заказов: HTTP API, реакции на исходы, relay outbox,
// метрики и gRPC health. Блокируется до отмены ctx.
func RunOrdering(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "ordering-service")
	if err := cfg.Validate(); err != nil {
		return err
	}

	m := metrics.NewChoreographyMetrics()
	components, err := buildOrdering(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer components.close(logger)

	router := httpapi.NewRouter(httpapi.NewHandler(components.service, logger.WithField("layer", "http")))
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := newMetricsServer(cfg.MetricsAddr, components.health)
	grpcSrv := newGRPCHealth(logger)

	g, gctx := errgroup.WithContext(ctx)
	if err := components.start(gctx, g, cfg, m, logger); err != nil {
		return err
	}
	grpcSrv.SetServing("", true)
	grpcSrv.SetServing("ordering", !components.bus.degraded)

	g.Go(func() error { return serveHTTP(apiSrv, "http api", logger) })
	g.Go(func() error { return serveHTTP(metricsSrv, "metrics", logger) })
	g.Go(func() error { return grpcSrv.serve(cfg.GRPCAddr, logger) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdownHTTP(apiSrv, logger)
		grpcSrv.stop(logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
