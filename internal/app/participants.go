package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
	"github.com/vladislavdragonenkov/orderflow/internal/participant"
	"github.com/vladislavdragonenkov/orderflow/internal/version"
)

// ParticipantNames: участники, которых умеет запускать RunParticipant.
func ParticipantNames() []string {
	return []string{
		participant.PaymentQueue,
		participant.InventoryQueue,
		participant.ShippingQueue,
		participant.NotificationQueue,
	}
}

// buildParticipant собирает участника по имени очереди.
func buildParticipant(name string, cfg Config, logger *log.Entry) (participant.Participant, error) {
	switch name {
	case participant.PaymentQueue:
		return participant.NewPayment(cfg.PaymentLimit, cfg.PaymentLatency), nil
	case participant.InventoryQueue:
		return participant.NewInventory(cfg.UnavailableProducts, cfg.InventoryLatency), nil
	case participant.ShippingQueue:
		return participant.NewShipping(cfg.ShippingLatency), nil
	case participant.NotificationQueue:
		return participant.NewNotification(participant.NewLogNotifier(logger), cfg.NotifyLatency), nil
	default:
		return participant.Participant{}, fmt.Errorf("unknown participant: %s", name)
	}
}

func newRunner(name string, cfg Config, transport messaging.Transport, publisher *messaging.EventPublisher, m *metrics.ChoreographyMetrics) (*participant.Runner, error) {
	logger := log.WithField("component", name)
	p, err := buildParticipant(name, cfg, logger)
	if err != nil {
		return nil, err
	}
	return participant.NewRunner(p, transport, publisher,
		participant.WithQueueMode(cfg.QueueMode),
		participant.WithMetrics(m),
		participant.WithLogger(logger),
	), nil
}

// startParticipants запускает участников в группе g на общей шине.
func startParticipants(ctx context.Context, g *errgroup.Group, names []string, cfg Config, transport messaging.Transport, publisher *messaging.EventPublisher, m *metrics.ChoreographyMetrics) error {
	for _, name := range names {
		runner, err := newRunner(name, cfg, transport, publisher, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(ctx) })
	}
	return nil
}

// RunParticipant запускает одного участника хореографии и блокируется до отмены ctx.
func RunParticipant(ctx context.Context, cfg Config, name string) error {
	logger := log.WithField("component", name+"-service")
	if _, err := buildParticipant(name, cfg, logger); err != nil {
		return err
	}

	m := metrics.NewChoreographyMetrics()
	bus, err := initTransport(cfg, m, logger)
	if err != nil {
		return err
	}
	defer closeAll(logger, bus.transport.Close)

	publisher := messaging.NewEventPublisher(bus.transport,
		messaging.WithPublisherMetrics(m),
		messaging.WithPublisherLogger(logger))

	healthHandler := healthcheck.NewHandler(name, version.GetVersion())
	registerBusChecker(healthHandler, bus)
	metricsSrv := newMetricsServer(cfg.MetricsAddr, healthHandler)

	g, gctx := errgroup.WithContext(ctx)
	if err := startParticipants(gctx, g, []string{name}, cfg, bus.transport, publisher, m); err != nil {
		return err
	}
	g.Go(func() error { return serveHTTP(metricsSrv, "metrics", logger) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки")
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func registerBusChecker(h *healthcheck.Handler, bus *busDependencies) {
	h.RegisterChecker("bus", healthcheck.NewDegradedChecker("bus",
		"message bus unavailable at startup, events are only logged",
		func() bool { return bus.degraded }))
}
