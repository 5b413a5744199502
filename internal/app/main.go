package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/version"
)

// Main запускает сервис: читает конфигурацию из окружения, настраивает логгер
// и останавливается по SIGINT/SIGTERM. Ошибка запуска завершает процесс.
func Main(service string, run func(ctx context.Context, cfg Config) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runMain(ctx, service, os.LookupEnv, run); err != nil {
		log.WithError(err).Fatalf("%s завершился с ошибкой", service)
	}
	log.Infof("%s остановлен", service)
}

func runMain(ctx context.Context, service string, lookup func(string) (string, bool), run func(context.Context, Config) error) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	cfg, err := loadConfig(lookup)
	if err != nil {
		return err
	}
	ConfigureLogging(cfg.LogLevel)

	log.WithFields(version.Fields(service)).WithFields(log.Fields{
		"storage":       cfg.StorageDriver,
		"bus":           cfg.BusDriver,
		"accept_policy": cfg.AcceptPolicy,
		"publish_mode":  cfg.PublishMode,
	}).Infof("запускаем %s", service)

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ParticipantMain возвращает функцию запуска участника name для Main.
func ParticipantMain(name string) func(ctx context.Context, cfg Config) error {
	return func(ctx context.Context, cfg Config) error {
		return RunParticipant(ctx, cfg, name)
	}
}
