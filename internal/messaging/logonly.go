package messaging

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogOnlyTransport заменяет шину, если брокер недоступен при старте.
// Публикации только логируются, подписки ничего не получают. Переподключения нет.
type LogOnlyTransport struct {
	logger *log.Entry
}

// NewLogOnlyTransport создаёт транспорт деградированного режима.
func NewLogOnlyTransport(logger *log.Entry) *LogOnlyTransport {
	if logger == nil {
		logger = log.WithField("component", "log-only-transport")
	}
	return &LogOnlyTransport{logger: logger}
}

func (t *LogOnlyTransport) Publish(_ context.Context, routingKey string, body []byte) error {
	t.logger.WithFields(log.Fields{
		"routing_key": routingKey,
		"body":        string(body),
	}).Info("running without message bus, event logged only")
	return nil
}

func (t *LogOnlyTransport) Subscribe(_ context.Context, binding Binding, _ Handler) error {
	t.logger.WithFields(log.Fields{
		"queue":        binding.Queue,
		"routing_keys": binding.RoutingKeys,
	}).Warn("running without message bus, subscription is inactive")
	return nil
}

func (t *LogOnlyTransport) Close() error { return nil }

var _ Transport = (*LogOnlyTransport)(nil)
