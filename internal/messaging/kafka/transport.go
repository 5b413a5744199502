package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

// TransportConfig описывает Kafka-транспорт шины.
type TransportConfig struct {
	Brokers    []string
	Exchange   string
	AckMode    messaging.AckMode
	MaxRetries int
	RetryDelay time.Duration
}

// groupFactory создаёт consumer group; подменяется в тестах.
type groupFactory func(groupID string, topics []string, cfg ConsumerConfig, handler MessageHandler) (*Consumer, error)

// Transport реализует messaging.Transport поверх Kafka.
// Эксклюзивная подписка: уникальная consumer group на экземпляр (fan-out),
// общая: group с именем очереди (конкурирующие потребители).
type Transport struct {
	cfg      TransportConfig
	producer *Producer
	newGroup groupFactory

	mu        sync.Mutex
	consumers []*Consumer
	logger    *log.Entry
}

// NewTransport подключает producer. Недоступность брокеров оборачивает ErrTransportUnavailable.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	producer, err := NewProducer(cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}
	return newTransport(cfg, producer, func(groupID string, topics []string, cc ConsumerConfig, handler MessageHandler) (*Consumer, error) {
		cc.GroupID = groupID
		cc.Topics = topics
		return NewConsumer(cc, handler)
	}), nil
}

func newTransport(cfg TransportConfig, producer *Producer, factory groupFactory) *Transport {
	if cfg.Exchange == "" {
		cfg.Exchange = messaging.ExchangeName
	}
	if cfg.AckMode == "" {
		cfg.AckMode = messaging.AckOnReceipt
	}
	return &Transport{
		cfg:      cfg,
		producer: producer,
		newGroup: factory,
		logger:   log.WithField("component", "kafka-transport"),
	}
}

// Publish отправляет тело в topic ключа маршрутизации.
func (t *Transport) Publish(ctx context.Context, routingKey string, body []byte) error {
	return t.producer.SendRouted(ctx, t.cfg.Exchange, routingKey, body)
}

// Subscribe создаёт consumer group для привязки и останавливает её по ctx.
func (t *Transport) Subscribe(ctx context.Context, binding messaging.Binding, handler messaging.Handler) error {
	topics, err := topicsFor(t.cfg.Exchange, binding.RoutingKeys)
	if err != nil {
		return err
	}

	groupID := binding.Queue
	if !binding.Shared {
		groupID = binding.Queue + "-" + uuid.NewString()
	}

	consumerCfg := ConsumerConfig{
		Brokers:    t.cfg.Brokers,
		AckMode:    t.cfg.AckMode,
		MaxRetries: t.cfg.MaxRetries,
		RetryDelay: t.cfg.RetryDelay,
	}
	if t.cfg.AckMode == messaging.AckAfterHandle {
		consumerCfg.DLQProducer = t.producer
		consumerCfg.DLQTopic = DeadLetterTopic(t.cfg.Exchange)
	}

	consumer, err := t.newGroup(groupID, topics, consumerCfg, t.adapt(handler))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	t.consumers = append(t.consumers, consumer)
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		if err := t.stopConsumer(consumer); err != nil {
			t.logger.WithError(err).Warn("stop consumer")
		}
	}()

	t.logger.WithFields(log.Fields{
		"group":  groupID,
		"topics": topics,
	}).Info("subscribed")
	return nil
}

func (t *Transport) adapt(handler messaging.Handler) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		routingKey, ok := header(message, HeaderRoutingKey)
		if !ok {
			routingKey = RoutingKeyFromTopic(t.cfg.Exchange, message.Topic)
		}
		retries := 0
		if value, ok := header(message, HeaderRetryCount); ok {
			retries, _ = strconv.Atoi(value)
		}
		return handler(ctx, messaging.Delivery{
			MessageID:   fmt.Sprintf("%s/%d/%d", message.Topic, message.Partition, message.Offset),
			RoutingKey:  routingKey,
			Body:        message.Value,
			Redelivered: retries > 0,
			Attempt:     retries + 1,
		})
	}
}

func (t *Transport) stopConsumer(consumer *Consumer) error {
	t.mu.Lock()
	found := false
	for i, existing := range t.consumers {
		if existing == consumer {
			t.consumers = append(t.consumers[:i], t.consumers[i+1:]...)
			found = true
			break
		}
	}
	t.mu.Unlock()
	if !found {
		return nil
	}
	return consumer.Stop()
}

// Close останавливает все consumer group и producer.
func (t *Transport) Close() error {
	t.mu.Lock()
	consumers := t.consumers
	t.consumers = nil
	t.mu.Unlock()

	for _, c := range consumers {
		if err := c.Stop(); err != nil {
			t.logger.WithError(err).Warn("stop consumer")
		}
	}
	return t.producer.Close()
}

var _ messaging.Transport = (*Transport)(nil)
