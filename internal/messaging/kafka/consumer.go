package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer представляет Kafka consumer group с поддержкой DLQ
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	ackMode     messaging.AckMode
	dlqProducer *Producer // Producer для отправки в DLQ
	dlqTopic    string
	maxRetries  int
	retryDelay  time.Duration
}

// ConsumerConfig описывает подписку consumer group.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	AckMode    messaging.AckMode
	MaxRetries int
	RetryDelay time.Duration
	// DLQProducer и DLQTopic включают отправку в dead-letter после исчерпания повторов.
	DLQProducer *Producer
	DLQTopic    string
}

// NewConsumer создает новый Kafka consumer
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, cfg, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler) *Consumer {
	if cfg.AckMode == "" {
		cfg.AckMode = messaging.AckOnReceipt
	}
	return &Consumer{
		consumer: group,
		topics:   cfg.Topics,
		handler:  handler,
		logger: log.WithFields(log.Fields{
			"component": "kafka-consumer",
			"group":     cfg.GroupID,
		}),
		ackMode:     cfg.AckMode,
		dlqProducer: cfg.DLQProducer,
		dlqTopic:    cfg.DLQTopic,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition.
// AckOnReceipt: offset фиксируется до обработки, ошибка теряет сообщение.
// AckAfterHandle: offset фиксируется после успеха или отправки в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			logger := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			logger.Debug("received message")

			if c.ackMode == messaging.AckOnReceipt {
				session.MarkMessage(message, "")
				if err := c.handler(session.Context(), message); err != nil {
					logger.WithError(err).Warn("handler failed, offset already committed")
				}
				continue
			}

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				logger.WithError(err).Error("message processing failed after all retries")
				// Не маркируем сообщение: оно будет перечитано после rebalance
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry повторяет обработку до maxRetries раз, затем отправляет в DLQ.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempt := c.getRetryCount(message)

	var err error
	for {
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if attempt >= c.maxRetries {
			break
		}
		attempt++
		c.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": attempt,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err, attempt); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": attempt,
	}).Info("message sent to DLQ after max retries")
	return nil
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	if value, ok := header(message, HeaderRetryCount); ok {
		if count, err := strconv.Atoi(value); err == nil {
			return count
		}
	}
	return 0
}

// sendToDLQ отправляет исходное тело в dead-letter topic; контекст ошибки: в заголовках.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retries int) error {
	headers := map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderFailedAt:      time.Now().UTC().Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(retries),
	}
	if key, ok := header(message, HeaderRoutingKey); ok {
		headers[HeaderRoutingKey] = key
	}
	return c.dlqProducer.Send(context.Background(), Record{
		Topic:   c.dlqTopic,
		Key:     string(message.Key),
		Value:   message.Value,
		Headers: headers,
	})
}

func header(message *sarama.ConsumerMessage, name string) (string, bool) {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == name {
			return string(h.Value), true
		}
	}
	return "", false
}
