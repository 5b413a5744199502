// Package rabbitmq: транспорт шины поверх AMQP topic exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

// Заголовки повторной доставки.
const (
	HeaderRetryCount = "x-retry-count"
	HeaderRoutingKey = "x-routing-key"
)

// Config описывает подключение и семантику подтверждений.
type Config struct {
	URL      string
	Exchange string
	AckMode  messaging.AckMode
	// MaxRedeliveries: число повторов в режиме AckAfterHandle до отправки в dead-letter.
	MaxRedeliveries int
	Prefetch        int
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = messaging.ExchangeName
	}
	if c.AckMode == "" {
		c.AckMode = messaging.AckOnReceipt
	}
	if c.MaxRedeliveries < 0 {
		c.MaxRedeliveries = 0
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 16
	}
	return c
}

// amqpChannel: подмножество *amqp.Channel, которым пользуется транспорт.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Transport публикует в topic exchange и держит по каналу на каждую подписку.
type Transport struct {
	cfg         Config
	conn        io.Closer
	openChannel func() (amqpChannel, error)

	pubMu sync.Mutex
	pub   amqpChannel

	wg     sync.WaitGroup
	logger *log.Entry
}

// Dial подключается к брокеру и объявляет exchange. Ошибка подключения оборачивает
// domain.ErrTransportUnavailable.
func Dial(cfg Config) (*Transport, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial rabbitmq: %v", domain.ErrTransportUnavailable, err)
	}

	t, err := newTransport(cfg, conn, func() (amqpChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return t, nil
}

func newTransport(cfg Config, conn io.Closer, open func() (amqpChannel, error)) (*Transport, error) {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:         cfg,
		conn:        conn,
		openChannel: open,
		logger: log.WithFields(log.Fields{
			"component": "rabbitmq-transport",
			"exchange":  cfg.Exchange,
		}),
	}

	pub, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", domain.ErrTransportUnavailable, err)
	}
	if err := t.declareTopology(pub); err != nil {
		_ = pub.Close()
		return nil, err
	}
	t.pub = pub
	return t, nil
}

func (t *Transport) declareTopology(ch amqpChannel) error {
	if err := ch.ExchangeDeclare(t.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.cfg.Exchange, err)
	}
	if t.cfg.AckMode != messaging.AckAfterHandle {
		return nil
	}

	dlx := messaging.DeadLetterExchange(t.cfg.Exchange)
	if err := ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange %s: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlx, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(dlx, "", dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	return nil
}

// Publish отправляет persistent-сообщение в exchange.
func (t *Transport) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	err := t.pub.Publish(t.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
		}
		return fmt.Errorf("publish to %s: %w", t.cfg.Exchange, err)
	}
	return nil
}

// Subscribe объявляет очередь, привязывает ключи и запускает цикл потребления.
// Эксклюзивная очередь получает имя от сервера и живёт пока жив потребитель.
func (t *Transport) Subscribe(ctx context.Context, binding messaging.Binding, handler messaging.Handler) error {
	ch, err := t.openChannel()
	if err != nil {
		return fmt.Errorf("%w: open channel: %v", domain.ErrTransportUnavailable, err)
	}

	queue, err := t.declareQueue(ch, binding)
	if err != nil {
		_ = ch.Close()
		return err
	}

	autoAck := t.cfg.AckMode != messaging.AckAfterHandle
	if !autoAck {
		if err := ch.Qos(t.cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return fmt.Errorf("set qos: %w", err)
		}
	}

	deliveries, err := ch.Consume(queue, binding.Queue+"-"+uuid.NewString()[:8], autoAck, !binding.Shared, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	t.logger.WithFields(log.Fields{
		"queue":        queue,
		"routing_keys": binding.RoutingKeys,
		"shared":       binding.Shared,
		"auto_ack":     autoAck,
	}).Info("subscribed")

	t.wg.Add(1)
	go t.consume(ctx, ch, queue, deliveries, handler, autoAck)
	return nil
}

func (t *Transport) declareQueue(ch amqpChannel, binding messaging.Binding) (string, error) {
	var args amqp.Table
	if t.cfg.AckMode == messaging.AckAfterHandle {
		args = amqp.Table{"x-dead-letter-exchange": messaging.DeadLetterExchange(t.cfg.Exchange)}
	}

	name, durable, autoDelete, exclusive := "", false, true, true
	if binding.Shared {
		name, durable, autoDelete, exclusive = binding.Queue, true, false, false
	}

	q, err := ch.QueueDeclare(name, durable, autoDelete, exclusive, false, args)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", binding.Queue, err)
	}
	for _, key := range binding.RoutingKeys {
		if err := ch.QueueBind(q.Name, key, t.cfg.Exchange, false, nil); err != nil {
			return "", fmt.Errorf("bind %s to %s: %w", q.Name, key, err)
		}
	}
	return q.Name, nil
}

func (t *Transport) consume(ctx context.Context, ch amqpChannel, queue string, deliveries <-chan amqp.Delivery, handler messaging.Handler, autoAck bool) {
	defer t.wg.Done()
	defer ch.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				t.logger.WithField("queue", queue).Warn("delivery channel closed")
				return
			}
			t.handle(ctx, ch, queue, d, handler, autoAck)
		}
	}
}

func (t *Transport) handle(ctx context.Context, ch amqpChannel, queue string, d amqp.Delivery, handler messaging.Handler, autoAck bool) {
	attempt := retryCount(d.Headers) + 1
	routingKey := d.RoutingKey
	if original, ok := d.Headers[HeaderRoutingKey].(string); ok && original != "" {
		routingKey = original
	}

	err := handler(ctx, messaging.Delivery{
		MessageID:   d.MessageId,
		RoutingKey:  routingKey,
		Body:        d.Body,
		Redelivered: d.Redelivered || attempt > 1,
		Attempt:     attempt,
	})

	logger := t.logger.WithFields(log.Fields{
		"queue":       queue,
		"routing_key": routingKey,
		"attempt":     attempt,
	})

	if autoAck {
		if err != nil {
			logger.WithError(err).Warn("handler failed, message already acknowledged")
		}
		return
	}

	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logger.WithError(ackErr).Error("ack failed")
		}
		return
	}

	if attempt > t.cfg.MaxRedeliveries {
		logger.WithError(err).Error("max redeliveries reached, dead-lettering message")
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.WithError(nackErr).Error("nack failed")
		}
		return
	}

	// Повтор публикуется напрямую в очередь через default exchange,
	// чтобы не размножать копию по остальным привязкам.
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(attempt)
	headers[HeaderRoutingKey] = routingKey

	pubErr := ch.Publish("", queue, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now().UTC(),
		Body:         d.Body,
	})
	if pubErr != nil {
		logger.WithError(pubErr).Error("retry publish failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	logger.WithError(err).Warn("handler failed, scheduled redelivery")
	_ = d.Ack(false)
}

func retryCount(headers amqp.Table) int {
	switch v := headers[HeaderRetryCount].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Close закрывает соединение и ждёт завершения циклов потребления.
func (t *Transport) Close() error {
	t.pubMu.Lock()
	if t.pub != nil {
		_ = t.pub.Close()
	}
	t.pubMu.Unlock()

	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	t.wg.Wait()
	if err != nil {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	return nil
}

var _ messaging.Transport = (*Transport)(nil)
