package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Record: одно сообщение для Kafka. Пустой Key означает round-robin по партициям.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func (r Record) message() *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     r.Topic,
		Value:     sarama.ByteEncoder(r.Value),
		Timestamp: time.Now(),
	}
	if r.Key != "" {
		msg.Key = sarama.StringEncoder(r.Key)
	}
	for name, value := range r.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
	}
	return msg
}

// Producer: синхронный producer событий ordering-events.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1 // обязательное условие идемпотентности
	return config
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// Send публикует запись и ждёт подтверждения брокера.
func (p *Producer) Send(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(record.message())
	if err != nil {
		p.logger.WithError(err).WithField("topic", record.Topic).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", record.Topic, err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     record.Topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("kafka record sent")
	return nil
}

// SendRouted публикует тело события в topic его ключа маршрутизации.
// Исходный ключ сохраняется в заголовке, так как имя topic-а в нижнем регистре.
func (p *Producer) SendRouted(ctx context.Context, exchange, routingKey string, body []byte) error {
	return p.Send(ctx, Record{
		Topic:   TopicFor(exchange, routingKey),
		Value:   body,
		Headers: map[string]string{HeaderRoutingKey: routingKey},
	})
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
