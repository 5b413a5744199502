// Package inmemory реализует topic exchange внутри процесса для тестов и локального запуска.
package inmemory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

// ErrClosed возвращается после Close.
var ErrClosed = errors.New("in-memory exchange closed")

const defaultBuffer = 256

// DeadLetter: сообщение, исчерпавшее повторы в режиме AckAfterHandle.
type DeadLetter struct {
	Queue    string
	Delivery messaging.Delivery
	Err      error
}

// Exchange: topic exchange в памяти. Каждая эксклюзивная подписка получает свою очередь,
// общие очереди раздают сообщения потребителям по кругу.
type Exchange struct {
	mu     sync.RWMutex
	queues map[string]*queue
	closed bool

	ackMode         messaging.AckMode
	maxRedeliveries int
	buffer          int

	dlMu        sync.Mutex
	deadLetters []DeadLetter

	wg     sync.WaitGroup
	logger *log.Entry
}

// Option настраивает Exchange.
type Option func(*Exchange)

// WithAckAfterHandle включает повторную доставку при ошибке обработчика.
func WithAckAfterHandle(maxRedeliveries int) Option {
	return func(e *Exchange) {
		e.ackMode = messaging.AckAfterHandle
		if maxRedeliveries >= 0 {
			e.maxRedeliveries = maxRedeliveries
		}
	}
}

// WithBuffer задаёт ёмкость очереди одного потребителя.
func WithBuffer(size int) Option {
	return func(e *Exchange) {
		if size > 0 {
			e.buffer = size
		}
	}
}

type queue struct {
	name      string
	patterns  []string
	consumers []*consumer
	next      int
}

type consumer struct {
	queue    string
	ch       chan messaging.Delivery
	handler  messaging.Handler
	done     chan struct{}
	stopOnce sync.Once
}

func (c *consumer) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// NewExchange создаёт exchange.
func NewExchange(opts ...Option) *Exchange {
	e := &Exchange{
		queues:          make(map[string]*queue),
		ackMode:         messaging.AckOnReceipt,
		maxRedeliveries: 3,
		buffer:          defaultBuffer,
		logger:          log.WithField("component", "inmemory-exchange"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Publish маршрутизирует сообщение во все очереди с совпадающей привязкой.
func (e *Exchange) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delivery := messaging.Delivery{
		MessageID:  uuid.NewString(),
		RoutingKey: routingKey,
		Body:       append([]byte(nil), body...),
		Attempt:    1,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	var targets []*consumer
	for _, q := range e.queues {
		if !q.matches(routingKey) || len(q.consumers) == 0 {
			continue
		}
		c := q.consumers[q.next%len(q.consumers)]
		q.next++
		targets = append(targets, c)
	}
	e.mu.Unlock()

	for _, c := range targets {
		e.enqueue(ctx, c, delivery)
	}
	return nil
}

func (e *Exchange) enqueue(ctx context.Context, c *consumer, d messaging.Delivery) {
	select {
	case c.ch <- d:
	case <-c.done:
	case <-ctx.Done():
		e.logger.WithField("queue", c.queue).Warn("delivery dropped: publish context done")
	}
}

// Subscribe создаёт очередь (эксклюзивную или общую) и запускает потребителя.
func (e *Exchange) Subscribe(ctx context.Context, binding messaging.Binding, handler messaging.Handler) error {
	c := &consumer{
		ch:      make(chan messaging.Delivery, e.buffer),
		handler: handler,
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	name := binding.Queue
	if !binding.Shared {
		name = binding.Queue + ".gen-" + uuid.NewString()
	}
	q, ok := e.queues[name]
	if !ok {
		q = &queue{name: name}
		e.queues[name] = q
	}
	q.bind(binding.RoutingKeys)
	c.queue = name
	q.consumers = append(q.consumers, c)
	e.mu.Unlock()

	e.wg.Add(1)
	go e.consume(ctx, c)

	e.logger.WithFields(log.Fields{
		"queue":        name,
		"routing_keys": binding.RoutingKeys,
		"shared":       binding.Shared,
	}).Debug("queue bound")
	return nil
}

func (e *Exchange) consume(ctx context.Context, c *consumer) {
	defer e.wg.Done()
	defer e.detach(c)
	defer c.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case d := <-c.ch:
			e.handle(ctx, c, d)
		}
	}
}

func (e *Exchange) handle(ctx context.Context, c *consumer, d messaging.Delivery) {
	for {
		err := c.handler(ctx, d)
		if err == nil {
			return
		}
		if e.ackMode == messaging.AckOnReceipt {
			e.logger.WithError(err).WithFields(log.Fields{
				"queue":       c.queue,
				"routing_key": d.RoutingKey,
			}).Warn("handler failed, message already acknowledged")
			return
		}
		if d.Attempt > e.maxRedeliveries || ctx.Err() != nil {
			e.deadLetter(DeadLetter{Queue: c.queue, Delivery: d, Err: err})
			return
		}
		d.Attempt++
		d.Redelivered = true
	}
}

func (e *Exchange) deadLetter(dl DeadLetter) {
	e.dlMu.Lock()
	e.deadLetters = append(e.deadLetters, dl)
	e.dlMu.Unlock()
	e.logger.WithError(dl.Err).WithFields(log.Fields{
		"queue":       dl.Queue,
		"routing_key": dl.Delivery.RoutingKey,
		"attempts":    dl.Delivery.Attempt,
	}).Error("message dead-lettered after max redeliveries")
}

// DeadLetters возвращает копию сообщений, ушедших в dead-letter.
func (e *Exchange) DeadLetters() []DeadLetter {
	e.dlMu.Lock()
	defer e.dlMu.Unlock()
	out := make([]DeadLetter, len(e.deadLetters))
	copy(out, e.deadLetters)
	return out
}

func (e *Exchange) detach(c *consumer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[c.queue]
	if !ok {
		return
	}
	for i, existing := range q.consumers {
		if existing == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	if len(q.consumers) == 0 {
		delete(e.queues, c.queue)
	}
}

// QueueCount возвращает число объявленных очередей.
func (e *Exchange) QueueCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queues)
}

// Close останавливает всех потребителей и ждёт их завершения.
func (e *Exchange) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	var consumers []*consumer
	for _, q := range e.queues {
		consumers = append(consumers, q.consumers...)
	}
	e.mu.Unlock()

	for _, c := range consumers {
		c.stop()
	}
	e.wg.Wait()
	return nil
}

func (q *queue) bind(patterns []string) {
	for _, p := range patterns {
		if !slices.Contains(q.patterns, p) {
			q.patterns = append(q.patterns, p)
		}
	}
}

func (q *queue) matches(routingKey string) bool {
	for _, p := range q.patterns {
		if messaging.MatchTopic(p, routingKey) {
			return true
		}
	}
	return false
}

var _ messaging.Transport = (*Exchange)(nil)
