package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/messaging"
)

// fakeGroup подменяет sarama.ConsumerGroup; Consume вызывает consume, если он задан.
type fakeGroup struct {
	consume  func(ctx context.Context) error
	errs     chan error
	closed   chan struct{}
	closeErr error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	if g.consume != nil {
		return g.consume(ctx)
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.errs)
	if g.closed != nil {
		close(g.closed)
	}
	return g.closeErr
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

// fakeSession запоминает подтверждённые offset-ы.
type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "ordering-events.ordercreatedevent" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimOf(messages ...*sarama.ConsumerMessage) *fakeClaim {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, msg := range messages {
		claim.messages <- msg
	}
	close(claim.messages)
	return claim
}

func createdMessage(offset int64, retries string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{
		Topic:  "ordering-events.ordercreatedevent",
		Key:    []byte("order-1"),
		Value:  []byte(`{"OrderId":"order-1"}`),
		Offset: offset,
	}
	if retries != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(retries)}}
	}
	return msg
}

func testConsumer(handler MessageHandler, ackMode messaging.AckMode, maxRetries int) *Consumer {
	return &Consumer{
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer-test"),
		ackMode:    ackMode,
		maxRetries: maxRetries,
	}
}

func TestNewConsumer_UnreachableBrokers(t *testing.T) {
	cfg := ConsumerConfig{Brokers: []string{"127.0.0.1:1"}, GroupID: "payment", Topics: []string{"ordering-events.ordercreatedevent"}}
	if _, err := NewConsumer(cfg, func(context.Context, *sarama.ConsumerMessage) error { return nil }); err == nil {
		t.Fatal("expected error for unreachable brokers")
	}
}

func TestConsumer_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rounds := 0
	group := &fakeGroup{errs: make(chan error, 1)}
	group.consume = func(context.Context) error {
		rounds++
		cancel()
		return nil
	}
	group.errs <- errors.New("rebalance error")

	consumer := newConsumer(group, ConsumerConfig{GroupID: "inventory", Topics: []string{"t"}},
		func(context.Context, *sarama.ConsumerMessage) error { return nil })
	if consumer.ackMode != messaging.AckOnReceipt {
		t.Fatalf("default ack mode must be on-receipt, got %s", consumer.ackMode)
	}

	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if rounds != 1 {
		t.Fatalf("expected exactly one consume round, got %d", rounds)
	}
}

func TestConsumer_StopReportsCloseError(t *testing.T) {
	group := &fakeGroup{errs: make(chan error), closeErr: errors.New("close failed")}
	consumer := &Consumer{consumer: group, logger: log.WithField("component", "kafka-consumer-test")}

	if err := consumer.Stop(); err == nil {
		t.Fatal("expected close error")
	}
}

func TestConsumeClaim_AckModes(t *testing.T) {
	tests := []struct {
		name       string
		ackMode    messaging.AckMode
		handlerErr error
		wantMarked int
	}{
		{name: "on-receipt success", ackMode: messaging.AckOnReceipt, wantMarked: 1},
		{name: "on-receipt failure is still acked", ackMode: messaging.AckOnReceipt, handlerErr: errors.New("lost"), wantMarked: 1},
		{name: "after-handle success", ackMode: messaging.AckAfterHandle, wantMarked: 1},
		{name: "after-handle failure stays unacked", ackMode: messaging.AckAfterHandle, handlerErr: errors.New("retry me"), wantMarked: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{ctx: context.Background()}
			markedBefore := -1
			consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
				markedBefore = len(session.marked)
				return tt.handlerErr
			}, tt.ackMode, 0)

			if err := consumer.ConsumeClaim(session, claimOf(createdMessage(7, ""))); err != nil {
				t.Fatalf("ConsumeClaim: %v", err)
			}
			if len(session.marked) != tt.wantMarked {
				t.Fatalf("marked %d messages, want %d", len(session.marked), tt.wantMarked)
			}
			if tt.ackMode == messaging.AckOnReceipt && markedBefore != 1 {
				t.Fatal("on-receipt mode must ack before the handler runs")
			}
			if tt.ackMode == messaging.AckAfterHandle && markedBefore != 0 {
				t.Fatal("after-handle mode must ack only after the handler returns")
			}
		})
	}
}

func TestConsumeClaim_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, messaging.AckOnReceipt, 0)
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(&fakeSession{ctx: ctx}, claim)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after cancellation")
	}
}

func TestHandleMessageWithRetry_Attempts(t *testing.T) {
	tests := []struct {
		name         string
		retries      string
		maxRetries   int
		failures     int
		wantAttempts int
		wantErr      bool
	}{
		{name: "first try", retries: "", maxRetries: 2, failures: 0, wantAttempts: 1},
		{name: "recovers on second try", retries: "0", maxRetries: 3, failures: 1, wantAttempts: 2},
		{name: "header counts previous attempts", retries: "1", maxRetries: 3, failures: 10, wantAttempts: 3, wantErr: true},
		{name: "garbage header restarts count", retries: "x", maxRetries: 1, failures: 10, wantAttempts: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				if attempts <= tt.failures {
					return errors.New("temporary")
				}
				return nil
			}, messaging.AckAfterHandle, tt.maxRetries)

			err := consumer.handleMessageWithRetry(context.Background(), createdMessage(1, tt.retries))
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if attempts != tt.wantAttempts {
				t.Fatalf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestHandleMessageWithRetry_DeadLetter(t *testing.T) {
	permanent := func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") }

	t.Run("exhausted message goes to dlq with context headers", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != "ordering-events.dlq" {
				t.Errorf("unexpected dlq topic %s", msg.Topic)
			}
			headers := map[string]string{}
			for _, h := range msg.Headers {
				headers[string(h.Key)] = string(h.Value)
			}
			if headers[HeaderOriginalTopic] != "ordering-events.ordercreatedevent" || headers[HeaderErrorMessage] != "permanent" {
				t.Errorf("unexpected dlq headers %v", headers)
			}
			return nil
		})

		consumer := testConsumer(permanent, messaging.AckAfterHandle, 2)
		consumer.dlqProducer = &Producer{producer: mockProducer, logger: log.WithField("component", "dlq-test")}
		consumer.dlqTopic = "ordering-events.dlq"

		if err := consumer.handleMessageWithRetry(context.Background(), createdMessage(1, "2")); err != nil {
			t.Fatalf("dead-lettered message must count as handled: %v", err)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("dlq failure keeps message unhandled", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		consumer := testConsumer(permanent, messaging.AckAfterHandle, 0)
		consumer.dlqProducer = &Producer{producer: mockProducer, logger: log.WithField("component", "dlq-test")}
		consumer.dlqTopic = "ordering-events.dlq"

		if err := consumer.handleMessageWithRetry(context.Background(), createdMessage(1, "")); err == nil {
			t.Fatal("expected dlq failure to surface")
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})
}
