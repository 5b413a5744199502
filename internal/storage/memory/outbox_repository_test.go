package memory

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	repo := NewOutboxRepository()

	saved, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     string(domain.EventTypeOrderCreated),
		Payload:       []byte(`{"OrderId":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}
	if saved.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != saved.ID {
		t.Fatalf("unexpected pending %+v", pending)
	}

	if err := repo.MarkSent(saved.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	pending, _ = repo.PullPending(10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending messages, got %d", len(pending))
	}
}

func TestOutboxRepository_FIFOAndLimit(t *testing.T) {
	repo := NewOutboxRepository()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := repo.Enqueue(domain.OutboxMessage{ID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	pending, _ := repo.PullPending(2)
	if len(pending) != 2 || pending[0].ID != "c" || pending[1].ID != "a" {
		t.Fatalf("expected insertion order, got %+v", pending)
	}
}

func TestOutboxRepository_StatsAndFailed(t *testing.T) {
	repo := NewOutboxRepository()
	first, _ := repo.Enqueue(domain.OutboxMessage{ID: "m-1"})
	_, _ = repo.Enqueue(domain.OutboxMessage{ID: "m-2"})

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := repo.MarkFailed(first.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	stats, _ = repo.Stats()
	if stats.PendingCount != 1 {
		t.Fatalf("failed message must leave backlog, got %+v", stats)
	}

	if err := repo.MarkSent("unknown"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestOutboxRepository_PurgeSent(t *testing.T) {
	repo := NewOutboxRepository()
	for _, id := range []string{"m-1", "m-2", "m-3"} {
		if _, err := repo.Enqueue(domain.OutboxMessage{ID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	_ = repo.MarkSent("m-1")
	_ = repo.MarkSent("m-2")

	deleted, err := repo.PurgeSent(time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("fresh messages must survive, deleted %d", deleted)
	}

	deleted, err = repo.PurgeSent(time.Now().UTC().Add(time.Second), 1)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected limit to apply, deleted %d", deleted)
	}

	deleted, _ = repo.PurgeSent(time.Now().UTC().Add(time.Second), 10)
	if deleted != 1 {
		t.Fatalf("expected remaining sent message purged, deleted %d", deleted)
	}

	pending, _ := repo.PullPending(10)
	if len(pending) != 1 || pending[0].ID != "m-3" {
		t.Fatalf("pending message must stay, got %+v", pending)
	}
}
