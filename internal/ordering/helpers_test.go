package ordering_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "ordering-test")
}

func item(productID string, price string, qty int) domain.OrderItem {
	return domain.OrderItem{
		ProductID:   productID,
		ProductName: "Product " + productID,
		Price:       decimal.RequireFromString(price),
		Quantity:    qty,
	}
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(t domain.EventType) []domain.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.DomainEvent
	for _, event := range p.events {
		if event.Type() == t {
			out = append(out, event)
		}
	}
	return out
}

// conflictingRepo отдаёт конфликт версий на первых conflicts вызовах Save.
type conflictingRepo struct {
	domain.OrderRepository
	conflicts int
	saves     int
}

func (r *conflictingRepo) Save(order *domain.Order) error {
	r.saves++
	if r.saves <= r.conflicts {
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}

// failingTracker возвращает ошибку хранилища.
type failingTracker struct{}

func (failingTracker) Satisfy(context.Context, string, domain.Precondition) (bool, error) {
	return false, errors.New("redis down")
}

func (failingTracker) Forget(context.Context, string) error { return nil }

func requireStatus(t *testing.T, repo domain.OrderRepository, id string, want domain.OrderStatus) *domain.Order {
	t.Helper()
	order, err := repo.Get(id)
	require.NoError(t, err)
	require.Equal(t, want, order.Status())
	return order
}
