package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// PreconditionTracker хранит собранные исходы участников в памяти процесса.
// Подходит для одного экземпляра ordering; для нескольких нужен redis.
type PreconditionTracker struct {
	mu       sync.Mutex
	required []domain.Precondition
	seen     map[string]map[domain.Precondition]struct{}
}

// NewPreconditionTracker создаёт трекер с набором domain.RequiredPreconditions.
func NewPreconditionTracker() *PreconditionTracker {
	return &PreconditionTracker{
		required: domain.RequiredPreconditions,
		seen:     make(map[string]map[domain.Precondition]struct{}),
	}
}

// Satisfy отмечает исход. Повторная отметка идемпотентна.
func (t *PreconditionTracker) Satisfy(_ context.Context, orderID string, p domain.Precondition) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.seen[orderID]
	if !ok {
		set = make(map[domain.Precondition]struct{}, len(t.required))
		t.seen[orderID] = set
	}
	set[p] = struct{}{}

	for _, required := range t.required {
		if _, ok := set[required]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Forget удаляет состояние заказа.
func (t *PreconditionTracker) Forget(_ context.Context, orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, orderID)
	return nil
}

var _ domain.PreconditionTracker = (*PreconditionTracker)(nil)
