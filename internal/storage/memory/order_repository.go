package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// orderRepositoryInMemory хранит снимки заказов, а не указатели на агрегаты,
// поэтому изменения у вызывающего не видны до Save.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.OrderSnapshot
	outbox domain.OutboxRepository
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{items: make(map[string]domain.OrderSnapshot)}
}

// NewTransactionalOrderRepository возвращает репозиторий, который пишет outbox-сообщения
// под той же блокировкой, что и заказ.
func NewTransactionalOrderRepository(outbox domain.OutboxRepository) domain.TransactionalOrderRepository {
	return &orderRepositoryInMemory{
		items:  make(map[string]domain.OrderSnapshot),
		outbox: outbox,
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(order)
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot, ok := r.items[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return domain.RestoreOrder(snapshot), nil
}

// List возвращает последние заказы, новые первыми.
func (r *orderRepositoryInMemory) List(limit int) ([]*domain.Order, error) {
	return r.filter(limit, func(domain.OrderSnapshot) bool { return true }), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(customerID string, limit int) ([]*domain.Order, error) {
	return r.filter(limit, func(s domain.OrderSnapshot) bool { return s.CustomerID == customerID }), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(order)
}

// CreateWithOutbox сохраняет заказ и его сообщения одной операцией.
func (r *orderRepositoryInMemory) CreateWithOutbox(order *domain.Order, msgs []domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.createLocked(order); err != nil {
		return err
	}
	if err := r.enqueueLocked(msgs); err != nil {
		delete(r.items, order.ID())
		return err
	}
	return nil
}

// SaveWithOutbox сохраняет заказ и его сообщения одной операцией.
func (r *orderRepositoryInMemory) SaveWithOutbox(order *domain.Order, msgs []domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.items[order.ID()]
	if err := r.saveLocked(order); err != nil {
		return err
	}
	if err := r.enqueueLocked(msgs); err != nil {
		r.items[order.ID()] = previous
		return err
	}
	return nil
}

func (r *orderRepositoryInMemory) createLocked(order *domain.Order) error {
	if _, exists := r.items[order.ID()]; exists {
		return domain.ErrOrderExists
	}
	r.items[order.ID()] = order.Snapshot()
	return nil
}

func (r *orderRepositoryInMemory) saveLocked(order *domain.Order) error {
	current, ok := r.items[order.ID()]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version() {
		return domain.ErrOrderVersionConflict
	}
	snapshot := order.Snapshot()
	snapshot.Version++
	r.items[order.ID()] = snapshot
	return nil
}

func (r *orderRepositoryInMemory) enqueueLocked(msgs []domain.OutboxMessage) error {
	if r.outbox == nil {
		return nil
	}
	for _, msg := range msgs {
		if _, err := r.outbox.Enqueue(msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *orderRepositoryInMemory) filter(limit int, keep func(domain.OrderSnapshot) bool) []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]domain.OrderSnapshot, 0, len(r.items))
	for _, snapshot := range r.items {
		if keep(snapshot) {
			snapshots = append(snapshots, snapshot)
		}
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
		}
		return snapshots[i].ID > snapshots[j].ID
	})

	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}

	result := make([]*domain.Order, 0, len(snapshots))
	for _, snapshot := range snapshots {
		result = append(result, domain.RestoreOrder(snapshot))
	}
	return result
}

var _ domain.TransactionalOrderRepository = (*orderRepositoryInMemory)(nil)
