package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// timelineRepositoryInMemory хранит историю заказов в памяти.
type timelineRepositoryInMemory struct {
	mu       sync.RWMutex
	byOrder  map[string][]domain.TimelineEvent
	recorded map[string]struct{}
}

// NewTimelineRepository создаёт историю заказов в памяти.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{
		byOrder:  make(map[string][]domain.TimelineEvent),
		recorded: make(map[string]struct{}),
	}
}

// Append вставляет запись по времени события; повтор того же EventID игнорируется.
func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.EventID != "" {
		if _, seen := r.recorded[event.EventID]; seen {
			return nil
		}
		r.recorded[event.EventID] = struct{}{}
	}

	history := r.byOrder[event.OrderID]
	at := sort.Search(len(history), func(i int) bool {
		return history[i].Occurred.After(event.Occurred)
	})
	history = append(history, domain.TimelineEvent{})
	copy(history[at+1:], history[at:])
	history[at] = event
	r.byOrder[event.OrderID] = history
	return nil
}

func (r *timelineRepositoryInMemory) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent{}, r.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
