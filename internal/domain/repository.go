package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists, если запись с таким ID уже существует.
	Create(order *Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (*Order, error)
	// List возвращает все заказы, новые первыми. limit <= 0: без ограничения.
	List(limit int) ([]*Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]*Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// сохранённая версия должна совпадать с order.Version(), иначе ErrOrderVersionConflict.
	Save(order *Order) error
}

// TransactionalOrderRepository сохраняет агрегат и его outbox-сообщения атомарно.
type TransactionalOrderRepository interface {
	OrderRepository
	CreateWithOutbox(order *Order, msgs []OutboxMessage) error
	SaveWithOutbox(order *Order, msgs []OutboxMessage) error
}
