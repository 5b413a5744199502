package messaging

import "context"

// Delivery: сообщение, полученное из очереди.
type Delivery struct {
	MessageID   string
	RoutingKey  string
	Body        []byte
	Redelivered bool
	// Attempt: номер попытки обработки, начиная с 1.
	Attempt int
}

// Handler обрабатывает доставку. Ошибка учитывается только в режиме AckAfterHandle.
type Handler func(ctx context.Context, d Delivery) error

// Binding описывает очередь подписчика и её привязки к exchange.
type Binding struct {
	// Queue: логическое имя очереди (тип участника).
	Queue       string
	RoutingKeys []string
	// Shared включает конкурирующих потребителей: все экземпляры читают одну именованную очередь.
	// Иначе каждый экземпляр получает собственную эксклюзивную очередь (fan-out на экземпляр).
	Shared bool
}

// Transport: адаптер шины сообщений с семантикой topic exchange.
type Transport interface {
	// Publish отправляет тело в exchange с указанным ключом.
	Publish(ctx context.Context, routingKey string, body []byte) error
	// Subscribe объявляет очередь, привязывает её и запускает фоновый цикл потребления.
	// Возвращается после установки привязок; цикл завершается по ctx.
	Subscribe(ctx context.Context, binding Binding, handler Handler) error
	Close() error
}

// QueueMode выбирает топологию очередей участника.
type QueueMode string

const (
	QueueModeExclusive QueueMode = "exclusive"
	QueueModeShared    QueueMode = "shared"
)

// AckMode определяет момент подтверждения доставки.
type AckMode string

const (
	// AckOnReceipt: подтверждение при получении; ошибка обработчика теряет сообщение.
	AckOnReceipt AckMode = "on-receipt"
	// AckAfterHandle: подтверждение после успешной обработки, ограниченные повторы и dead-letter.
	AckAfterHandle AckMode = "after-handle"
)

// DeadLetterExchange возвращает имя exchange для сообщений, исчерпавших повторы.
func DeadLetterExchange(exchange string) string {
	return exchange + ".dlx"
}
