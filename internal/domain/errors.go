package domain

import (
	"errors"
	"fmt"
)

// Классы ошибок. Конкретные ошибки оборачивают один из классов через %w,
// поэтому errors.Is(err, ErrInvalidArgument) работает для любой из них.
var (
	// ErrInvalidArgument: нарушена форма входных данных.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPreconditionFailed: бизнес-правило отклонило запрос (нет стока, превышен лимит).
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInvalidState: переход недопустим из текущего статуса.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound: агрегат не найден.
	ErrNotFound = errors.New("not found")
	// ErrTransportUnavailable: шина сообщений недоступна.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrVersionConflict: агрегат изменён параллельно (optimistic locking).
	ErrVersionConflict = errors.New("version conflict")
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = fmt.Errorf("%w: customer_id is required", ErrInvalidArgument)
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrInvalidArgument)
	// Ошибка пустого идентификатора товара.
	ErrProductIDRequired = fmt.Errorf("%w: product_id is required", ErrInvalidArgument)
	// Ошибка пустого названия товара.
	ErrProductNameRequired = fmt.Errorf("%w: product_name is required", ErrInvalidArgument)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item price must be non-negative", ErrInvalidArgument)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be greater than zero", ErrInvalidArgument)
	// Ошибка пустой причины отмены.
	ErrCancelReasonRequired = fmt.Errorf("%w: cancel reason is required", ErrInvalidArgument)

	// ErrProductOutOfStock: товар помечен как отсутствующий на складе.
	ErrProductOutOfStock = fmt.Errorf("%w: product is out of stock", ErrPreconditionFailed)
	// ErrOrderTotalExceeded: сумма заказа превышает MaxOrderTotal.
	ErrOrderTotalExceeded = fmt.Errorf("%w: order total cannot exceed %s", ErrPreconditionFailed, MaxOrderTotal.StringFixed(2))

	// ErrOrderNotPending: принять или изменить можно только заказ в статусе Pending.
	ErrOrderNotPending = fmt.Errorf("%w: order is not pending", ErrInvalidState)
	// ErrOrderNotAccepted: завершить можно только принятый заказ.
	ErrOrderNotAccepted = fmt.Errorf("%w: only accepted orders can be completed", ErrInvalidState)
	// ErrOrderFinalized: заказ уже завершён или отменён.
	ErrOrderFinalized = fmt.Errorf("%w: order is already completed or cancelled", ErrInvalidState)

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = fmt.Errorf("order %w", ErrVersionConflict)
	// ErrOrderExists: заказ с таким ID уже создан.
	ErrOrderExists = fmt.Errorf("%w: order already exists", ErrInvalidArgument)

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrUnknownEventType: тип события не зарегистрирован в таблице маршрутизации.
	ErrUnknownEventType = errors.New("unknown event type")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsInvalidState проверяет, что переход отклонён текущим статусом.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsNotFound проверяет, что агрегат отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation сообщает, что ошибка вызвана входными данными или бизнес-правилом.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrPreconditionFailed)
}
