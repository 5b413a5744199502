package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OutOfStockProductID: товар, который всегда считается отсутствующим на складе.
const OutOfStockProductID = "out-of-stock-product"

// MaxOrderTotal: верхняя граница суммы одного заказа.
var MaxOrderTotal = decimal.NewFromInt(10000)

// OrderItem представляет одну позицию заказа. Значение неизменяемо:
// агрегат хранит копии и заменяет список целиком.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID          string
	ProductID   string
	ProductName string
	// Price: цена за единицу.
	Price    decimal.Decimal
	Quantity int
}

// Subtotal возвращает price × quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// validateItems проверяет каждую позицию по очереди: форма, затем наличие на складе.
// Лимит суммы проверяется после всех позиций. Возвращает рассчитанную сумму.
func validateItems(items []OrderItem) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, ErrItemsRequired
	}

	total := decimal.Zero
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return decimal.Zero, ErrProductIDRequired
		}
		if strings.TrimSpace(item.ProductName) == "" {
			return decimal.Zero, ErrProductNameRequired
		}
		if item.Price.IsNegative() {
			return decimal.Zero, ErrItemPriceInvalid
		}
		if item.Quantity <= 0 {
			return decimal.Zero, ErrItemQtyInvalid
		}
		if item.ProductID == OutOfStockProductID {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrProductOutOfStock, item.ProductName)
		}
		total = total.Add(item.Subtotal())
	}

	if total.GreaterThan(MaxOrderTotal) {
		return decimal.Zero, ErrOrderTotalExceeded
	}
	return total, nil
}
