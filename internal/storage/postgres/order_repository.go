package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const selectOrderColumns = `
	SELECT id, customer_id, status, total_amount, version, created_at, updated_at
	FROM orders`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию репозитория заказов,
// включая запись outbox в одной транзакции с заказом.
func NewOrderRepository(store *Store) domain.TransactionalOrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order *domain.Order) error {
	return r.CreateWithOutbox(order, nil)
}

func (r *orderRepository) CreateWithOutbox(order *domain.Order, msgs []domain.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	snapshot := order.Snapshot()
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, status, total_amount, version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			snapshot.ID, snapshot.CustomerID, string(snapshot.Status), snapshot.TotalAmount,
			snapshot.Version, snapshot.CreatedAt, snapshot.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderExists
			}
			return fmt.Errorf("insert order: %w", err)
		}
		if err := insertItems(ctx, tx, snapshot); err != nil {
			return err
		}
		return enqueueOutbox(ctx, tx, msgs)
	})
}

func (r *orderRepository) Get(id string) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	snapshot, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	if snapshot.Items, err = r.loadItems(ctx, snapshot.ID); err != nil {
		return nil, err
	}
	return domain.RestoreOrder(snapshot), nil
}

func (r *orderRepository) List(limit int) ([]*domain.Order, error) {
	return r.list(selectOrderColumns+` ORDER BY created_at DESC, id DESC`, limit)
}

func (r *orderRepository) ListByCustomer(customerID string, limit int) ([]*domain.Order, error) {
	return r.list(selectOrderColumns+` WHERE customer_id = $1 ORDER BY created_at DESC, id DESC`, limit, customerID)
}

func (r *orderRepository) Save(order *domain.Order) error {
	return r.SaveWithOutbox(order, nil)
}

// SaveWithOutbox обновляет заказ при совпадении версии, заменяет позиции и пишет outbox.
func (r *orderRepository) SaveWithOutbox(order *domain.Order, msgs []domain.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	snapshot := order.Snapshot()
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    total_amount = $2,
			    version = version + 1,
			    updated_at = $3
			WHERE id = $4
			  AND version = $5
		`,
			string(snapshot.Status), snapshot.TotalAmount, snapshot.UpdatedAt, snapshot.ID, snapshot.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return r.missingOrConflict(ctx, tx, snapshot.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, snapshot.ID); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		if err := insertItems(ctx, tx, snapshot); err != nil {
			return err
		}
		return enqueueOutbox(ctx, tx, msgs)
	})
}

func (r *orderRepository) list(query string, limit int, args ...any) ([]*domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	snapshots := make([]domain.OrderSnapshot, 0)
	for rows.Next() {
		snapshot, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	orders := make([]*domain.Order, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if snapshot.Items, err = r.loadItems(ctx, snapshot.ID); err != nil {
			return nil, err
		}
		orders = append(orders, domain.RestoreOrder(snapshot))
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, price, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) missingOrConflict(ctx context.Context, tx *sql.Tx, orderID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	switch {
	case err == nil:
		return domain.ErrOrderVersionConflict
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrOrderNotFound
	default:
		return fmt.Errorf("check order exists: %w", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.OrderSnapshot, error) {
	var (
		snapshot domain.OrderSnapshot
		status   string
	)
	if err := row.Scan(
		&snapshot.ID, &snapshot.CustomerID, &status, &snapshot.TotalAmount,
		&snapshot.Version, &snapshot.CreatedAt, &snapshot.UpdatedAt,
	); err != nil {
		return domain.OrderSnapshot{}, err
	}
	snapshot.Status = domain.OrderStatus(status)
	snapshot.CreatedAt = snapshot.CreatedAt.UTC()
	snapshot.UpdatedAt = snapshot.UpdatedAt.UTC()
	return snapshot, nil
}

func insertItems(ctx context.Context, tx execer, snapshot domain.OrderSnapshot) error {
	for position, item := range snapshot.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, product_name, price, quantity)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID, snapshot.ID, position, item.ProductID, item.ProductName, item.Price, item.Quantity,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

var _ domain.TransactionalOrderRepository = (*orderRepository)(nil)
