// Package redis хранит состояние политики all-required в Redis,
// чтобы несколько экземпляров ordering видели общие исходы участников.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	keyPrefix  = "ordering:preconditions:"
	defaultTTL = 24 * time.Hour
)

// PreconditionTracker хранит исходы заказа в SET под ключом ordering:preconditions:<id>.
type PreconditionTracker struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewPreconditionTracker создаёт трекер. ttl<=0 заменяется на сутки:
// ключи заказов, по которым исход так и не пришёл, не живут вечно.
func NewPreconditionTracker(client *goredis.Client, ttl time.Duration) *PreconditionTracker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PreconditionTracker{client: client, ttl: ttl}
}

// Dial открывает клиент по адресу и проверяет доступность сервера.
func Dial(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Satisfy добавляет исход в набор и атомарно читает его размер.
func (t *PreconditionTracker) Satisfy(ctx context.Context, orderID string, p domain.Precondition) (bool, error) {
	key := keyPrefix + orderID

	var card *goredis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, key, string(p))
		pipe.Expire(ctx, key, t.ttl)
		card = pipe.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record precondition %s for %s: %w", p, orderID, err)
	}
	return card.Val() >= int64(len(domain.RequiredPreconditions)), nil
}

// Forget удаляет набор заказа.
func (t *PreconditionTracker) Forget(ctx context.Context, orderID string) error {
	if err := t.client.Del(ctx, keyPrefix+orderID).Err(); err != nil {
		return fmt.Errorf("forget preconditions for %s: %w", orderID, err)
	}
	return nil
}

var _ domain.PreconditionTracker = (*PreconditionTracker)(nil)
