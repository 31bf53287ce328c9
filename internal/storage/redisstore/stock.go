package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
)

// DefaultStockPrefix: префикс ключей остатков: stock:<sku>.
const DefaultStockPrefix = "stock:"

type stockClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// StockChecker считает позицию доступной, если остаток SKU покрывает количество.
// Отсутствующий ключ означает нулевой остаток.
type StockChecker struct {
	client stockClient
	prefix string
}

// NewStockChecker создаёт проверку доступности по остаткам в Redis.
func NewStockChecker(client stockClient, prefix string) *StockChecker {
	if prefix == "" {
		prefix = DefaultStockPrefix
	}
	return &StockChecker{client: client, prefix: prefix}
}

// IsAvailable реализует проверку доступности одной позиции.
func (c *StockChecker) IsAvailable(ctx context.Context, item events.Item) (bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+item.SKU).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("read stock for %s: %w", item.SKU, err)
	}

	level, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse stock for %s: %w", item.SKU, err)
	}
	return level >= int64(item.Quantity), nil
}
