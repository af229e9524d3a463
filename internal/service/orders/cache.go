package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

const defaultCacheTTL = 30 * time.Second

// Cache — read-through кэш заказов поверх Redis.
// Кэш ускоряет только чтение; все записи идут мимо него в репозиторий,
// а изменение статуса инвалидирует ключ.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Entry
}

// NewCache создаёт кэш заказов с заданным TTL.
func NewCache(client *redis.Client, ttl time.Duration, logger *log.Entry) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = log.WithField("component", "order-cache")
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func cacheKey(orderID string) string {
	return "checkout:order:" + orderID
}

// Get возвращает заказ из кэша; второй результат — признак попадания.
// Любая ошибка Redis трактуется как промах: кэш никогда не ломает чтение.
func (c *Cache) Get(ctx context.Context, orderID string) (domain.Order, bool) {
	if c == nil || c.client == nil {
		return domain.Order{}, false
	}

	raw, err := c.client.Get(ctx, cacheKey(orderID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("order_id", orderID).Debug("cache read failed")
		}
		return domain.Order{}, false
	}

	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("cache entry corrupted, dropping")
		c.Invalidate(ctx, orderID)
		return domain.Order{}, false
	}
	return order, true
}

// Set сохраняет заказ в кэше best-effort.
func (c *Cache) Set(ctx context.Context, order domain.Order) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(order)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("marshal order for cache failed")
		return
	}
	if err := c.client.Set(ctx, cacheKey(order.ID), raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Debug("cache write failed")
	}
}

// Invalidate удаляет заказ из кэша.
func (c *Cache) Invalidate(ctx context.Context, orderID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(orderID)).Err(); err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Debug("cache invalidate failed")
	}
}
