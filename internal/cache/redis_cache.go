package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(addr string, password string, db int) *RedisStockCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockCache) Close() error {
	return c.client.Close()
}

func stockKey(productID string) string {
	return "stock-total:" + productID
}

func (c *RedisStockCache) GetTotal(ctx context.Context, productID string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, stockKey(productID)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	total, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return total, true, nil
}

func (c *RedisStockCache) SetTotal(ctx context.Context, productID string, total decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, stockKey(productID), total.String(), ttl).Err()
}

func (c *RedisStockCache) Invalidate(ctx context.Context, productID string) error {
	return c.client.Del(ctx, stockKey(productID)).Err()
}
