package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"swap-router/pkg/types"
)

// activeTTL bounds how long a stale entry can outlive its order. Terminal
// orders are rewritten with a short TTL instead of deleted so reconnecting
// sessions can still replay the terminal event cheaply.
const (
	activeTTL   = time.Hour
	terminalTTL = 5 * time.Minute
)

// Redis is the ActiveOrders implementation backed by go-redis.
type Redis struct {
	rdb *redis.Client
}

// NewRedis wraps an existing Redis client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func key(id string) string { return "order:active:" + id }

func (c *Redis) SetActiveOrder(ctx context.Context, order *types.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	ttl := activeTTL
	if order.Status.Terminal() {
		ttl = terminalTTL
	}
	if err := c.rdb.Set(ctx, key(order.ID), data, ttl).Err(); err != nil {
		return types.WrapError(types.KindVenueTransient, "cache set failed", err)
	}
	return nil
}

func (c *Redis) GetActiveOrder(ctx context.Context, id string) (*types.Order, error) {
	data, err := c.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewError(types.KindNotFound, "not cached: "+id)
	}
	if err != nil {
		return nil, types.WrapError(types.KindVenueTransient, "cache get failed", err)
	}
	var order types.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("unmarshal cached order: %w", err)
	}
	return &order, nil
}

func (c *Redis) UpdateActiveOrder(ctx context.Context, order *types.Order) error {
	return c.SetActiveOrder(ctx, order)
}

func (c *Redis) IsHealthy(ctx context.Context) bool {
	return c.rdb.Ping(ctx).Err() == nil
}

func (c *Redis) Close() error { return c.rdb.Close() }
