// Package cache holds hot in-flight orders in Redis so streaming sessions
// and status reads avoid hitting the repository on every event. The
// repository stays authoritative; cache misses fall through to it.
package cache

import (
	"context"

	"swap-router/pkg/types"
)

// ActiveOrders is the active-order cache contract.
type ActiveOrders interface {
	SetActiveOrder(ctx context.Context, order *types.Order) error
	GetActiveOrder(ctx context.Context, id string) (*types.Order, error)
	UpdateActiveOrder(ctx context.Context, order *types.Order) error
	IsHealthy(ctx context.Context) bool
	Close() error
}

// Noop satisfies ActiveOrders when no Redis is configured: every read
// misses, so callers always consult the repository.
type Noop struct{}

func (Noop) SetActiveOrder(ctx context.Context, order *types.Order) error { return nil }

func (Noop) GetActiveOrder(ctx context.Context, id string) (*types.Order, error) {
	return nil, types.NewError(types.KindNotFound, "not cached: "+id)
}

func (Noop) UpdateActiveOrder(ctx context.Context, order *types.Order) error { return nil }

func (Noop) IsHealthy(ctx context.Context) bool { return true }

func (Noop) Close() error { return nil }
