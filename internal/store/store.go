// Package store persists orders behind a narrow repository contract. The
// in-memory implementation backs tests and single-node runs; the Postgres
// implementation (sqlx) is authoritative in deployments. The engine treats
// transient store errors as retryable and never caches through this layer
// itself; the active-order cache sits in front of it.
package store

import (
	"context"

	"swap-router/pkg/types"
)

// StatusPatch carries the optional outcome fields written alongside a status
// transition. Nil pointers leave the stored value untouched.
type StatusPatch struct {
	SelectedVenue *string
	ExecutedPrice *float64
	AmountOut     *float64
	TxHash        *string
	ErrorMessage  *string
	Retries       *int
}

// Repository is the order persistence contract.
//
// UpdateOrderStatus enforces the state machine: illegal transitions return a
// validation error, re-applying a terminal status is a no-op.
type Repository interface {
	CreateOrder(ctx context.Context, order *types.Order) error
	GetOrderByID(ctx context.Context, id string) (*types.Order, error)
	UpdateOrder(ctx context.Context, order *types.Order) error
	UpdateOrderStatus(ctx context.Context, id string, status types.OrderStatus, patch *StatusPatch) error
	GetOrders(ctx context.Context, limit, offset int) ([]types.Order, error)
	Healthy(ctx context.Context) bool
	Close() error
}

// apply copies patch fields onto the order.
func (p *StatusPatch) apply(o *types.Order) {
	if p == nil {
		return
	}
	if p.SelectedVenue != nil {
		o.SelectedVenue = *p.SelectedVenue
	}
	if p.ExecutedPrice != nil {
		o.ExecutedPrice = *p.ExecutedPrice
	}
	if p.AmountOut != nil {
		o.AmountOut = *p.AmountOut
	}
	if p.TxHash != nil {
		o.TxHash = *p.TxHash
	}
	if p.ErrorMessage != nil {
		o.ErrorMessage = *p.ErrorMessage
	}
	if p.Retries != nil {
		o.Retries = *p.Retries
	}
}

// String returns a pointer to s, for building patches inline.
func String(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i.
func Int(i int) *int { return &i }
