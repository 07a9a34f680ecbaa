package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"swap-router/pkg/types"
)

// Memory is an in-process Repository. All operations copy orders in and out
// so callers never share mutable state with the store.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]*types.Order
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{orders: make(map[string]*types.Order)}
}

func (m *Memory) CreateOrder(ctx context.Context, order *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.ID]; exists {
		return types.NewError(types.KindValidation, "order already exists: "+order.ID)
	}
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *Memory) GetOrderByID(ctx context.Context, id string) (*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "order not found: "+id)
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) UpdateOrder(ctx context.Context, order *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return types.NewError(types.KindNotFound, "order not found: "+order.ID)
	}
	order.UpdatedAt = time.Now()
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, id string, status types.OrderStatus, patch *StatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return types.NewError(types.KindNotFound, "order not found: "+id)
	}
	if o.Status.Terminal() {
		// Terminal statuses are idempotent sinks.
		if o.Status == status {
			return nil
		}
		return types.NewError(types.KindValidation, "order "+id+" is already terminal")
	}
	if !o.Status.CanTransition(status) {
		return types.NewError(types.KindValidation,
			"illegal transition "+string(o.Status)+" -> "+string(status)+" for order "+id)
	}
	o.Status = status
	patch.apply(o)
	o.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) GetOrders(ctx context.Context, limit, offset int) ([]types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]types.Order, 0, len(m.orders))
	for _, o := range m.orders {
		all = append(all, *o)
	}
	// Newest first, id as a stable tiebreak for orders created in the same instant.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return []types.Order{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) Healthy(ctx context.Context) bool { return true }

func (m *Memory) Close() error { return nil }
