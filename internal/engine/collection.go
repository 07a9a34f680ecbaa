package engine

import (
	"sync"
	"time"

	"swap-router/pkg/types"
)

// collection is the per-order record of an in-progress quote gathering
// round. Its mutex is the single-writer lock for that order: every quote
// arrival, the deadline timer, and cancellation all serialize on it, so one
// order's events are emitted in a total order.
type collection struct {
	mu sync.Mutex

	orderID   string
	strategy  types.RoutingStrategy
	expected  int // number of venues addressed
	received  int // arrivals including failures; never exceeds expected
	failures  int
	quotes    []types.Quote // valid quotes in arrival order
	startedAt time.Time
	timer     *time.Timer

	processed bool // post-collection pipeline has run (or the order failed)
}

// validCount reports the number of valid quotes so far. Caller holds mu.
func (c *collection) validCount() int { return len(c.quotes) }

// collectionTable keys pending collections by order id. A collection exists
// exactly while its order is in the quote-collection phase.
type collectionTable struct {
	mu sync.RWMutex
	m  map[string]*collection
}

func newCollectionTable() *collectionTable {
	return &collectionTable{m: make(map[string]*collection)}
}

// create registers a fresh collection. Returns nil if one already exists.
func (t *collectionTable) create(orderID string, strategy types.RoutingStrategy, expected int) *collection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.m[orderID]; exists {
		return nil
	}
	col := &collection{
		orderID:   orderID,
		strategy:  strategy,
		expected:  expected,
		startedAt: time.Now(),
	}
	t.m[orderID] = col
	return col
}

func (t *collectionTable) get(orderID string) *collection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[orderID]
}

// remove drops the collection and stops its deadline timer. Idempotent.
func (t *collectionTable) remove(orderID string) *collection {
	t.mu.Lock()
	col, ok := t.m[orderID]
	if ok {
		delete(t.m, orderID)
	}
	t.mu.Unlock()

	if ok && col.timer != nil {
		col.timer.Stop()
	}
	return col
}

func (t *collectionTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
