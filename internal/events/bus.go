// Package events provides the in-process event stream for order lifecycle
// updates. Workers and the scheduler publish; streaming sessions subscribe to
// a single order's feed. The bus is constructor-injected everywhere, so there
// is no ambient global emitter.
package events

import (
	"sync"
	"time"

	"swap-router/pkg/types"
)

// subscriber is one per-order listener. Delivery preserves publish order; a
// subscriber that cannot drain its buffer is dropped rather than losing
// individual events out from under it.
type subscriber struct {
	orderID string // empty for firehose subscribers
	ch      chan types.Event
}

// Bus fans events out to per-order subscribers. Publish is serialized so
// every subscriber observes one order's events in emission order.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish stamps the event (if unstamped) and delivers it to every matching
// subscriber. Subscribers whose buffers are full are closed and removed.
func (b *Bus) Publish(evt types.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for sub := range b.subs {
		if sub.orderID != "" && sub.orderID != evt.OrderID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Subscriber can't keep up. Drop the subscriber, never the events.
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribe attaches a listener to one order's event feed. The returned
// cancel function is idempotent and safe to call after the bus closed the
// channel for slowness.
func (b *Bus) Subscribe(orderID string, buffer int) (<-chan types.Event, func()) {
	return b.subscribe(orderID, buffer)
}

// SubscribeAll attaches a firehose listener that sees every order's events.
func (b *Bus) SubscribeAll(buffer int) (<-chan types.Event, func()) {
	return b.subscribe("", buffer)
}

func (b *Bus) subscribe(orderID string, buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{orderID: orderID, ch: make(chan types.Event, buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		closed := make(chan types.Event)
		close(closed)
		return closed, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Close drops all subscribers. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
