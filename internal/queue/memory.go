package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Queue. Jobs live in a buffered channel; delayed
// redeliveries are armed with time.AfterFunc. Used in tests and when no
// Redis address is configured.
type Memory struct {
	name  string
	ready chan *Job

	mu     sync.Mutex
	timers map[string]*time.Timer // jobID -> pending redelivery
	closed bool
}

// NewMemory creates an in-memory queue with the given buffer capacity.
func NewMemory(name string, capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{
		name:   name,
		ready:  make(chan *Job, capacity),
		timers: make(map[string]*time.Timer),
	}
}

func (m *Memory) Enqueue(ctx context.Context, job *Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case m.ready <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case job, ok := <-m.ready:
		if !ok {
			return nil, ErrClosed
		}
		job.Attempt++
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack removes the job. For the memory backend delivery already removed it,
// so this only clears any stray redelivery timer.
func (m *Memory) Ack(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[job.ID]; ok {
		t.Stop()
		delete(m.timers, job.ID)
	}
	return nil
}

// Nack schedules the job for redelivery after its exponential backoff.
func (m *Memory) Nack(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	delay := job.RetryDelay()
	m.timers[job.ID] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, job.ID)
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		select {
		case m.ready <- job:
		default:
			// Queue is saturated; retry shortly rather than dropping the job.
			m.mu.Lock()
			if !m.closed {
				m.timers[job.ID] = time.AfterFunc(10*time.Millisecond, func() { m.Nack(context.Background(), job) })
			}
			m.mu.Unlock()
		}
	})
	return nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	return len(m.ready), nil
}

// Close stops redelivery timers and rejects further work. Jobs already in
// the ready buffer remain consumable until drained.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	return nil
}
