// Package queue defines the per-venue job queue contract used by the
// scheduler (producer) and the venue workers (consumers).
//
// Each venue owns one independent FIFO queue with at-least-once delivery,
// per-job attempt tracking, exponential retry backoff, and removal on
// completion. Two backends are provided: an in-memory queue for tests and
// single-node deployments, and a Redis-backed queue for durability.
package queue

import (
	"context"
	"errors"
	"time"

	"swap-router/pkg/types"
)

// JobType distinguishes the two kinds of work a venue worker performs.
type JobType string

const (
	JobQuote JobType = "quote"
	JobSwap  JobType = "swap"
)

// Job is one unit of venue work. Attempt starts at 0 and is incremented by
// the queue on every delivery, so handlers observe 1-based attempt numbers.
type Job struct {
	ID          string                `json:"id"`
	Type        JobType               `json:"type"`
	Venue       string                `json:"venue"`
	OrderID     string                `json:"orderId"`
	TokenIn     string                `json:"tokenIn"`
	TokenOut    string                `json:"tokenOut"`
	AmountIn    float64               `json:"amountIn"`
	Strategy    types.RoutingStrategy `json:"strategy,omitempty"`
	Attempt     int                   `json:"attempt"`
	MaxAttempts int                   `json:"maxAttempts"`
	Backoff     time.Duration         `json:"backoff"`
	EnqueuedAt  time.Time             `json:"enqueuedAt"`
}

// RetryDelay returns the exponential backoff before the next delivery:
// backoff * 2^(attempt-1).
func (j *Job) RetryDelay() time.Duration {
	d := j.Backoff
	for i := 1; i < j.Attempt; i++ {
		d *= 2
	}
	return d
}

// Exhausted reports whether the job has no attempts left.
func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("queue: closed")

// Queue is a single venue's FIFO job stream.
//
// Dequeue blocks until a job is ready or ctx is done. Every dequeued job must
// be settled with exactly one Ack (success or terminal failure, removes the
// job) or Nack (schedules redelivery after the job's retry backoff).
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	Nack(ctx context.Context, job *Job) error
	Len(ctx context.Context) (int, error)
	Close() error
}
