package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const promoteInterval = 100 * time.Millisecond

// Redis is a durable Queue backed by two Redis keys per venue: a ready list
// (swapq:<venue>:ready) consumed with BRPOP, and a delayed sorted set
// (swapq:<venue>:delayed) scored by redelivery time. A promotion goroutine
// moves due jobs from the delayed set to the ready list.
type Redis struct {
	name   string
	rdb    *redis.Client
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis creates a Redis-backed queue and starts its promotion loop.
func NewRedis(name string, rdb *redis.Client, logger *slog.Logger) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Redis{
		name:   name,
		rdb:    rdb,
		logger: logger.With("component", "queue", "venue", name),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.promoteLoop(ctx)
	return q
}

func (q *Redis) readyKey() string   { return "swapq:" + q.name + ":ready" }
func (q *Redis) delayedKey() string { return "swapq:" + q.name + ":delayed" }

func (q *Redis) Enqueue(ctx context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.readyKey(), data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (*Job, error) {
	for {
		// Short BRPOP timeout so ctx cancellation is honored promptly.
		res, err := q.rdb.BRPop(ctx, time.Second, q.readyKey()).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue %s: %w", q.name, err)
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Error("dropping undecodable job", "error", err)
			continue
		}
		job.Attempt++
		return &job, nil
	}
}

// Ack removes the job. BRPOP already popped it from the ready list, so only
// a stray delayed entry needs clearing.
func (q *Redis) Ack(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.rdb.ZRem(ctx, q.delayedKey(), data).Err()
}

// Nack parks the job in the delayed set until its backoff elapses.
func (q *Redis) Nack(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	readyAt := time.Now().Add(job.RetryDelay())
	return q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	}).Err()
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (q *Redis) Close() error {
	q.cancel()
	<-q.done
	return nil
}

// promoteLoop moves due jobs from the delayed set to the ready list.
func (q *Redis) promoteLoop(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx)
		}
	}
}

func (q *Redis) promoteDue(ctx context.Context) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}

	for _, member := range members {
		// ZRem first so two promoters never deliver the same job twice.
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.readyKey(), member).Err(); err != nil {
			q.logger.Error("failed to promote delayed job", "error", err)
		}
	}
}
