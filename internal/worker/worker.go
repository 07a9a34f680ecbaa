// Package worker runs one consumer per venue. A worker drains its venue's
// job queue under a concurrency semaphore and a token-bucket rate limit,
// calls the venue client, and applies the retry policy: transient errors are
// nacked back to the queue until attempts run out, everything else is final.
//
// Quote outcomes are reported to the scheduler through the ResultSink so the
// scheduler can stamp progress counts onto the stream events. Swap stage
// events (building, submitted, confirmed) are published here, where the
// stages actually happen.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"swap-router/internal/config"
	"swap-router/internal/events"
	"swap-router/internal/queue"
	"swap-router/internal/store"
	"swap-router/internal/venue"
	"swap-router/pkg/types"
)

// ResultSink receives terminal job outcomes. Implemented by the scheduler.
type ResultSink interface {
	OnQuoteCompleted(orderID, venue string, quote types.Quote)
	OnQuoteFailed(orderID, venue string, err error)
	OnSwapCompleted(orderID string, attempts int, result *types.SwapResult)
	OnSwapFailed(orderID string, attempts int, err error)
}

// Worker consumes one venue's queue.
type Worker struct {
	venueName string
	cfg       config.WorkerConfig

	queue  queue.Queue
	client venue.Client
	sink   ResultSink
	bus    *events.Bus
	repo   store.Repository
	limit  *TokenBucket
	logger *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a worker for one venue.
func New(
	venueName string,
	cfg config.WorkerConfig,
	q queue.Queue,
	client venue.Client,
	sink ResultSink,
	bus *events.Bus,
	repo store.Repository,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		venueName: venueName,
		cfg:       cfg,
		queue:     q,
		client:    client,
		sink:      sink,
		bus:       bus,
		repo:      repo,
		limit:     NewTokenBucket(cfg.RateLimit, cfg.RatePeriod),
		logger:    logger.With("component", "worker", "venue", venueName),
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Run consumes jobs until ctx is cancelled or the queue closes. Blocking;
// call in its own goroutine. Use Drain to wait for in-flight jobs after.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "concurrency", w.cfg.Concurrency, "rate_limit", w.cfg.RateLimit)
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && err != queue.ErrClosed {
				w.logger.Error("dequeue failed", "error", err)
			}
			w.logger.Info("worker stopped")
			return
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			// Shutting down mid-delivery: put the job back for the next run.
			w.requeue(job)
			return
		}

		w.wg.Add(1)
		go func(job *queue.Job) {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.handle(ctx, job)
		}(job)
	}
}

// Drain waits for all in-flight jobs to settle.
func (w *Worker) Drain() { w.wg.Wait() }

func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	if err := w.limit.Wait(ctx); err != nil {
		w.requeue(job)
		return
	}

	switch job.Type {
	case queue.JobQuote:
		w.handleQuote(ctx, job)
	case queue.JobSwap:
		w.handleSwap(ctx, job)
	default:
		w.logger.Warn("unknown job type dropped", "job_id", job.ID, "type", string(job.Type))
		w.ack(job)
	}
}

func (w *Worker) handleQuote(ctx context.Context, job *queue.Job) {
	w.logger.Debug("fetching quote",
		"order_id", job.OrderID,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"pair", job.TokenIn+"/"+job.TokenOut,
	)

	quote, err := w.client.GetQuote(ctx, job.Venue, job.TokenIn, job.TokenOut, job.AmountIn)
	if err != nil {
		if types.Retryable(err) && !job.Exhausted() {
			w.logger.Warn("quote attempt failed, will retry",
				"order_id", job.OrderID,
				"attempt", job.Attempt,
				"max_attempts", job.MaxAttempts,
				"retry_in", job.RetryDelay(),
				"error", err,
			)
			w.nack(job)
			return
		}
		w.ack(job)
		w.sink.OnQuoteFailed(job.OrderID, job.Venue, err)
		return
	}

	w.ack(job)
	w.sink.OnQuoteCompleted(job.OrderID, job.Venue, *quote)
}

func (w *Worker) handleSwap(ctx context.Context, job *queue.Job) {
	msg := fmt.Sprintf("building swap transaction on %s", job.Venue)
	if job.Attempt > 1 {
		msg = fmt.Sprintf("retrying swap on %s (attempt %d of %d)", job.Venue, job.Attempt, job.MaxAttempts)
	}
	// The order enters building once; retries stay in that state.
	if job.Attempt == 1 {
		w.updateStatus(ctx, job.OrderID, types.StatusBuilding, nil)
	}
	w.bus.Publish(types.Event{
		OrderID: job.OrderID,
		Status:  types.EventBuilding,
		Venue:   job.Venue,
		Stage:   "building_transaction",
		Message: msg,
	})

	result, err := w.client.ExecuteSwap(ctx, job.Venue, job.TokenIn, job.TokenOut, job.AmountIn)
	if err != nil {
		if types.Retryable(err) && !job.Exhausted() {
			w.logger.Warn("swap attempt failed, will retry",
				"order_id", job.OrderID,
				"attempt", job.Attempt,
				"max_attempts", job.MaxAttempts,
				"retry_in", job.RetryDelay(),
				"error", err,
			)
			w.nack(job)
			return
		}
		w.ack(job)
		w.sink.OnSwapFailed(job.OrderID, job.Attempt, err)
		return
	}

	w.updateStatus(ctx, job.OrderID, types.StatusSubmitted, &store.StatusPatch{
		TxHash: store.String(result.TxHash),
	})
	w.bus.Publish(types.Event{
		OrderID: job.OrderID,
		Status:  types.EventSubmitted,
		Venue:   job.Venue,
		Stage:   "awaiting_confirmation",
		TxHash:  result.TxHash,
		Message: "transaction submitted, awaiting confirmation",
	})

	w.updateStatus(ctx, job.OrderID, types.StatusConfirmed, &store.StatusPatch{
		ExecutedPrice: store.Float(result.ExecutedPrice),
		AmountOut:     store.Float(result.AmountOut),
		Retries:       store.Int(job.Attempt - 1),
	})
	w.bus.Publish(types.Event{
		OrderID:       job.OrderID,
		Status:        types.EventConfirmed,
		Venue:         job.Venue,
		TxHash:        result.TxHash,
		AmountOut:     result.AmountOut,
		ExecutedPrice: result.ExecutedPrice,
	})

	w.ack(job)
	w.sink.OnSwapCompleted(job.OrderID, job.Attempt, result)
}

func (w *Worker) updateStatus(ctx context.Context, orderID string, status types.OrderStatus, patch *store.StatusPatch) {
	if err := w.repo.UpdateOrderStatus(ctx, orderID, status, patch); err != nil {
		w.logger.Error("status update failed", "order_id", orderID, "status", string(status), "error", err)
	}
}

func (w *Worker) ack(job *queue.Job) {
	if err := w.queue.Ack(context.Background(), job); err != nil && err != queue.ErrClosed {
		w.logger.Error("ack failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) nack(job *queue.Job) {
	if err := w.queue.Nack(context.Background(), job); err != nil && err != queue.ErrClosed {
		w.logger.Error("nack failed", "job_id", job.ID, "error", err)
	}
}

// requeue returns an undelivered job to the queue without burning an
// attempt during shutdown.
func (w *Worker) requeue(job *queue.Job) {
	job.Attempt--
	if err := w.queue.Nack(context.Background(), job); err != nil && err != queue.ErrClosed {
		w.logger.Warn("failed to requeue job on shutdown", "job_id", job.ID, "error", err)
	}
}
