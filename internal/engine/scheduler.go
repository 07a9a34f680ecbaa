// Package engine contains the order scheduler: the fan-out → collect →
// route → dispatch pipeline at the heart of the execution engine.
//
// For every accepted order the scheduler enqueues one quote job per healthy
// venue, tracks arrivals in a pending collection, enforces the collection
// deadline, invokes the routing hub once the completion rule is met, and
// dispatches the swap to the selected venue's queue. All per-order work is
// serialized on the collection's lock, so each order has a single logical
// writer even though venue results arrive from many worker goroutines.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"swap-router/internal/cache"
	"swap-router/internal/config"
	"swap-router/internal/events"
	"swap-router/internal/queue"
	"swap-router/internal/routing"
	"swap-router/internal/stats"
	"swap-router/internal/store"
	"swap-router/internal/venue"
	"swap-router/pkg/types"
)

// Scheduler owns quote collection and swap dispatch for all orders.
type Scheduler struct {
	cfg       config.SchedulerConfig
	workerCfg config.WorkerConfig
	venues    []string

	queues  map[string]queue.Queue
	hub     *routing.Hub
	bus     *events.Bus
	repo    store.Repository
	cache   cache.ActiveOrders
	stats   *stats.Registry
	monitor *venue.Monitor
	logger  *slog.Logger

	cols *collectionTable

	// dispatched guards the one-swap-per-order invariant across auto and
	// manual execution paths.
	dispatchedMu sync.Mutex
	dispatched   map[string]bool

	closed atomic.Bool
}

// NewScheduler wires the scheduler. The queues map must contain one queue
// per configured venue.
func NewScheduler(
	cfg config.SchedulerConfig,
	workerCfg config.WorkerConfig,
	venues []string,
	queues map[string]queue.Queue,
	hub *routing.Hub,
	bus *events.Bus,
	repo store.Repository,
	activeOrders cache.ActiveOrders,
	registry *stats.Registry,
	monitor *venue.Monitor,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		workerCfg:  workerCfg,
		venues:     venues,
		queues:     queues,
		hub:        hub,
		bus:        bus,
		repo:       repo,
		cache:      activeOrders,
		stats:      registry,
		monitor:    monitor,
		logger:     logger.With("component", "scheduler"),
		cols:       newCollectionTable(),
		dispatched: make(map[string]bool),
	}
}

// StartQuoteCollection begins the pipeline for an order: creates the pending
// collection, emits the pending event, and enqueues one quote job per
// healthy venue. Returns the launched job ids.
func (s *Scheduler) StartQuoteCollection(ctx context.Context, order *types.Order) ([]string, error) {
	if s.closed.Load() {
		return nil, types.NewError(types.KindInternal, "scheduler is shutting down")
	}

	healthy := s.monitor.HealthyVenues(s.venues)
	if len(healthy) == 0 {
		s.failOrder(ctx, order.ID, types.KindNoQuotes, "no healthy venues available")
		return nil, types.NewError(types.KindNoQuotes, "no healthy venues available")
	}

	col := s.cols.create(order.ID, order.Strategy, len(healthy))
	if col == nil {
		return nil, types.NewError(types.KindValidation, "quote collection already active for order "+order.ID)
	}

	s.stats.RecordOrder()
	s.bus.Publish(types.Event{
		OrderID: order.ID,
		Status:  types.EventPending,
		Message: fmt.Sprintf("order received, requesting quotes from %d venues", len(healthy)),
	})

	jobIDs := make([]string, 0, len(healthy))
	for _, v := range healthy {
		job := &queue.Job{
			ID:          uuid.NewString(),
			Type:        queue.JobQuote,
			Venue:       v,
			OrderID:     order.ID,
			TokenIn:     order.TokenIn,
			TokenOut:    order.TokenOut,
			AmountIn:    order.AmountIn,
			Strategy:    order.Strategy,
			MaxAttempts: s.workerCfg.QuoteRetries,
			Backoff:     s.workerCfg.QuoteBackoff,
		}
		if err := s.queues[v].Enqueue(ctx, job); err != nil {
			// The venue still counts toward expected; its failure surfaces
			// like any other quote failure so the completion rule holds.
			s.logger.Error("failed to enqueue quote job", "order_id", order.ID, "venue", v, "error", err)
			s.OnQuoteFailed(order.ID, v, types.WrapError(types.KindVenueTransient, "enqueue failed", err))
			continue
		}
		jobIDs = append(jobIDs, job.ID)
	}

	col.mu.Lock()
	if !col.processed {
		col.timer = time.AfterFunc(s.cfg.QuoteDeadline, func() { s.onDeadline(order.ID) })
	}
	col.mu.Unlock()

	s.logger.Info("quote collection started",
		"order_id", order.ID,
		"strategy", string(order.Strategy),
		"venues", len(healthy),
		"deadline", s.cfg.QuoteDeadline,
	)
	return jobIDs, nil
}

// OnQuoteCompleted records a successful quote from a venue worker.
func (s *Scheduler) OnQuoteCompleted(orderID, venueName string, quote types.Quote) {
	s.stats.RecordQuote(venueName, true)
	s.monitor.RecordSuccess(venueName)

	col := s.cols.get(orderID)
	if col == nil {
		// Late arrival after processing or cancel. Counted above, nothing emitted.
		s.logger.Debug("late quote ignored", "order_id", orderID, "venue", venueName)
		return
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if col.processed || col.received >= col.expected {
		return
	}
	col.received++
	col.quotes = append(col.quotes, quote)
	first := col.received == 1

	if first {
		s.updateStatus(orderID, types.StatusRouting, nil)
	}
	s.bus.Publish(types.Event{
		OrderID:        orderID,
		Status:         types.EventQuoteReceived,
		Venue:          venueName,
		Quote:          &quote,
		QuotesReceived: col.received,
		TotalExpected:  col.expected,
	})

	if col.received >= col.expected {
		s.processLocked(col)
	}
}

// OnQuoteFailed records a venue's terminal quote failure. The order only
// fails if every venue ends up failing.
func (s *Scheduler) OnQuoteFailed(orderID, venueName string, err error) {
	s.stats.RecordQuote(venueName, false)
	s.monitor.RecordFailure(venueName)

	col := s.cols.get(orderID)
	if col == nil {
		s.logger.Debug("late quote failure ignored", "order_id", orderID, "venue", venueName)
		return
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if col.processed || col.received >= col.expected {
		return
	}
	col.received++
	col.failures++
	if col.received == 1 {
		s.updateStatus(orderID, types.StatusRouting, nil)
	}
	s.bus.Publish(types.Event{
		OrderID:        orderID,
		Status:         types.EventQuoteFailed,
		Venue:          venueName,
		Error:          err.Error(),
		Kind:           types.KindOf(err),
		QuotesReceived: col.received,
		TotalExpected:  col.expected,
	})

	if col.received >= col.expected {
		s.processLocked(col)
	}
}

// OnSwapCompleted finalizes bookkeeping for a confirmed swap. The worker has
// already persisted the confirmed state and emitted the stage events.
func (s *Scheduler) OnSwapCompleted(orderID string, attempts int, result *types.SwapResult) {
	s.stats.RecordExecution(true)
	for i := 1; i < attempts; i++ {
		s.stats.RecordSwapRetry()
	}

	ctx := context.Background()
	if order, err := s.repo.GetOrderByID(ctx, orderID); err == nil {
		if err := s.cache.UpdateActiveOrder(ctx, order); err != nil {
			s.logger.Warn("failed to refresh order cache", "order_id", orderID, "error", err)
		}
	}
	s.ReleaseOrder(orderID)

	s.logger.Info("swap confirmed",
		"order_id", orderID,
		"venue", result.Venue,
		"tx_hash", result.TxHash,
		"amount_out", result.AmountOut,
		"attempts", attempts,
	)
}

// OnSwapFailed fails the order after the swap's final attempt. A transient
// error that exhausted its retries surfaces as swap_rejected; permanent
// venue refusals keep their own kind.
func (s *Scheduler) OnSwapFailed(orderID string, attempts int, err error) {
	for i := 1; i < attempts; i++ {
		s.stats.RecordSwapRetry()
	}

	kind := types.KindOf(err)
	if types.Retryable(err) {
		kind = types.KindSwapRejected
	}
	msg := fmt.Sprintf("swap failed after %d attempts: %v", attempts, err)

	s.updateStatus(orderID, types.StatusFailed, &store.StatusPatch{
		ErrorMessage: store.String(msg),
		Retries:      store.Int(attempts - 1),
	})
	s.stats.RecordExecution(false)
	s.bus.Publish(types.Event{
		OrderID: orderID,
		Status:  types.EventFailed,
		Message: msg,
		Error:   string(kind),
		Kind:    kind,
	})
	s.ReleaseOrder(orderID)
	s.logger.Warn("order failed", "order_id", orderID, "kind", string(kind), "message", msg)
}

// onDeadline applies the deadline half of the completion rule: proceed with
// what we have if at least MinQuotes valid quotes arrived, otherwise fail.
func (s *Scheduler) onDeadline(orderID string) {
	col := s.cols.get(orderID)
	if col == nil {
		return
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if col.processed {
		return
	}

	if col.validCount() >= s.cfg.MinQuotes {
		s.logger.Info("quote deadline reached, proceeding with partial quotes",
			"order_id", orderID,
			"valid", col.validCount(),
			"expected", col.expected,
		)
		s.processLocked(col)
		return
	}

	col.processed = true
	s.cols.remove(orderID)
	s.failOrder(context.Background(), orderID, types.KindDeadlineExceeded,
		fmt.Sprintf("quote collection timed out with %d of %d required quotes", col.validCount(), s.cfg.MinQuotes))
}

// processLocked runs the post-collection pipeline exactly once. Caller holds
// col.mu, which keeps this order's event emission totally ordered.
func (s *Scheduler) processLocked(col *collection) {
	if col.processed {
		return
	}
	col.processed = true
	defer s.cols.remove(col.orderID)

	ctx := context.Background()
	orderID := col.orderID

	if col.validCount() == 0 {
		s.failOrder(ctx, orderID, types.KindNoQuotes, "all venues failed to quote")
		return
	}

	s.updateStatus(orderID, types.StatusProcessing, nil)

	validation := s.hub.Validate(col.quotes)
	if !validation.Valid {
		// Workers only hand over well-formed quotes; this guards the invariant anyway.
		s.logger.Error("collected quotes failed validation", "order_id", orderID, "errors", validation.Errors)
		s.failOrder(ctx, orderID, types.KindValidation, "collected quotes failed validation")
		return
	}
	for _, w := range validation.Warnings {
		s.logger.Warn("quote validation warning", "order_id", orderID, "warning", w)
	}

	s.bus.Publish(types.Event{
		OrderID:       orderID,
		Status:        types.EventQuotesCollected,
		Quotes:        col.quotes,
		ValidQuotes:   col.validCount(),
		TotalReceived: col.received,
	})

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		s.logger.Error("order missing during processing", "order_id", orderID, "error", err)
		s.failOrder(ctx, orderID, types.KindInternal, "order state lost during processing")
		return
	}

	analysis, err := s.hub.Analyze(col.quotes)
	if err != nil {
		s.failOrder(ctx, orderID, types.KindNoQuotes, "no valid quotes to analyze")
		return
	}

	var prefs *routing.Preferences
	if order.Slippage > 0 {
		prefs = &routing.Preferences{MaxSlippage: order.Slippage}
	}
	selected, err := s.hub.Select(col.quotes, col.strategy, prefs)
	if err != nil {
		s.failOrder(ctx, orderID, types.KindNoQuotes, "no quote satisfies the order preferences")
		return
	}

	strategy := col.strategy
	if !strategy.Valid() {
		strategy = types.StrategyBestPrice
	}
	s.stats.RecordStrategy(strategy)
	s.stats.RecordCollectionTime(time.Since(col.startedAt))

	order.SelectedVenue = selected.Venue
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		s.logger.Error("failed to persist selected venue", "order_id", orderID, "error", err)
	}
	if err := s.cache.UpdateActiveOrder(ctx, order); err != nil {
		s.logger.Warn("failed to refresh order cache", "order_id", orderID, "error", err)
	}

	s.bus.Publish(types.Event{
		OrderID:           orderID,
		Status:            types.EventDexSelected,
		SelectedRoute:     &selected,
		Strategy:          strategy,
		MarketMetrics:     &analysis.MarketMetrics,
		AlternativeRoutes: analysis.StrategyAnalysis,
	})

	s.logger.Info("route selected",
		"order_id", orderID,
		"venue", selected.Venue,
		"strategy", string(strategy),
		"estimated_output", selected.EstimatedOutput,
		"collection_time", time.Since(col.startedAt),
	)

	if !order.AutoExecute {
		s.logger.Info("auto-execute disabled, awaiting explicit execution", "order_id", orderID)
		return
	}
	if err := s.DispatchSwap(ctx, order); err != nil {
		s.failOrder(ctx, orderID, types.KindInternal, "failed to dispatch swap: "+err.Error())
	}
}

// DispatchSwap enqueues the swap job on the selected venue's queue. At most
// one swap is ever enqueued per order, across automatic and manual paths.
func (s *Scheduler) DispatchSwap(ctx context.Context, order *types.Order) error {
	if order.SelectedVenue == "" {
		return types.NewError(types.KindValidation, "order has no selected venue")
	}
	// Re-read the stored state: the caller may hold a stale copy.
	fresh, err := s.repo.GetOrderByID(ctx, order.ID)
	if err != nil {
		return err
	}
	if fresh.Status.Terminal() {
		return types.NewError(types.KindValidation, "order "+order.ID+" is already terminal")
	}
	q, ok := s.queues[order.SelectedVenue]
	if !ok {
		return types.NewError(types.KindInternal, "no queue for venue "+order.SelectedVenue)
	}

	s.dispatchedMu.Lock()
	if s.dispatched[order.ID] {
		s.dispatchedMu.Unlock()
		return types.NewError(types.KindValidation, "swap already dispatched for order "+order.ID)
	}
	s.dispatched[order.ID] = true
	s.dispatchedMu.Unlock()

	job := &queue.Job{
		ID:          uuid.NewString(),
		Type:        queue.JobSwap,
		Venue:       order.SelectedVenue,
		OrderID:     order.ID,
		TokenIn:     order.TokenIn,
		TokenOut:    order.TokenOut,
		AmountIn:    order.AmountIn,
		MaxAttempts: s.workerCfg.SwapRetries,
		Backoff:     s.workerCfg.SwapBackoff,
	}
	if err := q.Enqueue(ctx, job); err != nil {
		s.dispatchedMu.Lock()
		delete(s.dispatched, order.ID)
		s.dispatchedMu.Unlock()
		return fmt.Errorf("enqueue swap: %w", err)
	}
	return nil
}

// Cancel clears the order's pending collection, best effort. An order whose
// swap is already in flight completes normally; a terminal order is a no-op.
func (s *Scheduler) Cancel(orderID string) error {
	order, err := s.getOrder(context.Background(), orderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return nil
	}

	col := s.cols.get(orderID)
	if col != nil {
		col.mu.Lock()
		already := col.processed
		col.processed = true
		col.mu.Unlock()
		s.cols.remove(orderID)
		if !already {
			s.failOrder(context.Background(), orderID, types.KindCancelled, "order cancelled by client")
			return nil
		}
	}

	s.dispatchedMu.Lock()
	inFlight := s.dispatched[orderID]
	s.dispatchedMu.Unlock()
	if inFlight {
		// Submitted swaps run to completion; there are no rollback semantics.
		s.logger.Info("cancel ignored, swap already dispatched", "order_id", orderID)
		return nil
	}

	// Routed but not dispatched (auto-execute off): fail it.
	s.failOrder(context.Background(), orderID, types.KindCancelled, "order cancelled by client")
	return nil
}

// ReleaseOrder drops bookkeeping for a terminal order. Called by workers
// after a swap reaches a terminal state.
func (s *Scheduler) ReleaseOrder(orderID string) {
	s.cols.remove(orderID)
	s.dispatchedMu.Lock()
	delete(s.dispatched, orderID)
	s.dispatchedMu.Unlock()
}

// PendingCollections reports how many orders are mid-collection.
func (s *Scheduler) PendingCollections() int { return s.cols.size() }

// Stop refuses new orders. In-flight collections and swaps drain through
// their normal paths; queue and worker shutdown is owned by the caller.
func (s *Scheduler) Stop() { s.closed.Store(true) }

// getOrder reads through the active-order cache to the repository.
func (s *Scheduler) getOrder(ctx context.Context, orderID string) (*types.Order, error) {
	if order, err := s.cache.GetActiveOrder(ctx, orderID); err == nil {
		return order, nil
	}
	return s.repo.GetOrderByID(ctx, orderID)
}

// updateStatus applies a status transition to the repository and cache.
// Illegal transitions are logged, not propagated: the state machine check in
// the store is the backstop, the scheduler's sequencing the primary guard.
func (s *Scheduler) updateStatus(orderID string, status types.OrderStatus, patch *store.StatusPatch) {
	ctx := context.Background()
	if err := s.repo.UpdateOrderStatus(ctx, orderID, status, patch); err != nil {
		s.logger.Error("status update failed", "order_id", orderID, "status", string(status), "error", err)
		return
	}
	if order, err := s.repo.GetOrderByID(ctx, orderID); err == nil {
		if err := s.cache.UpdateActiveOrder(ctx, order); err != nil {
			s.logger.Warn("failed to refresh order cache", "order_id", orderID, "error", err)
		}
	}
}

// failOrder transitions the order to failed and emits the terminal event.
func (s *Scheduler) failOrder(ctx context.Context, orderID string, kind types.ErrorKind, msg string) {
	s.updateStatus(orderID, types.StatusFailed, &store.StatusPatch{ErrorMessage: store.String(msg)})
	s.stats.RecordExecution(false)

	evt := types.Event{
		OrderID: orderID,
		Status:  types.EventFailed,
		Message: msg,
		Kind:    kind,
	}
	if kind != "" {
		evt.Error = string(kind)
	}
	s.bus.Publish(evt)

	s.dispatchedMu.Lock()
	delete(s.dispatched, orderID)
	s.dispatchedMu.Unlock()

	s.logger.Warn("order failed", "order_id", orderID, "kind", string(kind), "message", msg)
}
