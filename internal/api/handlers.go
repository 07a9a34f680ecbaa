package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"swap-router/internal/cache"
	"swap-router/internal/engine"
	"swap-router/internal/events"
	"swap-router/internal/stats"
	"swap-router/internal/store"
	"swap-router/internal/venue"
	"swap-router/pkg/types"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	repo      store.Repository
	cache     cache.ActiveOrders
	scheduler *engine.Scheduler
	stats     *stats.Registry
	bus       *events.Bus
	monitor   *venue.Monitor
	venues    []string
	logger    *slog.Logger
}

// NewHandlers creates a handlers instance.
func NewHandlers(
	repo store.Repository,
	activeOrders cache.ActiveOrders,
	scheduler *engine.Scheduler,
	registry *stats.Registry,
	bus *events.Bus,
	monitor *venue.Monitor,
	venues []string,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		repo:      repo,
		cache:     activeOrders,
		scheduler: scheduler,
		stats:     registry,
		bus:       bus,
		monitor:   monitor,
		venues:    venues,
		logger:    logger.With("component", "api-handlers"),
	}
}

// HandleHealth reports component health: the store, the cache, per-venue
// availability, and the number of in-flight quote collections.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	venueHealth := make(map[string]bool, len(h.venues))
	for _, v := range h.venues {
		venueHealth[v] = h.monitor.Healthy(v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"store":              h.repo.Healthy(ctx),
		"cache":              h.cache.IsHealthy(ctx),
		"venues":             venueHealth,
		"pendingCollections": h.scheduler.PendingCollections(),
	})
}

// HandleCreateOrder validates the submission, persists the order, and starts
// quote collection. Responds 201 with the accepted order.
func (h *Handlers) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req types.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, types.NewError(types.KindValidation, "invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, err)
		return
	}

	order := &types.Order{
		ID:          uuid.NewString(),
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		AmountIn:    req.AmountIn,
		OrderType:   req.OrderType,
		Strategy:    req.RoutingStrategy,
		Status:      types.StatusPending,
		Slippage:    req.Slippage,
		AutoExecute: req.AutoExecute == nil || *req.AutoExecute,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if order.OrderType == "" {
		order.OrderType = types.OrderTypeMarket
	}
	if order.Strategy == "" {
		order.Strategy = types.StrategyBestPrice
	}

	ctx := r.Context()
	if err := h.repo.CreateOrder(ctx, order); err != nil {
		h.logger.Error("order create failed", "error", err)
		writeErr(w, err)
		return
	}
	if err := h.cache.SetActiveOrder(ctx, order); err != nil {
		h.logger.Warn("failed to cache order", "order_id", order.ID, "error", err)
	}

	// Fan-out uses a background context: the pipeline outlives this request.
	if _, err := h.scheduler.StartQuoteCollection(context.Background(), order); err != nil {
		// The order exists and is already failed; report it as accepted with
		// its terminal state rather than erroring the submission.
		h.logger.Warn("quote collection failed to start", "order_id", order.ID, "error", err)
		if fresh, gerr := h.repo.GetOrderByID(ctx, order.ID); gerr == nil {
			order = fresh
		}
	}

	h.logger.Info("order accepted",
		"order_id", order.ID,
		"pair", order.TokenIn+"/"+order.TokenOut,
		"amount_in", order.AmountIn,
		"strategy", string(order.Strategy),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"order":     order,
		"streamUrl": "/ws?orderId=" + order.ID,
	})
}

// HandleListOrders returns orders newest first, paginated by limit/offset.
func (h *Handlers) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	orders, err := h.repo.GetOrders(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("order list failed", "error", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"count":  len(orders),
	})
}

// HandleGetOrder returns one order by id, reading through the cache.
func (h *Handlers) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.cache.GetActiveOrder(r.Context(), id)
	if err != nil {
		order, err = h.repo.GetOrderByID(r.Context(), id)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleExecuteOrder dispatches the swap for an order that was submitted
// with autoExecute disabled and has a selected route.
func (h *Handlers) HandleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.repo.GetOrderByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if order.Status.Terminal() {
		writeErr(w, types.NewError(types.KindValidation, "order is already terminal"))
		return
	}
	if order.SelectedVenue == "" {
		writeErr(w, types.NewError(types.KindValidation, "order has no selected route yet"))
		return
	}

	if err := h.scheduler.DispatchSwap(r.Context(), order); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"orderId": order.ID,
		"venue":   order.SelectedVenue,
		"status":  "dispatched",
	})
}

// HandleCancelOrder cancels a pending or routing order. Orders whose swap is
// already dispatched run to completion.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.scheduler.Cancel(id); err != nil {
		writeErr(w, err)
		return
	}

	order, err := h.repo.GetOrderByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleStats returns the cumulative execution statistics snapshot.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps error kinds to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.KindOf(err) {
	case types.KindValidation:
		status = http.StatusBadRequest
	case types.KindNotFound:
		status = http.StatusNotFound
	case types.KindNoQuotes, types.KindDeadlineExceeded, types.KindSwapRejected:
		status = http.StatusUnprocessableEntity
	case types.KindVenueTransient:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(types.KindOf(err)),
	})
}
