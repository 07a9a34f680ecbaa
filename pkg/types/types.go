// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the execution engine — orders,
// quotes, routing strategies, lifecycle statuses, and streaming event payloads.
// It has no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// OrderStatus enumerates the order lifecycle states.
//
// Valid forward path:
//
//	pending → routing → processing → building → submitted → confirmed
//
// Any state may transition to failed. Confirmed and failed are terminal.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"    // submitted, fan-out not yet complete
	StatusRouting    OrderStatus = "routing"    // first quote arrived, collection in progress
	StatusProcessing OrderStatus = "processing" // scheduler is scoring collected quotes
	StatusBuilding   OrderStatus = "building"   // selected venue is preparing the swap
	StatusSubmitted  OrderStatus = "submitted"  // venue returned a transaction handle
	StatusConfirmed  OrderStatus = "confirmed"  // swap executed and persisted
	StatusFailed     OrderStatus = "failed"     // terminal error
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

var statusRank = map[OrderStatus]int{
	StatusPending:    0,
	StatusRouting:    1,
	StatusProcessing: 2,
	StatusBuilding:   3,
	StatusSubmitted:  4,
	StatusConfirmed:  5,
}

// CanTransition reports whether moving from s to next is a legal state
// machine step. Terminal states are idempotent sinks: re-applying the same
// terminal status is allowed (a no-op for callers), any other move is not.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() {
		return s == next
	}
	if next == StatusFailed {
		return true
	}
	cur, ok1 := statusRank[s]
	nxt, ok2 := statusRank[next]
	return ok1 && ok2 && nxt > cur
}

// OrderType enumerates supported order kinds. Only market orders exist today.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

// RoutingStrategy selects how the hub scores competing quotes.
type RoutingStrategy string

const (
	StrategyBestPrice        RoutingStrategy = "BEST_PRICE"        // argmax estimated output
	StrategyLowestSlippage   RoutingStrategy = "LOWEST_SLIPPAGE"   // argmin slippage
	StrategyHighestLiquidity RoutingStrategy = "HIGHEST_LIQUIDITY" // argmax pool liquidity
	StrategyFastestExecution RoutingStrategy = "FASTEST_EXECUTION" // argmax static speed rank
)

// Valid reports whether s is one of the four known strategies.
func (s RoutingStrategy) Valid() bool {
	switch s {
	case StrategyBestPrice, StrategyLowestSlippage, StrategyHighestLiquidity, StrategyFastestExecution:
		return true
	}
	return false
}

// Strategies lists all known routing strategies in a fixed order.
func Strategies() []RoutingStrategy {
	return []RoutingStrategy{
		StrategyBestPrice,
		StrategyLowestSlippage,
		StrategyHighestLiquidity,
		StrategyFastestExecution,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is the engine's representation of a swap order. Mutated only by the
// scheduler and by the venue worker that owns the active job, never both at
// the same time.
type Order struct {
	ID        string          `json:"id" db:"id"`
	TokenIn   string          `json:"tokenIn" db:"token_in"`
	TokenOut  string          `json:"tokenOut" db:"token_out"`
	AmountIn  float64         `json:"amountIn" db:"amount_in"`
	OrderType OrderType       `json:"orderType" db:"order_type"`
	Strategy  RoutingStrategy `json:"routingStrategy" db:"routing_strategy"`
	Status    OrderStatus     `json:"status" db:"status"`
	Retries   int             `json:"retries" db:"retries"`

	// Slippage is the client's tolerance (0..0.5); quotes above it are
	// filtered during selection. AutoExecute false stops the pipeline after
	// route selection and waits for an explicit execute call.
	Slippage    float64 `json:"slippage,omitempty" db:"slippage"`
	AutoExecute bool    `json:"autoExecute" db:"auto_execute"`

	// Outcome fields, populated as the order progresses.
	SelectedVenue string  `json:"selectedVenue,omitempty" db:"selected_venue"`
	ExecutedPrice float64 `json:"executedPrice,omitempty" db:"executed_price"`
	AmountOut     float64 `json:"amountOut,omitempty" db:"amount_out"`
	TxHash        string  `json:"txHash,omitempty" db:"tx_hash"`
	ErrorMessage  string  `json:"errorMessage,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// OrderRequest is the client-facing order submission payload.
type OrderRequest struct {
	TokenIn         string          `json:"tokenIn"`
	TokenOut        string          `json:"tokenOut"`
	AmountIn        float64         `json:"amountIn"`
	OrderType       OrderType       `json:"orderType,omitempty"`
	Slippage        float64         `json:"slippage,omitempty"`
	RoutingStrategy RoutingStrategy `json:"routingStrategy,omitempty"`
	AutoExecute     *bool           `json:"autoExecute,omitempty"` // nil = true
}

// MaxAmountIn caps a single order's input amount.
const MaxAmountIn = 1_000_000

// MaxSlippage caps the client-requested slippage tolerance.
const MaxSlippage = 0.5

// Validate checks the submission rules: nonempty distinct token symbols,
// positive bounded amount, known strategy and order type, sane slippage.
func (r *OrderRequest) Validate() error {
	if r.TokenIn == "" {
		return NewError(KindValidation, "tokenIn is required")
	}
	if r.TokenOut == "" {
		return NewError(KindValidation, "tokenOut is required")
	}
	if r.TokenIn == r.TokenOut {
		return NewError(KindValidation, "tokenIn and tokenOut must differ")
	}
	if r.AmountIn <= 0 {
		return NewError(KindValidation, "amountIn must be positive")
	}
	if r.AmountIn > MaxAmountIn {
		return NewError(KindValidation, "amountIn exceeds maximum of 1000000")
	}
	if r.OrderType != "" && r.OrderType != OrderTypeMarket {
		return NewError(KindValidation, "orderType must be market")
	}
	if r.Slippage < 0 || r.Slippage > MaxSlippage {
		return NewError(KindValidation, "slippage must be between 0 and 0.5")
	}
	if r.RoutingStrategy != "" && !r.RoutingStrategy.Valid() {
		return NewError(KindValidation, "unknown routingStrategy")
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Quotes and swaps
// ————————————————————————————————————————————————————————————————————————

// Quote is a priced, sized offer from one venue to execute a swap.
// Produced by a venue worker, consumed by the routing hub.
type Quote struct {
	Venue           string  `json:"dex"`
	Price           float64 `json:"price"`           // tokenOut per tokenIn
	EstimatedOutput float64 `json:"estimatedOutput"` // expected tokenOut amount
	Slippage        float64 `json:"slippage"`        // 0..1
	Liquidity       float64 `json:"liquidity"`       // pool depth in tokenOut terms
	Fee             float64 `json:"fee"`             // venue fee on this trade
	LatencyMs       int64   `json:"latencyMs,omitempty"`
}

// SwapResult is the outcome of an executed swap on one venue.
type SwapResult struct {
	Venue         string  `json:"dex"`
	TxHash        string  `json:"txHash"`
	AmountOut     float64 `json:"amountOut"`
	ExecutedPrice float64 `json:"executedPrice"`
	Fee           float64 `json:"fee"`
}

// ————————————————————————————————————————————————————————————————————————
// Streaming events
// ————————————————————————————————————————————————————————————————————————

// EventStatus tags every message on an order's event stream. Stream statuses
// are a superset of OrderStatus: quote progress events narrate the routing
// phase without being states themselves.
type EventStatus string

const (
	EventPending         EventStatus = "pending"
	EventQuoteReceived   EventStatus = "quote_received"
	EventQuoteFailed     EventStatus = "quote_failed"
	EventQuotesCollected EventStatus = "quotes_collected"
	EventDexSelected     EventStatus = "dex_selected"
	EventBuilding        EventStatus = "building"
	EventSubmitted       EventStatus = "submitted"
	EventConfirmed       EventStatus = "confirmed"
	EventFailed          EventStatus = "failed"
	EventError           EventStatus = "error"
)

// Event is one message on an order's lifecycle stream. Only the fields the
// wire protocol requires for the given Status are populated; the rest are
// omitted from JSON.
type Event struct {
	OrderID   string      `json:"orderId"`
	Status    EventStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`

	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"errorKind,omitempty"`

	// Quote progress (quote_received / quote_failed).
	Venue          string `json:"dex,omitempty"`
	Quote          *Quote `json:"quote,omitempty"`
	QuotesReceived int    `json:"quotesReceived,omitempty"`
	TotalExpected  int    `json:"totalExpected,omitempty"`

	// Collection snapshot (quotes_collected).
	Quotes        []Quote `json:"quotes,omitempty"`
	ValidQuotes   int     `json:"validQuotes,omitempty"`
	TotalReceived int     `json:"totalReceived,omitempty"`

	// Route selection (dex_selected).
	SelectedRoute     *Quote                    `json:"selectedRoute,omitempty"`
	Strategy          RoutingStrategy           `json:"strategy,omitempty"`
	MarketMetrics     *MarketMetrics            `json:"marketMetrics,omitempty"`
	AlternativeRoutes map[RoutingStrategy]Quote `json:"alternativeRoutes,omitempty"`

	// Swap stages (building / submitted / confirmed).
	Stage         string  `json:"stage,omitempty"`
	TxHash        string  `json:"txHash,omitempty"`
	AmountOut     float64 `json:"amountOut,omitempty"`
	ExecutedPrice float64 `json:"executedPrice,omitempty"`
}

// MarketMetrics summarizes the collected quote set for one order.
type MarketMetrics struct {
	PriceSpread    float64 `json:"priceSpread"` // max price − min price
	PriceSpreadPct float64 `json:"priceSpreadPct"`
	MeanPrice      float64 `json:"meanPrice"`
	BestOutput     float64 `json:"bestOutput"`
	WorstOutput    float64 `json:"worstOutput"`
	MeanSlippage   float64 `json:"meanSlippage"`
	TotalLiquidity float64 `json:"totalLiquidity"`
}
