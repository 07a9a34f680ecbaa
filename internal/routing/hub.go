// Package routing implements the quote scoring hub: validation, strategy
// based selection with deterministic tie-breaks, and market analysis over a
// collected quote set.
package routing

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"swap-router/internal/config"
	"swap-router/pkg/types"
)

// Tuple is the hub's normalized, immutable view of one quote:
// price, output, slippage, liquidity, venue.
type Tuple struct {
	Price     float64
	Output    float64
	Slippage  float64
	Liquidity float64
	Venue     string
	LatencyMs int64
}

func tupleFrom(q types.Quote) Tuple {
	return Tuple{
		Price:     q.Price,
		Output:    q.EstimatedOutput,
		Slippage:  q.Slippage,
		Liquidity: q.Liquidity,
		Venue:     q.Venue,
		LatencyMs: q.LatencyMs,
	}
}

// Validation is the result of checking a quote set before scoring.
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Preferences optionally narrows the candidate set before scoring.
// PreferredVenue is promoted: it wins ties on the strategy's primary key but
// is never forced over a strictly better quote.
type Preferences struct {
	ExcludeVenues  []string
	MinLiquidity   float64
	MaxSlippage    float64
	PreferredVenue string
}

// Analysis is the hub's market report over one quote set.
type Analysis struct {
	TotalQuotes      int                                   `json:"totalQuotes"`
	MarketMetrics    types.MarketMetrics                   `json:"marketMetrics"`
	StrategyAnalysis map[types.RoutingStrategy]types.Quote `json:"strategyAnalysis"`
	Recommendation   string                                `json:"recommendation"`
	Timestamp        time.Time                             `json:"timestamp"`
}

// Hub scores quotes. It is stateless apart from configuration, so one hub
// serves all orders concurrently.
type Hub struct {
	cfg    config.RoutingConfig
	logger *slog.Logger
}

// NewHub creates a routing hub.
func NewHub(cfg config.RoutingConfig, logger *slog.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger.With("component", "routing-hub")}
}

// Validate checks every quote. Errors (missing venue, output <= 0) make the
// set invalid; warnings (high slippage, thin liquidity) do not. Calling it
// twice on the same input returns identical results.
func (h *Hub) Validate(quotes []types.Quote) Validation {
	v := Validation{Valid: true, Errors: []string{}, Warnings: []string{}}
	for i, q := range quotes {
		name := q.Venue
		if name == "" {
			v.Errors = append(v.Errors, fmt.Sprintf("quote %d: missing venue identifier", i))
			v.Valid = false
		}
		if q.EstimatedOutput <= 0 {
			v.Errors = append(v.Errors, fmt.Sprintf("quote %d (%s): estimated output must be positive", i, name))
			v.Valid = false
		}
		if q.Slippage > h.cfg.SlippageWarn {
			v.Warnings = append(v.Warnings, fmt.Sprintf("%s: slippage %.2f%% above %.2f%% threshold", name, q.Slippage*100, h.cfg.SlippageWarn*100))
		}
		if q.Liquidity < h.cfg.LiquidityWarn {
			v.Warnings = append(v.Warnings, fmt.Sprintf("%s: liquidity %.0f below %.0f threshold", name, q.Liquidity, h.cfg.LiquidityWarn))
		}
	}
	return v
}

// Select picks the single best quote under the strategy. Invalid quotes and
// quotes rejected by prefs are filtered first; an empty remainder fails with
// no_quotes. Selection is stable: the same input always picks the same venue.
func (h *Hub) Select(quotes []types.Quote, strategy types.RoutingStrategy, prefs *Preferences) (types.Quote, error) {
	candidates := h.filter(quotes, prefs)
	if len(candidates) == 0 {
		return types.Quote{}, types.NewError(types.KindNoQuotes, "no quote satisfies the routing preferences")
	}

	if !strategy.Valid() {
		h.logger.Warn("unknown routing strategy, degrading to BEST_PRICE", "strategy", string(strategy))
		strategy = types.StrategyBestPrice
	}

	preferred := ""
	if prefs != nil {
		preferred = prefs.PreferredVenue
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if h.better(c, best, strategy, preferred) {
			best = c
		}
	}
	return best.quote, nil
}

// Analyze reports market metrics and the winner under each of the four
// strategies. Fails with no_quotes on an empty (or all-invalid) set.
func (h *Hub) Analyze(quotes []types.Quote) (*Analysis, error) {
	candidates := h.filter(quotes, nil)
	if len(candidates) == 0 {
		return nil, types.NewError(types.KindNoQuotes, "no valid quotes to analyze")
	}

	byStrategy := make(map[types.RoutingStrategy]types.Quote, 4)
	for _, strat := range types.Strategies() {
		winner, err := h.Select(quotes, strat, nil)
		if err != nil {
			return nil, err
		}
		byStrategy[strat] = winner
	}

	best := byStrategy[types.StrategyBestPrice]
	return &Analysis{
		TotalQuotes:      len(candidates),
		MarketMetrics:    h.Metrics(quotes),
		StrategyAnalysis: byStrategy,
		Recommendation:   "BEST_PRICE via " + best.Venue + " maximizes estimated output",
		Timestamp:        time.Now(),
	}, nil
}

// Metrics computes the aggregate market view over the valid quotes.
func (h *Hub) Metrics(quotes []types.Quote) types.MarketMetrics {
	candidates := h.filter(quotes, nil)
	if len(candidates) == 0 {
		return types.MarketMetrics{}
	}

	var m types.MarketMetrics
	minPrice, maxPrice := candidates[0].Price, candidates[0].Price
	m.BestOutput, m.WorstOutput = candidates[0].Output, candidates[0].Output
	var priceSum, slipSum float64
	for _, c := range candidates {
		if c.Price < minPrice {
			minPrice = c.Price
		}
		if c.Price > maxPrice {
			maxPrice = c.Price
		}
		if c.Output > m.BestOutput {
			m.BestOutput = c.Output
		}
		if c.Output < m.WorstOutput {
			m.WorstOutput = c.Output
		}
		priceSum += c.Price
		slipSum += c.Slippage
		m.TotalLiquidity += c.Liquidity
	}
	n := float64(len(candidates))
	m.PriceSpread = maxPrice - minPrice
	m.MeanPrice = priceSum / n
	if minPrice > 0 {
		m.PriceSpreadPct = m.PriceSpread / minPrice * 100
	}
	m.MeanSlippage = slipSum / n
	return m
}

// candidate pairs the original quote with its normalized tuple so Select can
// hand back the exact quote it was given.
type candidate struct {
	Tuple
	quote types.Quote
}

// filter drops invalid quotes and applies preferences. The result preserves
// input order.
func (h *Hub) filter(quotes []types.Quote, prefs *Preferences) []candidate {
	var excluded map[string]bool
	if prefs != nil && len(prefs.ExcludeVenues) > 0 {
		excluded = make(map[string]bool, len(prefs.ExcludeVenues))
		for _, v := range prefs.ExcludeVenues {
			excluded[v] = true
		}
	}

	out := make([]candidate, 0, len(quotes))
	for _, q := range quotes {
		if q.Venue == "" || q.EstimatedOutput <= 0 {
			continue
		}
		if excluded[q.Venue] {
			continue
		}
		if prefs != nil {
			if prefs.MinLiquidity > 0 && q.Liquidity < prefs.MinLiquidity {
				continue
			}
			if prefs.MaxSlippage > 0 && q.Slippage > prefs.MaxSlippage {
				continue
			}
		}
		out = append(out, candidate{Tuple: tupleFrom(q), quote: q})
	}
	return out
}

// better reports whether a beats b under the strategy. Tie-break chains are
// fixed so selection is deterministic for any input permutation; the
// preferred venue breaks ties on the primary key before the per-strategy
// chain runs.
func (h *Hub) better(a, b candidate, strategy types.RoutingStrategy, preferred string) bool {
	primary := h.comparePrimary(a, b, strategy)
	if primary != 0 {
		return primary > 0
	}
	if preferred != "" && a.Venue != b.Venue {
		if a.Venue == preferred {
			return true
		}
		if b.Venue == preferred {
			return false
		}
	}
	return h.tieBreak(a, b, strategy)
}

// comparePrimary returns >0 if a is strictly better on the strategy's
// objective, <0 if worse, 0 on a tie.
func (h *Hub) comparePrimary(a, b candidate, strategy types.RoutingStrategy) int {
	switch strategy {
	case types.StrategyLowestSlippage:
		return compareFloat(b.Slippage, a.Slippage)
	case types.StrategyHighestLiquidity:
		return compareFloat(a.Liquidity, b.Liquidity)
	case types.StrategyFastestExecution:
		return h.cfg.SpeedRank[a.Venue] - h.cfg.SpeedRank[b.Venue]
	default: // BEST_PRICE
		return compareFloat(a.Output, b.Output)
	}
}

func (h *Hub) tieBreak(a, b candidate, strategy types.RoutingStrategy) bool {
	switch strategy {
	case types.StrategyLowestSlippage:
		if a.Output != b.Output {
			return a.Output > b.Output
		}
	case types.StrategyHighestLiquidity:
		if a.Output != b.Output {
			return a.Output > b.Output
		}
	case types.StrategyFastestExecution:
		if a.Slippage != b.Slippage {
			return a.Slippage < b.Slippage
		}
	default: // BEST_PRICE
		if a.Slippage != b.Slippage {
			return a.Slippage < b.Slippage
		}
		if a.LatencyMs != b.LatencyMs {
			return a.LatencyMs < b.LatencyMs
		}
	}
	return a.Venue < b.Venue
}

func compareFloat(a, b float64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

// Ranked returns the candidates ordered best-first under the strategy.
// Unknown strategies rank by best price.
func (h *Hub) Ranked(quotes []types.Quote, strategy types.RoutingStrategy) []types.Quote {
	candidates := h.filter(quotes, nil)
	if !strategy.Valid() {
		strategy = types.StrategyBestPrice
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return h.better(candidates[i], candidates[j], strategy, "")
	})
	out := make([]types.Quote, len(candidates))
	for i, c := range candidates {
		out[i] = c.quote
	}
	return out
}
