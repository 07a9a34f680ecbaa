// Package stats accumulates cumulative execution counters: orders, quote
// outcomes per venue, strategy usage, execution results, and collection
// timing. Snapshot() is cheap enough for every health probe. Counters are
// mirrored into Prometheus so an external scraper sees the same numbers.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"swap-router/pkg/types"
)

// VenueCounters tracks one venue's quote outcomes.
type VenueCounters struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// Snapshot is the read-only view of the registry.
type Snapshot struct {
	TotalOrders          int64                           `json:"totalOrders"`
	QuotesCollected      int64                           `json:"quotesCollected"`
	QuotesFailed         int64                           `json:"quotesFailed"`
	VenueQuotes          map[string]VenueCounters        `json:"venueQuotes"`
	StrategyUse          map[types.RoutingStrategy]int64 `json:"strategyUse"`
	ExecutionsSucceeded  int64                           `json:"executionsSucceeded"`
	ExecutionsFailed     int64                           `json:"executionsFailed"`
	SwapRetries          int64                           `json:"swapRetries"`
	CollectionCount      int64                           `json:"collectionCount"`
	CollectionTimeTotal  time.Duration                   `json:"collectionTimeTotal"`
	MeanCollectionTimeMs float64                         `json:"meanCollectionTimeMs"`
}

// Registry is the statistics registry. One instance is shared by the
// scheduler and every worker; all updates take the registry mutex, which is
// uncontended enough at this scale that finer-grained atomics buy nothing.
type Registry struct {
	mu   sync.Mutex
	snap Snapshot

	promQuotes     *prometheus.CounterVec
	promExecutions *prometheus.CounterVec
	promOrders     prometheus.Counter
	promCollection prometheus.Histogram
}

// NewRegistry creates a registry and registers its Prometheus collectors.
// Pass prometheus.NewRegistry() in tests to avoid default-registry clashes.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		snap: Snapshot{
			VenueQuotes: make(map[string]VenueCounters),
			StrategyUse: make(map[types.RoutingStrategy]int64),
		},
		promOrders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swaprouter_orders_total",
			Help: "Orders accepted for quote collection.",
		}),
		promQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swaprouter_quotes_total",
			Help: "Quote job outcomes by venue and result.",
		}, []string{"venue", "result"}),
		promExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swaprouter_executions_total",
			Help: "Swap execution outcomes.",
		}, []string{"result"}),
		promCollection: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swaprouter_quote_collection_seconds",
			Help:    "Quote collection duration from fan-out to processing.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(r.promOrders, r.promQuotes, r.promExecutions, r.promCollection)
	}
	return r
}

// RecordOrder counts a newly accepted order.
func (r *Registry) RecordOrder() {
	r.mu.Lock()
	r.snap.TotalOrders++
	r.mu.Unlock()
	r.promOrders.Inc()
}

// RecordQuote counts a quote job outcome for a venue.
func (r *Registry) RecordQuote(venue string, success bool) {
	r.mu.Lock()
	vc := r.snap.VenueQuotes[venue]
	if success {
		vc.Success++
		r.snap.QuotesCollected++
	} else {
		vc.Failure++
		r.snap.QuotesFailed++
	}
	r.snap.VenueQuotes[venue] = vc
	r.mu.Unlock()

	result := "success"
	if !success {
		result = "failure"
	}
	r.promQuotes.WithLabelValues(venue, result).Inc()
}

// RecordStrategy tallies a routing strategy invocation.
func (r *Registry) RecordStrategy(s types.RoutingStrategy) {
	r.mu.Lock()
	r.snap.StrategyUse[s]++
	r.mu.Unlock()
}

// RecordExecution counts a terminal swap outcome.
func (r *Registry) RecordExecution(success bool) {
	r.mu.Lock()
	if success {
		r.snap.ExecutionsSucceeded++
	} else {
		r.snap.ExecutionsFailed++
	}
	r.mu.Unlock()

	result := "success"
	if !success {
		result = "failure"
	}
	r.promExecutions.WithLabelValues(result).Inc()
}

// RecordSwapRetry counts one swap retry attempt.
func (r *Registry) RecordSwapRetry() {
	r.mu.Lock()
	r.snap.SwapRetries++
	r.mu.Unlock()
}

// RecordCollectionTime accumulates one order's quote collection duration.
func (r *Registry) RecordCollectionTime(d time.Duration) {
	r.mu.Lock()
	r.snap.CollectionCount++
	r.snap.CollectionTimeTotal += d
	r.mu.Unlock()
	r.promCollection.Observe(d.Seconds())
}

// Snapshot returns a copy of the current counters with derived means filled in.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.snap
	out.VenueQuotes = make(map[string]VenueCounters, len(r.snap.VenueQuotes))
	for k, v := range r.snap.VenueQuotes {
		out.VenueQuotes[k] = v
	}
	out.StrategyUse = make(map[types.RoutingStrategy]int64, len(r.snap.StrategyUse))
	for k, v := range r.snap.StrategyUse {
		out.StrategyUse[k] = v
	}
	if out.CollectionCount > 0 {
		out.MeanCollectionTimeMs = float64(out.CollectionTimeTotal.Milliseconds()) / float64(out.CollectionCount)
	}
	return out
}

// Save persists the snapshot to path via atomic rename, so a crash mid-write
// never corrupts the file.
func (r *Registry) Save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}
	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores previously saved counters. A missing file is not an error.
// Prometheus collectors are not replayed; they restart from zero.
func (r *Registry) Load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read stats: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal stats: %w", err)
	}
	if snap.VenueQuotes == nil {
		snap.VenueQuotes = make(map[string]VenueCounters)
	}
	if snap.StrategyUse == nil {
		snap.StrategyUse = make(map[types.RoutingStrategy]int64)
	}
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return nil
}
