package stats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"swap-router/pkg/types"
)

func TestRegistryCounters(t *testing.T) {
	t.Parallel()

	r := NewRegistry(prometheus.NewRegistry())

	r.RecordOrder()
	r.RecordOrder()
	r.RecordQuote("raydium", true)
	r.RecordQuote("raydium", true)
	r.RecordQuote("orca", false)
	r.RecordStrategy(types.StrategyBestPrice)
	r.RecordStrategy(types.StrategyBestPrice)
	r.RecordStrategy(types.StrategyLowestSlippage)
	r.RecordExecution(true)
	r.RecordExecution(false)
	r.RecordSwapRetry()
	r.RecordCollectionTime(100 * time.Millisecond)
	r.RecordCollectionTime(300 * time.Millisecond)

	snap := r.Snapshot()
	if snap.TotalOrders != 2 {
		t.Errorf("TotalOrders = %d, want 2", snap.TotalOrders)
	}
	if snap.QuotesCollected != 2 || snap.QuotesFailed != 1 {
		t.Errorf("quotes = %d/%d, want 2 collected 1 failed", snap.QuotesCollected, snap.QuotesFailed)
	}
	if vc := snap.VenueQuotes["raydium"]; vc.Success != 2 || vc.Failure != 0 {
		t.Errorf("raydium counters = %+v", vc)
	}
	if vc := snap.VenueQuotes["orca"]; vc.Failure != 1 {
		t.Errorf("orca counters = %+v", vc)
	}
	if snap.StrategyUse[types.StrategyBestPrice] != 2 {
		t.Errorf("BEST_PRICE use = %d, want 2", snap.StrategyUse[types.StrategyBestPrice])
	}
	if snap.ExecutionsSucceeded != 1 || snap.ExecutionsFailed != 1 {
		t.Errorf("executions = %d/%d, want 1/1", snap.ExecutionsSucceeded, snap.ExecutionsFailed)
	}
	if snap.SwapRetries != 1 {
		t.Errorf("SwapRetries = %d, want 1", snap.SwapRetries)
	}
	if snap.MeanCollectionTimeMs != 200 {
		t.Errorf("MeanCollectionTimeMs = %f, want 200", snap.MeanCollectionTimeMs)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	r := NewRegistry(prometheus.NewRegistry())
	r.RecordQuote("raydium", true)

	snap := r.Snapshot()
	snap.VenueQuotes["raydium"] = VenueCounters{Success: 99}
	snap.StrategyUse[types.StrategyBestPrice] = 99

	fresh := r.Snapshot()
	if fresh.VenueQuotes["raydium"].Success != 1 {
		t.Error("snapshot maps must not alias registry state")
	}
	if fresh.StrategyUse[types.StrategyBestPrice] != 0 {
		t.Error("snapshot maps must not alias registry state")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "stats.json")

	r := NewRegistry(prometheus.NewRegistry())
	r.RecordOrder()
	r.RecordQuote("jupiter", true)
	r.RecordExecution(true)
	if err := r.Save(path); err != nil {
		t.Fatal(err)
	}

	restored := NewRegistry(prometheus.NewRegistry())
	if err := restored.Load(path); err != nil {
		t.Fatal(err)
	}
	snap := restored.Snapshot()
	if snap.TotalOrders != 1 || snap.ExecutionsSucceeded != 1 {
		t.Errorf("restored snapshot = %+v", snap)
	}
	if snap.VenueQuotes["jupiter"].Success != 1 {
		t.Errorf("restored venue counters = %+v", snap.VenueQuotes)
	}
}

func TestLoadMissingFileIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRegistry(prometheus.NewRegistry())
	if err := r.Load(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Errorf("missing stats file must not error: %v", err)
	}
	if err := r.Load(""); err != nil {
		t.Errorf("empty path must not error: %v", err)
	}
}
