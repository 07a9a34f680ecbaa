package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"swap-router/internal/cache"
	"swap-router/internal/config"
	"swap-router/internal/engine"
	"swap-router/internal/events"
	"swap-router/internal/queue"
	"swap-router/internal/routing"
	"swap-router/internal/stats"
	"swap-router/internal/store"
	"swap-router/internal/venue"
	"swap-router/internal/worker"
	"swap-router/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestServer stands up the whole engine on memory backends behind an
// httptest server: simulator venues, per-venue workers, real scheduler.
func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	venues := []string{"raydium", "meteora", "orca", "jupiter"}
	logger := testLogger()
	repo := store.NewMemory()
	bus := events.NewBus()
	registry := stats.NewRegistry(prometheus.NewRegistry())
	monitor := venue.NewMonitor(config.MonitorConfig{Interval: time.Minute, FailureLimit: 100, Cooldown: time.Minute}, venues, logger)
	hub := routing.NewHub(config.RoutingConfig{SlippageWarn: 0.10, LiquidityWarn: 1000, SpeedRank: map[string]int{"jupiter": 4, "raydium": 3, "orca": 2, "meteora": 1}}, logger)
	client := venue.NewSimulator(config.SimulatorConfig{BaseReserveIn: 1_000_000, BaseReserveOut: 5_000_000})

	workerCfg := config.WorkerConfig{
		Concurrency: 4, RateLimit: 1000, RatePeriod: time.Second,
		QuoteRetries: 2, QuoteBackoff: time.Millisecond,
		SwapRetries: 2, SwapBackoff: time.Millisecond,
	}
	queues := make(map[string]queue.Queue, len(venues))
	for _, v := range venues {
		queues[v] = queue.NewMemory(v, 32)
	}

	scheduler := engine.NewScheduler(
		config.SchedulerConfig{QuoteDeadline: 5 * time.Second, MinQuotes: 2},
		workerCfg, venues, queues, hub, bus, repo, cache.Noop{}, registry, monitor, logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	workers := make([]*worker.Worker, 0, len(venues))
	for _, v := range venues {
		w := worker.New(v, workerCfg, queues[v], client, scheduler, bus, repo, logger)
		workers = append(workers, w)
		go w.Run(ctx)
	}

	promReg := prometheus.NewRegistry()
	handlers := NewHandlers(repo, cache.Noop{}, scheduler, registry, bus, monitor, venues, logger)
	server := NewServer(config.ServerConfig{Port: 0}, handlers, promReg, logger)
	ts := httptest.NewServer(server.server.Handler)

	t.Cleanup(func() {
		ts.Close()
		scheduler.Stop()
		cancel()
		for _, w := range workers {
			w.Drain()
		}
		for _, q := range queues {
			q.Close()
		}
		bus.Close()
	})
	return ts, repo
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func waitForStatus(t *testing.T, repo *store.Memory, id string, want types.OrderStatus) *types.Order {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		order, err := repo.GetOrderByID(context.Background(), id)
		if err == nil && order.Status == want {
			return order
		}
		time.Sleep(10 * time.Millisecond)
	}
	order, _ := repo.GetOrderByID(context.Background(), id)
	t.Fatalf("order %s never reached %s (last: %+v)", id, want, order)
	return nil
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/orders", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/orders", types.OrderRequest{TokenIn: "SOL", TokenOut: "SOL", AmountIn: 100})
	var body map[string]string
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("same tokens: status = %d, want 400", resp.StatusCode)
	}
	if body["kind"] != string(types.KindValidation) {
		t.Errorf("kind = %s, want validation", body["kind"])
	}
}

func TestCreateOrderFullLifecycle(t *testing.T) {
	t.Parallel()
	ts, repo := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/orders", types.OrderRequest{
		TokenIn:         "SOL",
		TokenOut:        "USDC",
		AmountIn:        100,
		RoutingStrategy: types.StrategyBestPrice,
	})
	var created struct {
		Order     types.Order `json:"order"`
		StreamURL string      `json:"streamUrl"`
	}
	decode(t, resp, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if created.Order.ID == "" {
		t.Fatal("order id must be assigned")
	}
	if created.StreamURL != "/ws?orderId="+created.Order.ID {
		t.Errorf("streamUrl = %s", created.StreamURL)
	}

	final := waitForStatus(t, repo, created.Order.ID, types.StatusConfirmed)
	if final.SelectedVenue == "" || final.TxHash == "" {
		t.Errorf("confirmed order incomplete: %+v", final)
	}

	// The order is visible through the API with its terminal state.
	getResp, err := http.Get(ts.URL + "/api/orders/" + created.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	var got types.Order
	decode(t, getResp, &got)
	if got.Status != types.StatusConfirmed {
		t.Errorf("GET status = %s, want confirmed", got.Status)
	}

	var list struct {
		Orders []types.Order `json:"orders"`
		Count  int           `json:"count"`
	}
	listResp, err := http.Get(ts.URL + "/api/orders?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	decode(t, listResp, &list)
	if list.Count != 1 {
		t.Errorf("list count = %d, want 1", list.Count)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/orders/no-such-order")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExecuteAndCancelEndpoints(t *testing.T) {
	t.Parallel()
	ts, repo := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/orders/nope/execute", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("execute unknown: status = %d, want 404", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/api/orders/nope/cancel", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel unknown: status = %d, want 404", resp.StatusCode)
	}

	// Manual execution path end to end.
	auto := false
	resp = postJSON(t, ts.URL+"/api/orders", types.OrderRequest{
		TokenIn: "SOL", TokenOut: "USDC", AmountIn: 100, AutoExecute: &auto,
	})
	var created struct {
		Order types.Order `json:"order"`
	}
	decode(t, resp, &created)

	// Wait for route selection, then execute.
	deadline := time.Now().Add(5 * time.Second)
	for {
		order, err := repo.GetOrderByID(context.Background(), created.Order.ID)
		if err == nil && order.SelectedVenue != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("route never selected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = postJSON(t, ts.URL+"/api/orders/"+created.Order.ID+"/execute", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("execute: status = %d, want 202", resp.StatusCode)
	}
	waitForStatus(t, repo, created.Order.ID, types.StatusConfirmed)

	// Executing a finished order is rejected.
	resp = postJSON(t, ts.URL+"/api/orders/"+created.Order.ID+"/execute", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("execute terminal: status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndStats(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	decode(t, resp, &health)
	if health["status"] != "ok" {
		t.Errorf("health = %+v", health)
	}
	venues, ok := health["venues"].(map[string]any)
	if !ok || len(venues) != 4 {
		t.Errorf("venues = %+v, want 4 entries", health["venues"])
	}

	statsResp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	var snap stats.Snapshot
	decode(t, statsResp, &snap)

	metricsResp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("metrics: status = %d, want 200", metricsResp.StatusCode)
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestWebSocketUnknownOrder(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws?orderId=ghost"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var evt types.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatal(err)
	}
	if evt.Status != types.EventError {
		t.Errorf("status = %s, want error", evt.Status)
	}
	if evt.Kind != types.KindNotFound {
		t.Errorf("kind = %s, want not_found", evt.Kind)
	}
	if evt.Message == "" {
		t.Error("error frame must carry a human-readable message")
	}
}

func TestWebSocketTerminalReplay(t *testing.T) {
	t.Parallel()
	ts, repo := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/orders", types.OrderRequest{TokenIn: "SOL", TokenOut: "USDC", AmountIn: 100})
	var created struct {
		Order types.Order `json:"order"`
	}
	decode(t, resp, &created)
	final := waitForStatus(t, repo, created.Order.ID, types.StatusConfirmed)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, fmt.Sprintf("/ws?orderId=%s", created.Order.ID)), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var evt types.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatal(err)
	}
	if evt.Status != types.EventConfirmed {
		t.Errorf("status = %s, want confirmed", evt.Status)
	}
	if evt.TxHash != final.TxHash {
		t.Errorf("txHash = %s, want %s", evt.TxHash, final.TxHash)
	}
}
