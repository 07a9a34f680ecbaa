package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"swap-router/internal/config"
	"swap-router/internal/events"
	"swap-router/internal/queue"
	"swap-router/internal/store"
	"swap-router/pkg/types"
)

func testWorkerCfg() config.WorkerConfig {
	return config.WorkerConfig{
		Concurrency:  2,
		RateLimit:    1000,
		RatePeriod:   time.Second,
		QuoteRetries: 3,
		QuoteBackoff: time.Millisecond,
		SwapRetries:  2,
		SwapBackoff:  time.Millisecond,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptClient returns canned results per call number (1-based).
type scriptClient struct {
	mu         sync.Mutex
	quoteCalls int
	swapCalls  int
	quote      func(call int) (*types.Quote, error)
	swap       func(call int) (*types.SwapResult, error)
}

func (c *scriptClient) GetQuote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn float64) (*types.Quote, error) {
	c.mu.Lock()
	c.quoteCalls++
	n := c.quoteCalls
	c.mu.Unlock()
	return c.quote(n)
}

func (c *scriptClient) ExecuteSwap(ctx context.Context, venue, tokenIn, tokenOut string, amountIn float64) (*types.SwapResult, error) {
	c.mu.Lock()
	c.swapCalls++
	n := c.swapCalls
	c.mu.Unlock()
	return c.swap(n)
}

// sinkRecorder funnels ResultSink callbacks into channels the test can wait on.
type sinkRecorder struct {
	quoteOK  chan types.Quote
	quoteErr chan error
	swapOK   chan *types.SwapResult
	swapErr  chan error
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{
		quoteOK:  make(chan types.Quote, 8),
		quoteErr: make(chan error, 8),
		swapOK:   make(chan *types.SwapResult, 8),
		swapErr:  make(chan error, 8),
	}
}

func (s *sinkRecorder) OnQuoteCompleted(orderID, venue string, quote types.Quote) { s.quoteOK <- quote }
func (s *sinkRecorder) OnQuoteFailed(orderID, venue string, err error)            { s.quoteErr <- err }
func (s *sinkRecorder) OnSwapCompleted(orderID string, attempts int, result *types.SwapResult) {
	s.swapOK <- result
}
func (s *sinkRecorder) OnSwapFailed(orderID string, attempts int, err error) { s.swapErr <- err }

type fixture struct {
	worker *Worker
	queue  *queue.Memory
	sink   *sinkRecorder
	repo   *store.Memory
	bus    *events.Bus
	cancel context.CancelFunc
}

func startWorker(t *testing.T, client *scriptClient) *fixture {
	t.Helper()
	q := queue.NewMemory("raydium", 32)
	sink := newSinkRecorder()
	repo := store.NewMemory()
	bus := events.NewBus()

	w := New("raydium", testWorkerCfg(), q, client, sink, bus, repo, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	t.Cleanup(func() {
		cancel()
		w.Drain()
		q.Close()
		bus.Close()
	})
	return &fixture{worker: w, queue: q, sink: sink, repo: repo, bus: bus, cancel: cancel}
}

func quoteJob(max int) *queue.Job {
	return &queue.Job{
		ID:          "job-1",
		Type:        queue.JobQuote,
		Venue:       "raydium",
		OrderID:     "order-1",
		TokenIn:     "SOL",
		TokenOut:    "USDC",
		AmountIn:    100,
		MaxAttempts: max,
		Backoff:     time.Millisecond,
	}
}

func swapJob(max int) *queue.Job {
	j := quoteJob(max)
	j.Type = queue.JobSwap
	return j
}

func waitQuote(t *testing.T, f *fixture) types.Quote {
	t.Helper()
	select {
	case q := <-f.sink.quoteOK:
		return q
	case err := <-f.sink.quoteErr:
		t.Fatalf("unexpected quote failure: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quote result")
	}
	return types.Quote{}
}

func TestWorkerQuoteSuccess(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		quote: func(int) (*types.Quote, error) {
			return &types.Quote{Venue: "raydium", Price: 10, EstimatedOutput: 1000, Slippage: 0.01, Liquidity: 5000}, nil
		},
	}
	f := startWorker(t, client)

	if err := f.queue.Enqueue(context.Background(), quoteJob(3)); err != nil {
		t.Fatal(err)
	}
	got := waitQuote(t, f)
	if got.EstimatedOutput != 1000 {
		t.Errorf("quote output = %f, want 1000", got.EstimatedOutput)
	}
	if client.quoteCalls != 1 {
		t.Errorf("client called %d times, want 1", client.quoteCalls)
	}
}

func TestWorkerQuoteRetriesTransient(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		quote: func(call int) (*types.Quote, error) {
			if call < 3 {
				return nil, types.NewError(types.KindVenueTransient, "rate limited")
			}
			return &types.Quote{Venue: "raydium", Price: 10, EstimatedOutput: 900, Slippage: 0.01, Liquidity: 5000}, nil
		},
	}
	f := startWorker(t, client)

	if err := f.queue.Enqueue(context.Background(), quoteJob(3)); err != nil {
		t.Fatal(err)
	}
	got := waitQuote(t, f)
	if got.EstimatedOutput != 900 {
		t.Errorf("quote output = %f, want 900", got.EstimatedOutput)
	}
	if client.quoteCalls != 3 {
		t.Errorf("client called %d times, want 3", client.quoteCalls)
	}
}

func TestWorkerQuoteExhaustsRetries(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		quote: func(int) (*types.Quote, error) {
			return nil, types.NewError(types.KindVenueTransient, "venue down")
		},
	}
	f := startWorker(t, client)

	if err := f.queue.Enqueue(context.Background(), quoteJob(2)); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-f.sink.quoteErr:
		if types.KindOf(err) != types.KindVenueTransient {
			t.Errorf("kind = %s, want venue_transient", types.KindOf(err))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal quote failure")
	}
	if client.quoteCalls != 2 {
		t.Errorf("client called %d times, want 2", client.quoteCalls)
	}
}

func TestWorkerQuotePermanentFailsImmediately(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		quote: func(int) (*types.Quote, error) {
			return nil, types.NewError(types.KindVenuePermanent, "unsupported pair")
		},
	}
	f := startWorker(t, client)

	if err := f.queue.Enqueue(context.Background(), quoteJob(3)); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-f.sink.quoteErr:
		if types.KindOf(err) != types.KindVenuePermanent {
			t.Errorf("kind = %s, want venue_permanent", types.KindOf(err))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quote failure")
	}
	if client.quoteCalls != 1 {
		t.Errorf("permanent error must not retry: %d calls", client.quoteCalls)
	}
}

func TestWorkerSwapHappyPath(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		swap: func(int) (*types.SwapResult, error) {
			return &types.SwapResult{Venue: "raydium", TxHash: "0xdead", AmountOut: 990, ExecutedPrice: 9.9}, nil
		},
	}
	f := startWorker(t, client)

	ctx := context.Background()
	if err := f.repo.CreateOrder(ctx, &types.Order{ID: "order-1", TokenIn: "SOL", TokenOut: "USDC", AmountIn: 100, Status: types.StatusProcessing}); err != nil {
		t.Fatal(err)
	}

	stream, cancel := f.bus.Subscribe("order-1", 16)
	defer cancel()

	if err := f.queue.Enqueue(ctx, swapJob(2)); err != nil {
		t.Fatal(err)
	}

	select {
	case result := <-f.sink.swapOK:
		if result.TxHash != "0xdead" {
			t.Errorf("tx hash = %s", result.TxHash)
		}
	case err := <-f.sink.swapErr:
		t.Fatalf("unexpected swap failure: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for swap result")
	}

	want := []types.EventStatus{types.EventBuilding, types.EventSubmitted, types.EventConfirmed}
	for _, status := range want {
		select {
		case evt := <-stream:
			if evt.Status != status {
				t.Errorf("event = %s, want %s", evt.Status, status)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", status)
		}
	}

	order, err := f.repo.GetOrderByID(ctx, "order-1")
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != types.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", order.Status)
	}
	if order.TxHash != "0xdead" || order.AmountOut != 990 || order.Retries != 0 {
		t.Errorf("unexpected order: %+v", order)
	}
}

func TestWorkerSwapFramesCarryRequiredFields(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		swap: func(int) (*types.SwapResult, error) {
			return &types.SwapResult{Venue: "raydium", TxHash: "0xcafe", AmountOut: 995, ExecutedPrice: 9.95}, nil
		},
	}
	f := startWorker(t, client)

	ctx := context.Background()
	if err := f.repo.CreateOrder(ctx, &types.Order{ID: "order-1", TokenIn: "SOL", TokenOut: "USDC", AmountIn: 100, Status: types.StatusProcessing}); err != nil {
		t.Fatal(err)
	}
	stream, cancel := f.bus.Subscribe("order-1", 16)
	defer cancel()

	if err := f.queue.Enqueue(ctx, swapJob(2)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-f.sink.swapOK:
	case err := <-f.sink.swapErr:
		t.Fatalf("unexpected swap failure: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for swap result")
	}

	// The wire contract per status: building and submitted carry dex and
	// stage, submitted and confirmed carry txHash, confirmed carries the
	// execution outcome. Check the marshaled frames, not the struct, since
	// omitempty drops unset fields from the wire.
	required := map[types.EventStatus][]string{
		types.EventBuilding:  {"dex", "stage"},
		types.EventSubmitted: {"dex", "stage", "txHash"},
		types.EventConfirmed: {"dex", "txHash", "amountOut", "executedPrice"},
	}
	for _, status := range []types.EventStatus{types.EventBuilding, types.EventSubmitted, types.EventConfirmed} {
		var evt types.Event
		select {
		case evt = <-stream:
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", status)
		}
		if evt.Status != status {
			t.Fatalf("event = %s, want %s", evt.Status, status)
		}

		data, err := json.Marshal(evt)
		if err != nil {
			t.Fatal(err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatal(err)
		}
		for _, field := range required[status] {
			if _, ok := frame[field]; !ok {
				t.Errorf("%s frame missing %q: %s", status, field, data)
			}
		}
	}
}

func TestWorkerSwapRetryThenConfirm(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		swap: func(call int) (*types.SwapResult, error) {
			if call == 1 {
				return nil, types.NewError(types.KindVenueTransient, "blockhash expired")
			}
			return &types.SwapResult{Venue: "raydium", TxHash: "0xbeef", AmountOut: 980, ExecutedPrice: 9.8}, nil
		},
	}
	f := startWorker(t, client)

	ctx := context.Background()
	if err := f.repo.CreateOrder(ctx, &types.Order{ID: "order-1", TokenIn: "SOL", TokenOut: "USDC", AmountIn: 100, Status: types.StatusProcessing}); err != nil {
		t.Fatal(err)
	}
	stream, cancel := f.bus.Subscribe("order-1", 16)
	defer cancel()

	if err := f.queue.Enqueue(ctx, swapJob(2)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-f.sink.swapOK:
	case err := <-f.sink.swapErr:
		t.Fatalf("unexpected swap failure: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for swap result")
	}
	if client.swapCalls != 2 {
		t.Errorf("swap called %d times, want 2", client.swapCalls)
	}

	// One building event per attempt, then the submit/confirm pair.
	want := []types.EventStatus{types.EventBuilding, types.EventBuilding, types.EventSubmitted, types.EventConfirmed}
	for i, status := range want {
		select {
		case evt := <-stream:
			if evt.Status != status {
				t.Errorf("event %d = %s, want %s", i, evt.Status, status)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d (%s)", i, status)
		}
	}

	order, _ := f.repo.GetOrderByID(ctx, "order-1")
	if order.Retries != 1 {
		t.Errorf("retries = %d, want 1", order.Retries)
	}
}

func TestWorkerSwapExhaustsRetries(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		swap: func(int) (*types.SwapResult, error) {
			return nil, types.NewError(types.KindVenueTransient, "congestion")
		},
	}
	f := startWorker(t, client)

	ctx := context.Background()
	if err := f.repo.CreateOrder(ctx, &types.Order{ID: "order-1", TokenIn: "SOL", TokenOut: "USDC", AmountIn: 100, Status: types.StatusProcessing}); err != nil {
		t.Fatal(err)
	}

	if err := f.queue.Enqueue(ctx, swapJob(2)); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-f.sink.swapErr:
		if !types.Retryable(err) {
			t.Errorf("expected the transient error to surface, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for swap failure")
	}
	if client.swapCalls != 2 {
		t.Errorf("swap called %d times, want 2", client.swapCalls)
	}
}

func TestTokenBucketThrottles(t *testing.T) {
	t.Parallel()

	// 2 tokens of burst, then 20 per second.
	tb := NewTokenBucket(2, 100*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("burst should not block, took %v", elapsed)
	}

	if err := tb.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("third acquire should wait for refill, took %v", elapsed)
	}
}

func TestTokenBucketHonorsContext(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, time.Hour)
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(cctx); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}
