// Swap Router — an order execution engine that routes token swap orders
// across DEX venues.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	engine/scheduler.go  — quote fan-out, collection deadline, route selection, swap dispatch
//	engine/collection.go — per-order quote collection state, one logical writer per order
//	routing/hub.go       — scores competing quotes under four routing strategies
//	worker/worker.go     — per-venue queue consumer: rate limit, retry policy, swap stages
//	queue/               — per-venue job queues (in-memory, or Redis for durability)
//	venue/simulator.go   — constant-product AMM simulator standing in for live venues
//	venue/remote.go      — HTTP gateway client for a real venue aggregator service
//	venue/monitor.go     — per-venue health tracking; unhealthy venues leave the fan-out set
//	store/               — order repository (in-memory, or Postgres via sqlx)
//	cache/               — Redis active-order cache in front of the repository
//	stats/               — cumulative counters, Prometheus mirror, JSON persistence
//	events/              — in-process event bus feeding per-order WebSocket streams
//	api/                 — HTTP/WebSocket API: submit, query, execute, cancel, stream
//
// Order lifecycle:
//
//	A submitted order fans out one quote request per healthy venue. Quotes are
//	collected until every venue answers or the deadline passes; the routing hub
//	then picks the winning venue under the order's strategy, and the swap is
//	enqueued to that venue's worker. Clients follow the whole lifecycle over a
//	WebSocket stream keyed by order id.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"swap-router/internal/api"
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
)

const queueCapacity = 1024

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SWAP_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis backs the active-order cache and the durable queues when configured.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
	}

	var activeOrders cache.ActiveOrders = cache.Noop{}
	if rdb != nil {
		activeOrders = cache.NewRedis(rdb)
	}

	// Order repository
	var repo store.Repository
	if cfg.Store.PostgresDSN != "" {
		pg, err := store.OpenPostgres(cfg.Store.PostgresDSN)
		if err != nil {
			logger.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		repo = pg
		logger.Info("using postgres repository")
	} else {
		repo = store.NewMemory()
		logger.Info("using in-memory repository")
	}

	// Venue client: remote gateway when configured, AMM simulator otherwise.
	var client venue.Client
	if cfg.Gateway.BaseURL != "" {
		client = venue.NewRemote(cfg.Gateway, logger)
		logger.Info("using remote venue gateway", "base_url", cfg.Gateway.BaseURL)
	} else {
		client = venue.NewSimulator(cfg.Simulator)
		logger.Info("using venue simulator")
	}

	// Per-venue queues
	queues := make(map[string]queue.Queue, len(cfg.Venues))
	for _, v := range cfg.Venues {
		if rdb != nil {
			queues[v] = queue.NewRedis(v, rdb, logger)
		} else {
			queues[v] = queue.NewMemory(v, queueCapacity)
		}
	}

	// Shared infrastructure
	promReg := prometheus.NewRegistry()
	registry := stats.NewRegistry(promReg)
	if err := registry.Load(cfg.Store.StatsFile); err != nil {
		logger.Warn("failed to load stats snapshot", "error", err)
	}

	bus := events.NewBus()
	monitor := venue.NewMonitor(cfg.Monitor, cfg.Venues, logger)
	hub := routing.NewHub(cfg.Routing, logger)

	scheduler := engine.NewScheduler(
		cfg.Scheduler, cfg.Worker, cfg.Venues, queues,
		hub, bus, repo, activeOrders, registry, monitor, logger,
	)

	// One worker per venue
	workers := make([]*worker.Worker, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		w := worker.New(v, cfg.Worker, queues[v], client, scheduler, bus, repo, logger)
		workers = append(workers, w)
		go w.Run(ctx)
	}
	go monitor.Run(ctx)

	// API server
	handlers := api.NewHandlers(repo, activeOrders, scheduler, registry, bus, monitor, cfg.Venues, logger)
	server := api.NewServer(cfg.Server, handlers, promReg, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("swap router started",
		"venues", cfg.Venues,
		"quote_deadline", cfg.Scheduler.QuoteDeadline,
		"url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Shutdown order: stop intake, stop the API, drain workers, then close
	// the stores so nothing writes after them.
	scheduler.Stop()
	if err := server.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	cancel()
	for _, w := range workers {
		w.Drain()
	}
	for _, q := range queues {
		q.Close()
	}
	bus.Close()

	if err := registry.Save(cfg.Store.StatsFile); err != nil {
		logger.Error("failed to save stats snapshot", "error", err)
	}
	if err := repo.Close(); err != nil {
		logger.Error("failed to close repository", "error", err)
	}
	if err := activeOrders.Close(); err != nil {
		logger.Error("failed to close cache", "error", err)
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
