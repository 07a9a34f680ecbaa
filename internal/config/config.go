// Package config defines all configuration for the swap execution engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via SWAP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Venues     []string         `mapstructure:"venues"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Store      StoreConfig      `mapstructure:"store"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SchedulerConfig tunes the quote fan-out / collection pipeline.
//
//   - QuoteDeadline: how long to wait for venue quotes before the deadline
//     rule kicks in (collection proceeds early once every venue has answered).
//   - MinQuotes: minimum valid quotes required at the deadline; fewer means
//     the order fails with deadline_exceeded.
type SchedulerConfig struct {
	QuoteDeadline time.Duration `mapstructure:"quote_deadline"`
	MinQuotes     int           `mapstructure:"min_quotes"`
}

// WorkerConfig bounds each venue worker.
//
//   - Concurrency: max in-flight jobs per worker; extra jobs wait in the queue.
//   - RateLimit / RatePeriod: token-bucket refill, RateLimit jobs per RatePeriod.
//   - QuoteRetries / QuoteBackoff: attempts and exponential backoff base for quote jobs.
//   - SwapRetries / SwapBackoff: idem for swap jobs.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RatePeriod   time.Duration `mapstructure:"rate_period"`
	QuoteRetries int           `mapstructure:"quote_retries"`
	QuoteBackoff time.Duration `mapstructure:"quote_backoff"`
	SwapRetries  int           `mapstructure:"swap_retries"`
	SwapBackoff  time.Duration `mapstructure:"swap_backoff"`
}

// RoutingConfig tunes quote validation and the FASTEST_EXECUTION strategy.
// SpeedRank maps venue name to an integer rank; higher is faster. Venues
// absent from the map rank 0.
type RoutingConfig struct {
	SlippageWarn  float64        `mapstructure:"slippage_warn"`
	LiquidityWarn float64        `mapstructure:"liquidity_warn"`
	SpeedRank     map[string]int `mapstructure:"speed_rank"`
}

// SimulatorConfig seeds the AMM venue simulator. Reserves are per venue per
// token pair; Spread adds venue-specific price noise so quotes differ.
type SimulatorConfig struct {
	BaseReserveIn  float64       `mapstructure:"base_reserve_in"`
	BaseReserveOut float64       `mapstructure:"base_reserve_out"`
	FeeBps         map[string]int `mapstructure:"fee_bps"`
	MinLatency     time.Duration `mapstructure:"min_latency"`
	MaxLatency     time.Duration `mapstructure:"max_latency"`
}

// GatewayConfig points venue workers at a remote HTTP venue service instead
// of the in-process simulator. Empty BaseURL keeps the simulator.
type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MonitorConfig controls the venue health monitor.
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	FailureLimit int           `mapstructure:"failure_limit"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// StoreConfig selects the order repository backend. Empty PostgresDSN uses
// the in-memory repository. StatsFile is where the statistics registry
// persists its snapshot across restarts.
type StoreConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	StatsFile   string `mapstructure:"stats_file"`
}

// RedisConfig configures the active-order cache and the Redis queue backend.
// Empty Addr disables both in favor of in-memory equivalents.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig controls the HTTP/WebSocket API server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Venues: []string{"raydium", "meteora", "orca", "jupiter"},
		Scheduler: SchedulerConfig{
			QuoteDeadline: 10 * time.Second,
			MinQuotes:     2,
		},
		Worker: WorkerConfig{
			Concurrency:  5,
			RateLimit:    10,
			RatePeriod:   time.Second,
			QuoteRetries: 3,
			QuoteBackoff: 5 * time.Second,
			SwapRetries:  2,
			SwapBackoff:  10 * time.Second,
		},
		Routing: RoutingConfig{
			SlippageWarn:  0.10,
			LiquidityWarn: 100_000,
			SpeedRank: map[string]int{
				"jupiter": 4,
				"raydium": 3,
				"orca":    2,
				"meteora": 1,
			},
		},
		Simulator: SimulatorConfig{
			BaseReserveIn:  1_000_000,
			BaseReserveOut: 5_000_000,
			MinLatency:     20 * time.Millisecond,
			MaxLatency:     120 * time.Millisecond,
		},
		Gateway: GatewayConfig{Timeout: 5 * time.Second},
		Monitor: MonitorConfig{
			Interval:     30 * time.Second,
			FailureLimit: 5,
			Cooldown:     2 * time.Minute,
		},
		Store:   StoreConfig{StatsFile: "data/stats.json"},
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads config from a YAML file with env var overrides, layered over
// Default(). Env vars use the SWAP_ prefix: SWAP_REDIS_ADDR, SWAP_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override connection settings from env
	if addr := os.Getenv("SWAP_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if dsn := os.Getenv("SWAP_POSTGRES_DSN"); dsn != "" {
		cfg.Store.PostgresDSN = dsn
	}

	return cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("venues must list at least one venue")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, venue := range c.Venues {
		if venue == "" {
			return fmt.Errorf("venues must not contain empty names")
		}
		if seen[venue] {
			return fmt.Errorf("duplicate venue %q", venue)
		}
		seen[venue] = true
	}
	if c.Scheduler.QuoteDeadline <= 0 {
		return fmt.Errorf("scheduler.quote_deadline must be > 0")
	}
	if c.Scheduler.MinQuotes < 1 {
		return fmt.Errorf("scheduler.min_quotes must be >= 1")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.RateLimit <= 0 || c.Worker.RatePeriod <= 0 {
		return fmt.Errorf("worker.rate_limit and worker.rate_period must be > 0")
	}
	if c.Worker.QuoteRetries < 1 || c.Worker.SwapRetries < 1 {
		return fmt.Errorf("worker retry counts must be >= 1")
	}
	if c.Routing.SlippageWarn <= 0 || c.Routing.SlippageWarn > 1 {
		return fmt.Errorf("routing.slippage_warn must be in (0, 1]")
	}
	if c.Routing.LiquidityWarn < 0 {
		return fmt.Errorf("routing.liquidity_warn must be >= 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid port")
	}
	return nil
}
