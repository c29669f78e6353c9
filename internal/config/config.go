// Package config defines the top-level configuration for the arbitrage
// detector and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRIARB_* environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	Stream   StreamConfig   `toml:"stream"`
	Detector DetectorConfig `toml:"detector"`
	OpLog    OpLogConfig    `toml:"oplog"`
	History  HistoryConfig  `toml:"history"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds market data endpoints and the monitored universe.
type BinanceConfig struct {
	WsURL    string `toml:"ws_url"`
	RestURL  string `toml:"rest_url"`
	Interval string `toml:"interval"`
	// Symbols is the initial monitored pair list, e.g. ["BTCUSDT", "ETHBTC"].
	Symbols []string `toml:"symbols"`
	// QuoteAssets are used to split a symbol into base and quote. The longest
	// matching suffix wins.
	QuoteAssets []string `toml:"quote_assets"`
}

// StreamConfig controls reconnection of the market data stream.
type StreamConfig struct {
	InitialBackoff         duration `toml:"initial_backoff"`
	MaxBackoff             duration `toml:"max_backoff"`
	Jitter                 float64  `toml:"jitter"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	HandshakeTimeout       duration `toml:"handshake_timeout"`
	HealthyAfter           duration `toml:"healthy_after"`
	TapBuffer              int      `toml:"tap_buffer"`
}

// DetectorConfig holds cycle search parameters.
type DetectorConfig struct {
	BaseCurrency string  `toml:"base_currency"`
	MinProfitPct float64 `toml:"min_profit_pct"`
	Epsilon      float64 `toml:"epsilon"`
	// MaxCycleLength of 3 runs triangular enumeration, anything above runs
	// Bellman-Ford.
	MaxCycleLength int `toml:"max_cycle_length"`
	// Strategy forces a cycle finder by name ("triangular", "bellman_ford").
	Strategy          string   `toml:"strategy"`
	Interval          duration `toml:"interval"`
	TriggerEveryTicks int      `toml:"trigger_every_ticks"`
	DedupWindow       duration `toml:"dedup_window"`
	MaxPriceAge       duration `toml:"max_price_age"`
	FeePct            float64  `toml:"fee_pct"`
	SlippagePct       float64  `toml:"slippage_pct"`
}

// OpLogConfig sizes the in-memory opportunity log.
type OpLogConfig struct {
	Capacity int `toml:"capacity"`
	// Policy is "oldest" or "lowest_profit".
	Policy string `toml:"policy"`
}

// HistoryConfig sizes the per-symbol price history kept for the API.
type HistoryConfig struct {
	Size int `toml:"size"`
}

// ScannerConfig controls symbol selection by traded volume.
type ScannerConfig struct {
	Enabled        bool     `toml:"enabled"`
	TopPairs       int      `toml:"top_pairs"`
	RescanInterval duration `toml:"rescan_interval"`
	// Source is "rest" (GET /api/v3/ticker/24hr) or "stream" (!ticker@arr
	// collected for StreamWindow).
	Source       string   `toml:"source"`
	StreamWindow duration `toml:"stream_window"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old opportunity history to S3.
type ArchiveConfig struct {
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
	DeleteAfter   bool   `toml:"delete_after"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Port             int      `toml:"port"`
	APIKey           string   `toml:"api_key"`
	CORSOrigins      []string `toml:"cors_origins"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	MaxOpportunities int      `toml:"max_opportunities"`
	StatusInterval   duration `toml:"status_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	MinProfitPct      float64  `toml:"min_profit_pct"`
	Events            []string `toml:"events"`
}

// DefaultSymbols is the pair list used when nothing else is configured and
// when the volume scan fails.
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "SOLUSDT",
	"DOTUSDT", "AVAXUSDT", "LINKUSDT", "LTCUSDT", "XRPUSDT",
	"ETHBTC", "BNBBTC", "SOLBTC", "ADABTC", "XRPBTC",
	"LINKBTC", "LTCBTC", "BNBETH", "LINKETH", "ADAETH",
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			WsURL:       "wss://stream.binance.com:9443/stream",
			RestURL:     "https://api.binance.com",
			Interval:    "1m",
			Symbols:     append([]string(nil), DefaultSymbols...),
			QuoteAssets: []string{"USDT", "USDC", "FDUSD", "TUSD", "BUSD", "BTC", "ETH", "BNB", "EUR", "TRY"},
		},
		Stream: StreamConfig{
			InitialBackoff:         duration{5 * time.Second},
			MaxBackoff:             duration{80 * time.Second},
			Jitter:                 0.2,
			MaxConsecutiveFailures: 5,
			HandshakeTimeout:       duration{10 * time.Second},
			HealthyAfter:           duration{30 * time.Second},
			TapBuffer:              256,
		},
		Detector: DetectorConfig{
			BaseCurrency:      "USDT",
			MinProfitPct:      0.5,
			Epsilon:           1e-9,
			MaxCycleLength:    3,
			Interval:          duration{5 * time.Second},
			TriggerEveryTicks: 0,
			DedupWindow:       duration{30 * time.Second},
			MaxPriceAge:       duration{60 * time.Second},
			FeePct:            0.1,
			SlippagePct:       0.05,
		},
		OpLog: OpLogConfig{
			Capacity: 100,
			Policy:   "oldest",
		},
		History: HistoryConfig{Size: 100},
		Scanner: ScannerConfig{
			Enabled:      false,
			TopPairs:     20,
			Source:       "rest",
			StreamWindow: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "triarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "triarb-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:          "0 3 * * *",
			RetentionDays: 30,
			DeleteAfter:   true,
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8080,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			MaxOpportunities: 50,
			StatusInterval:   duration{5 * time.Second},
		},
		Notify: NotifyConfig{
			MinProfitPct: 1.0,
			Events:       []string{"opportunity", "stream_failed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect":  true,
	"serve":   true,
	"archive": true,
	"scan":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPolicies = map[string]bool{
	"oldest":        true,
	"lowest_profit": true,
}

var validScanSources = map[string]bool{
	"rest":   true,
	"stream": true,
}

var validFinders = map[string]bool{
	"":             true,
	"triangular":   true,
	"bellman_ford": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, serve, archive, scan)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Binance
	if c.Binance.WsURL == "" {
		errs = append(errs, "binance: ws_url must not be empty")
	}
	if c.Binance.Interval == "" {
		errs = append(errs, "binance: interval must not be empty")
	}
	if len(c.Binance.Symbols) == 0 && !c.Scanner.Enabled {
		errs = append(errs, "binance: symbols must not be empty unless scanner.enabled is true")
	}
	if len(c.Binance.QuoteAssets) == 0 {
		errs = append(errs, "binance: quote_assets must not be empty")
	}

	// Stream
	if c.Stream.InitialBackoff.Duration <= 0 {
		errs = append(errs, "stream: initial_backoff must be > 0")
	}
	if c.Stream.MaxBackoff.Duration < c.Stream.InitialBackoff.Duration {
		errs = append(errs, "stream: max_backoff must be >= initial_backoff")
	}
	if c.Stream.Jitter < 0 || c.Stream.Jitter > 1 {
		errs = append(errs, fmt.Sprintf("stream: jitter must be within [0, 1], got %v", c.Stream.Jitter))
	}
	if c.Stream.MaxConsecutiveFailures < 1 {
		errs = append(errs, "stream: max_consecutive_failures must be >= 1")
	}
	if c.Stream.TapBuffer < 1 {
		errs = append(errs, "stream: tap_buffer must be >= 1")
	}

	// Detector
	if c.Detector.BaseCurrency == "" {
		errs = append(errs, "detector: base_currency must not be empty")
	}
	if c.Detector.MinProfitPct < 0 {
		errs = append(errs, "detector: min_profit_pct must be >= 0")
	}
	if c.Detector.Epsilon < 0 {
		errs = append(errs, "detector: epsilon must be >= 0")
	}
	if c.Detector.MaxCycleLength < 3 {
		errs = append(errs, fmt.Sprintf("detector: max_cycle_length must be >= 3, got %d", c.Detector.MaxCycleLength))
	}
	if !validFinders[c.Detector.Strategy] {
		errs = append(errs, fmt.Sprintf("detector: unknown strategy %q (valid: triangular, bellman_ford)", c.Detector.Strategy))
	}
	if c.Detector.Strategy == "triangular" && c.Detector.MaxCycleLength != 3 {
		errs = append(errs, "detector: strategy triangular requires max_cycle_length = 3")
	}
	if c.Detector.Interval.Duration <= 0 {
		errs = append(errs, "detector: interval must be > 0")
	}
	if c.Detector.TriggerEveryTicks < 0 {
		errs = append(errs, "detector: trigger_every_ticks must be >= 0")
	}
	if c.Detector.FeePct < 0 || c.Detector.FeePct >= 100 {
		errs = append(errs, "detector: fee_pct must be within [0, 100)")
	}
	if c.Detector.SlippagePct < 0 || c.Detector.SlippagePct >= 100 {
		errs = append(errs, "detector: slippage_pct must be within [0, 100)")
	}

	// Opportunity log
	if c.OpLog.Capacity < 1 {
		errs = append(errs, "oplog: capacity must be >= 1")
	}
	if !validPolicies[c.OpLog.Policy] {
		errs = append(errs, fmt.Sprintf("oplog: unknown policy %q (valid: oldest, lowest_profit)", c.OpLog.Policy))
	}
	if c.History.Size < 1 {
		errs = append(errs, "history: size must be >= 1")
	}

	if c.Scanner.Enabled && c.Scanner.TopPairs < 3 {
		errs = append(errs, "scanner: top_pairs must be >= 3")
	}
	if !validScanSources[c.Scanner.Source] {
		errs = append(errs, fmt.Sprintf("scanner: unknown source %q (valid: rest, stream)", c.Scanner.Source))
	}

	// Postgres
	if c.Postgres.Enabled || mode == "archive" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis backs the bus and the HTTP hub in serve mode.
	if mode == "serve" && c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" && c.S3.Region == "" {
			errs = append(errs, "s3: endpoint or region must be set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if mode == "archive" {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
	}

	// Server
	if c.Server.Enabled && mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.MaxOpportunities < 1 {
			errs = append(errs, "server: max_opportunities must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
