package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRIARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	return &cfg, nil
}

// normalize upper-cases symbols and assets so that lookups elsewhere can
// compare them directly.
func normalize(cfg *Config) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Binance.Symbols = upperAll(cfg.Binance.Symbols)
	cfg.Binance.QuoteAssets = upperAll(cfg.Binance.QuoteAssets)
	cfg.Detector.BaseCurrency = strings.ToUpper(strings.TrimSpace(cfg.Detector.BaseCurrency))
	cfg.OpLog.Policy = strings.ToLower(strings.TrimSpace(cfg.OpLog.Policy))
	cfg.Scanner.Source = strings.ToLower(strings.TrimSpace(cfg.Scanner.Source))
	if cfg.Scanner.Source == "" {
		cfg.Scanner.Source = "rest"
	}
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// applyEnvOverrides reads well-known TRIARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.WsURL, "TRIARB_BINANCE_WS_URL")
	setStr(&cfg.Binance.RestURL, "TRIARB_BINANCE_REST_URL")
	setStr(&cfg.Binance.Interval, "TRIARB_BINANCE_INTERVAL")
	setStringSlice(&cfg.Binance.Symbols, "TRIARB_BINANCE_SYMBOLS")
	setStringSlice(&cfg.Binance.QuoteAssets, "TRIARB_BINANCE_QUOTE_ASSETS")

	// ── Stream ──
	setDuration(&cfg.Stream.InitialBackoff, "TRIARB_STREAM_INITIAL_BACKOFF")
	setDuration(&cfg.Stream.MaxBackoff, "TRIARB_STREAM_MAX_BACKOFF")
	setFloat64(&cfg.Stream.Jitter, "TRIARB_STREAM_JITTER")
	setInt(&cfg.Stream.MaxConsecutiveFailures, "TRIARB_STREAM_MAX_CONSECUTIVE_FAILURES")
	setDuration(&cfg.Stream.HandshakeTimeout, "TRIARB_STREAM_HANDSHAKE_TIMEOUT")
	setInt(&cfg.Stream.TapBuffer, "TRIARB_STREAM_TAP_BUFFER")

	// ── Detector ──
	setStr(&cfg.Detector.BaseCurrency, "TRIARB_DETECTOR_BASE_CURRENCY")
	setFloat64(&cfg.Detector.MinProfitPct, "TRIARB_DETECTOR_MIN_PROFIT_PCT")
	setFloat64(&cfg.Detector.Epsilon, "TRIARB_DETECTOR_EPSILON")
	setInt(&cfg.Detector.MaxCycleLength, "TRIARB_DETECTOR_MAX_CYCLE_LENGTH")
	setStr(&cfg.Detector.Strategy, "TRIARB_DETECTOR_STRATEGY")
	setDuration(&cfg.Detector.Interval, "TRIARB_DETECTOR_INTERVAL")
	setInt(&cfg.Detector.TriggerEveryTicks, "TRIARB_DETECTOR_TRIGGER_EVERY_TICKS")
	setDuration(&cfg.Detector.DedupWindow, "TRIARB_DETECTOR_DEDUP_WINDOW")
	setDuration(&cfg.Detector.MaxPriceAge, "TRIARB_DETECTOR_MAX_PRICE_AGE")
	setFloat64(&cfg.Detector.FeePct, "TRIARB_DETECTOR_FEE_PCT")
	setFloat64(&cfg.Detector.SlippagePct, "TRIARB_DETECTOR_SLIPPAGE_PCT")

	// ── Opportunity log / history / scanner ──
	setInt(&cfg.OpLog.Capacity, "TRIARB_OPLOG_CAPACITY")
	setStr(&cfg.OpLog.Policy, "TRIARB_OPLOG_POLICY")
	setInt(&cfg.History.Size, "TRIARB_HISTORY_SIZE")
	setBool(&cfg.Scanner.Enabled, "TRIARB_SCANNER_ENABLED")
	setInt(&cfg.Scanner.TopPairs, "TRIARB_SCANNER_TOP_PAIRS")
	setDuration(&cfg.Scanner.RescanInterval, "TRIARB_SCANNER_RESCAN_INTERVAL")
	setStr(&cfg.Scanner.Source, "TRIARB_SCANNER_SOURCE")
	setDuration(&cfg.Scanner.StreamWindow, "TRIARB_SCANNER_STREAM_WINDOW")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRIARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRIARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRIARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRIARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRIARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRIARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRIARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRIARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRIARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRIARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRIARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRIARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRIARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRIARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRIARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRIARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRIARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRIARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRIARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRIARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRIARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRIARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRIARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRIARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRIARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRIARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setStr(&cfg.Archive.Cron, "TRIARB_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "TRIARB_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.DeleteAfter, "TRIARB_ARCHIVE_DELETE_AFTER")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRIARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRIARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRIARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TRIARB_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "TRIARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TRIARB_SERVER_RATE_WINDOW")
	setInt(&cfg.Server.MaxOpportunities, "TRIARB_SERVER_MAX_OPPORTUNITIES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRIARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRIARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRIARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setFloat64(&cfg.Notify.MinProfitPct, "TRIARB_NOTIFY_MIN_PROFIT_PCT")
	setStringSlice(&cfg.Notify.Events, "TRIARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRIARB_MODE")
	setStr(&cfg.LogLevel, "TRIARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
