// Package redis backs the latest-price mirror, the event bus, the ingest
// lease and the API rate limiter with go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName         = "triarb"
	defaultDialTimeout = 5 * time.Second
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// DialTimeout bounds connecting and the startup ping. Defaults to 5s.
	DialTimeout time.Duration
}

// Client owns the connection pool shared by PriceCache, SignalBus,
// LockManager and RateLimiter.
type Client struct {
	rdb    *redis.Client
	addr   string
	logger *slog.Logger
}

// New connects to Redis and fails unless the server answers a ping within
// DialTimeout.
func New(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	c := &Client{rdb: rdb, addr: cfg.Addr, logger: logger.With(slog.String("component", "redis"))}
	c.logger.InfoContext(ctx, "redis connected",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.Bool("tls", cfg.TLSEnabled),
	)
	return c, nil
}

// options maps cfg onto go-redis options. Commands honour their context
// deadline, which the blocking stream reads rely on.
func options(cfg ClientConfig) (*redis.Options, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is empty")
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}

	opts := &redis.Options{
		Addr:                  cfg.Addr,
		ClientName:            clientName,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		PoolSize:              cfg.PoolSize,
		MaxRetries:            cfg.MaxRetries,
		DialTimeout:           dial,
		ContextTimeoutEnabled: true,
	}
	if cfg.TLSEnabled {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis: addr %q: %w", cfg.Addr, err)
		}
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		}
	}
	return opts, nil
}

// Close drains the pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis: close %s: %w", c.addr, err)
	}
	c.logger.Info("redis closed")
	return nil
}
