package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol is
// stored at "price:{SYMBOL}" with the decimal fields as strings and the
// event/arrival times as Unix nanoseconds. Keys expire after ttl so a dead
// ingester does not leave prices that look live.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps keys forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.rdb, ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + domain.NormalizeSymbol(symbol)
}

// SetPrice stores the latest sample for its symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, sample domain.PriceSample) error {
	key := priceKey(sample.Symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeSample(sample))
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", sample.Symbol, err)
	}
	return nil
}

// GetPrice returns the cached sample for symbol, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (domain.PriceSample, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	s, err := decodeSample(domain.NormalizeSymbol(symbol), vals)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	return s, nil
}

// GetPrices fetches several symbols in one pipeline. Missing or unreadable
// entries are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]domain.PriceSample, error) {
	if len(symbols) == 0 {
		return map[string]domain.PriceSample{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		sym = domain.NormalizeSymbol(sym)
		cmds[sym] = pipe.HGetAll(ctx, priceKey(sym))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]domain.PriceSample, len(cmds))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		s, err := decodeSample(sym, vals)
		if err != nil {
			continue
		}
		result[sym] = s
	}
	return result, nil
}

func encodeSample(s domain.PriceSample) map[string]interface{} {
	return map[string]interface{}{
		"price":    s.Price.String(),
		"open":     s.Open.String(),
		"high":     s.High.String(),
		"low":      s.Low.String(),
		"close":    s.Close.String(),
		"volume":   s.Volume.String(),
		"interval": s.Interval,
		"ts":       strconv.FormatInt(s.EventTime.UnixNano(), 10),
		"recv":     strconv.FormatInt(s.ReceivedAt.UnixNano(), 10),
	}
}

func decodeSample(symbol string, vals map[string]string) (domain.PriceSample, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("parse price: %w", err)
	}

	s := domain.PriceSample{
		Symbol:   symbol,
		Price:    price,
		Interval: vals["interval"],
		Open:     decimalField(vals, "open"),
		High:     decimalField(vals, "high"),
		Low:      decimalField(vals, "low"),
		Close:    decimalField(vals, "close"),
		Volume:   decimalField(vals, "volume"),
	}
	if ts, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		s.EventTime = time.Unix(0, ts).UTC()
	}
	if recv, err := strconv.ParseInt(vals["recv"], 10, 64); err == nil {
		s.ReceivedAt = time.Unix(0, recv).UTC()
	}
	return s, nil
}

func decimalField(vals map[string]string, field string) decimal.Decimal {
	d, err := decimal.NewFromString(vals[field])
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
