package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one decoded tick for a trading pair. It is a value type: a
// newer sample for the same symbol replaces it, it is never modified in place.
type PriceSample struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Interval   string          `json:"interval,omitempty"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	EventTime  time.Time       `json:"event_time"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NewPriceSample builds a sample with only the mandatory fields set. The
// symbol is upper-cased and the price must be strictly positive.
func NewPriceSample(symbol string, price decimal.Decimal, eventTime time.Time) (PriceSample, error) {
	s := PriceSample{
		Symbol:     NormalizeSymbol(symbol),
		Price:      price,
		Close:      price,
		EventTime:  eventTime,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return PriceSample{}, err
	}
	return s, nil
}

// Validate reports whether the sample may enter the price store.
func (s PriceSample) Validate() error {
	if s.Symbol == "" {
		return ErrInvalidSymbol
	}
	if !s.Price.IsPositive() {
		return fmt.Errorf("%s: %w", s.Symbol, ErrInvalidPrice)
	}
	return nil
}

// PriceFloat returns the price as a float64 for graph arithmetic.
func (s PriceSample) PriceFloat() float64 {
	f, _ := s.Price.Float64()
	return f
}

// Age returns how old the sample is at now, measured from the provider
// event time, falling back to the local arrival time.
func (s PriceSample) Age(now time.Time) time.Duration {
	ts := s.EventTime
	if ts.IsZero() {
		ts = s.ReceivedAt
	}
	return now.Sub(ts)
}

// NormalizeSymbol upper-cases and trims a trading pair symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
