package binance

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// combinedFrame is the envelope Binance wraps every event in when the
// connection was opened against /stream?streams=...
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// KlineEvent is a single kline update ("e":"kline").
type KlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     Kline  `json:"k"`
}

// Kline is the candlestick payload of a KlineEvent. Binance sends every
// numeric field as a JSON string.
type Kline struct {
	StartTime int64           `json:"t"`
	CloseTime int64           `json:"T"`
	Symbol    string          `json:"s"`
	Interval  string          `json:"i"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    decimal.Decimal `json:"v"`
	Closed    bool            `json:"x"`
}

// streamTicker is one element of the !ticker@arr stream.
type streamTicker struct {
	EventType   string          `json:"e"`
	EventTime   int64           `json:"E"`
	Symbol      string          `json:"s"`
	LastPrice   decimal.Decimal `json:"c"`
	Volume      decimal.Decimal `json:"v"`
	QuoteVolume decimal.Decimal `json:"q"`
}

// restTicker is one element of GET /api/v3/ticker/24hr.
type restTicker struct {
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quoteVolume"`
	CloseTime   int64           `json:"closeTime"`
}

// Ticker is the 24h rolling summary for one pair, used for volume ranking.
type Ticker struct {
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"last_price"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
}
