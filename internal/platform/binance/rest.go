package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// DefaultRESTURL is the spot REST API root.
const DefaultRESTURL = "https://api.binance.com"

// RESTClient is the unauthenticated market data REST client.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTClient creates a REST client rooted at baseURL, e.g.
// "https://api.binance.com".
func NewRESTClient(baseURL string) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	return &RESTClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Tickers24h returns the 24h rolling window statistics for every listed pair.
func (c *RESTClient) Tickers24h(ctx context.Context) ([]Ticker, error) {
	body, err := c.doGet(ctx, "/api/v3/ticker/24hr")
	if err != nil {
		return nil, fmt.Errorf("binance/rest: tickers: %w", err)
	}

	var raw []restTicker
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance/rest: decode tickers: %w", err)
	}

	out := make([]Ticker, 0, len(raw))
	for _, t := range raw {
		out = append(out, Ticker{
			Symbol:      domain.NormalizeSymbol(t.Symbol),
			LastPrice:   t.LastPrice,
			Volume:      t.Volume,
			QuoteVolume: t.QuoteVolume,
		})
	}
	return out, nil
}

func (c *RESTClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests, 418:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
