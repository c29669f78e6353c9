package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// deliveryTimeout bounds one POST to a notification endpoint.
const deliveryTimeout = 10 * time.Second

// DeliveryError is a non-2xx answer from a notification endpoint. RetryAfter
// is set when the provider asked the caller to slow down.
type DeliveryError struct {
	Sender     string
	Status     int
	Detail     string
	RetryAfter time.Duration
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Sender, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// errorParser pulls a readable detail and a retry hint out of a provider's
// error body. Either may be zero.
type errorParser func(body []byte) (detail string, retryAfter time.Duration)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: deliveryTimeout}
}

// postJSON sends payload to url. A non-2xx reply becomes a *DeliveryError,
// falling back to the raw body and the Retry-After header when parse finds
// nothing.
func postJSON(ctx context.Context, client *http.Client, sender, url string, payload any, parse errorParser) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", sender, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", sender, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send: %w", sender, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	de := &DeliveryError{Sender: sender, Status: resp.StatusCode}
	if parse != nil {
		de.Detail, de.RetryAfter = parse(raw)
	}
	if de.Detail == "" {
		de.Detail = strings.TrimSpace(string(raw))
	}
	if de.RetryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			de.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return de
}

// truncateRunes cuts s to at most n runes, the last being an ellipsis when
// anything was dropped.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
