package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
)

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func sampleOpportunity(pct float64) domain.Opportunity {
	return domain.Opportunity{
		Route:            []string{"USDT", "BTC", "ETH", "USDT"},
		Symbols:          []string{"BTCUSDT", "ETHBTC", "ETHUSDT"},
		ProfitPercentage: pct,
		Prices: map[string]decimal.Decimal{
			"ETHBTC":  decimal.RequireFromString("0.05"),
			"BTCUSDT": decimal.RequireFromString("40000"),
		},
		DetectedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventStreamFailed}, 0, nil)

	if err := n.NotifyOpportunity(context.Background(), sampleOpportunity(2)); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 0 {
		t.Fatal("filtered event was sent")
	}
	if err := n.NotifyStreamFailure(context.Background(), errors.New("budget exhausted")); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 1 {
		t.Fatalf("sent %d, want 1", len(s.titles))
	}
}

func TestNotifierMinProfit(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, 1.0, nil)

	_ = n.NotifyOpportunity(context.Background(), sampleOpportunity(0.6))
	_ = n.NotifyOpportunity(context.Background(), sampleOpportunity(1.5))
	if len(s.titles) != 1 || !strings.Contains(s.titles[0], "1.5000%") {
		t.Fatalf("titles = %v", s.titles)
	}
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("down")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, nil)

	err := n.Notify(context.Background(), EventOpportunity, "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatal("second sender skipped")
	}
}

func TestFormatOpportunity(t *testing.T) {
	msg := FormatOpportunity(sampleOpportunity(2))
	for _, want := range []string{"USDT -> BTC -> ETH -> USDT", "BTCUSDT = 40000", "ETHBTC = 0.05", "2026-01-02 03:04:05 UTC"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Index(msg, "BTCUSDT =") > strings.Index(msg, "ETHBTC =") {
		t.Error("prices not sorted")
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSenderWithAPI(srv.URL+"/", "TOKEN", "42")
	if err := s.Send(context.Background(), "Opportunity 1.2%", "USDT -> BTC_X <b>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	want := "<b>Opportunity 1.2%</b>\n<pre>USDT -&gt; BTC_X &lt;b&gt;</pre>"
	if got["chat_id"] != "42" || got["parse_mode"] != "HTML" || got["text"] != want {
		t.Errorf("payload = %v", got)
	}
}

func TestTelegramSenderRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`))
	}))
	defer srv.Close()

	err := NewTelegramSenderWithAPI(srv.URL, "T", "1").Send(context.Background(), "T", "m")
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DeliveryError", err)
	}
	if de.Sender != "telegram" || de.Status != http.StatusTooManyRequests || de.RetryAfter != 3*time.Second {
		t.Fatalf("delivery error = %+v", de)
	}
	if !strings.HasPrefix(de.Detail, "Too Many Requests") {
		t.Fatalf("detail = %q", de.Detail)
	}
}

func TestDiscordSenderTruncates(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	title := strings.Repeat("t", 300)
	if err := NewDiscordSender(srv.URL).Send(context.Background(), title, strings.Repeat("é", 5000)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d", len(got.Embeds))
	}
	e := got.Embeds[0]
	if n := utf8.RuneCountInString(e.Description); n != discordDescriptionLimit {
		t.Fatalf("description runes = %d", n)
	}
	if !strings.HasSuffix(e.Description, "…\n```") || !utf8.ValidString(e.Description) {
		t.Fatal("description not cut cleanly")
	}
	if utf8.RuneCountInString(e.Title) != discordTitleLimit {
		t.Fatalf("title runes = %d", utf8.RuneCountInString(e.Title))
	}
}

func TestDiscordSenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.5,"global":false}`))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "m")
	var de *DeliveryError
	if !errors.As(err, &de) || de.RetryAfter != 500*time.Millisecond || de.Detail != "You are being rate limited." {
		t.Fatalf("err = %v", err)
	}
}

func TestDeliveryErrorFallsBackToRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "m")
	var de *DeliveryError
	if !errors.As(err, &de) || de.Detail != "bad gateway" || de.RetryAfter != 7*time.Second {
		t.Fatalf("err = %v", err)
	}
}

func TestNotifierMutesRateLimitedSender(t *testing.T) {
	limited := &recordSender{name: "limited", err: &DeliveryError{Sender: "limited", Status: 429, RetryAfter: time.Minute}}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{limited, good}, nil, 0, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	if err := n.Notify(context.Background(), EventOpportunity, "a", "m"); err == nil {
		t.Fatal("rate limit not reported")
	}
	if err := n.Notify(context.Background(), EventOpportunity, "b", "m"); err != nil {
		t.Fatalf("muted sender still reported: %v", err)
	}
	if len(limited.titles) != 1 || len(good.titles) != 2 {
		t.Fatalf("limited=%v good=%v", limited.titles, good.titles)
	}

	now = now.Add(time.Minute)
	limited.err = nil
	if err := n.Notify(context.Background(), EventOpportunity, "c", "m"); err != nil {
		t.Fatal(err)
	}
	if len(limited.titles) != 2 {
		t.Fatalf("sender not resumed after retry hint: %v", limited.titles)
	}
}
