package prices

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func sample(t *testing.T, symbol string, price float64) domain.PriceSample {
	t.Helper()
	s, err := domain.NewPriceSample(symbol, decimal.NewFromFloat(price), time.Now())
	if err != nil {
		t.Fatalf("new sample %s: %v", symbol, err)
	}
	return s
}

func TestSetIsLastWriteWinsByArrival(t *testing.T) {
	st := NewStore([]string{"BTCUSDT"}, "1m", 10)

	newer := sample(t, "BTCUSDT", 50000)
	older := sample(t, "BTCUSDT", 49000)
	older.EventTime = newer.EventTime.Add(-time.Minute)

	if err := st.Set(newer); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(older); err != nil {
		t.Fatal(err)
	}
	got, ok := st.Get("btcusdt")
	if !ok {
		t.Fatal("expected a sample")
	}
	if !got.Price.Equal(decimal.NewFromInt(49000)) {
		t.Fatalf("later arrival should win, got %s", got.Price)
	}
}

func TestSetRejectsInvalidAndUnmonitored(t *testing.T) {
	st := NewStore([]string{"BTCUSDT"}, "1m", 0)

	bad := domain.PriceSample{Symbol: "BTCUSDT", Price: decimal.Zero}
	if err := st.Set(bad); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Fatalf("zero price: got %v", err)
	}
	if err := st.Set(sample(t, "ETHUSDT", 3000)); !errors.Is(err, domain.ErrNotMonitored) {
		t.Fatalf("unmonitored: got %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("store should be empty, has %d", st.Len())
	}
}

func TestReplaceSymbolSetRemovesStaleEntries(t *testing.T) {
	st := NewStore([]string{"AUSDT", "BUSDT", "CUSDT"}, "1m", 5)
	for _, sym := range []string{"AUSDT", "BUSDT", "CUSDT"} {
		if err := st.Set(sample(t, sym, 1)); err != nil {
			t.Fatal(err)
		}
	}

	got := st.ReplaceSymbolSet([]string{"dusdt", "AUSDT"})
	if len(got) != 2 || got[0] != "AUSDT" || got[1] != "DUSDT" {
		t.Fatalf("normalized set: got %v", got)
	}
	for _, sym := range []string{"BUSDT", "CUSDT"} {
		if _, ok := st.Get(sym); ok {
			t.Fatalf("%s should be absent after replace", sym)
		}
		if h := st.History(sym, 0); len(h) != 0 {
			t.Fatalf("%s history should be cleared", sym)
		}
	}
	if _, ok := st.Get("AUSDT"); !ok {
		t.Fatal("AUSDT should survive the replace")
	}
	if err := st.Set(sample(t, "BUSDT", 2)); !errors.Is(err, domain.ErrNotMonitored) {
		t.Fatalf("late tick for removed symbol must be rejected, got %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	st := NewStore([]string{"BTCUSDT"}, "1m", 3)
	for i := 1; i <= 5; i++ {
		if err := st.Set(sample(t, "BTCUSDT", float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	h := st.History("BTCUSDT", 0)
	if len(h) != 3 {
		t.Fatalf("history length: got %d, want 3", len(h))
	}
	if !h[0].Price.Equal(decimal.NewFromInt(3)) || !h[2].Price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("history order wrong: %s .. %s", h[0].Price, h[2].Price)
	}
	if got := st.History("BTCUSDT", 2); len(got) != 2 {
		t.Fatalf("limited history: got %d", len(got))
	}
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	st := NewStore([]string{"BTCUSDT"}, "1m", 0)
	if err := st.Set(sample(t, "BTCUSDT", 100)); err != nil {
		t.Fatal(err)
	}
	snap := st.Snapshot()
	if err := st.Set(sample(t, "BTCUSDT", 200)); err != nil {
		t.Fatal(err)
	}
	if !snap.Samples["BTCUSDT"].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatal("snapshot changed after a later write")
	}
}

// Every written sample carries Open == High == Low == Close == Price, so a
// torn read would show mismatched fields.
func TestSnapshotNeverSeesTornWrites(t *testing.T) {
	st := NewStore([]string{"BTCUSDT", "ETHUSDT"}, "1m", 0)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			v := decimal.NewFromInt(int64(i))
			for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
				_ = st.Set(domain.PriceSample{
					Symbol: sym, Price: v, Open: v, High: v, Low: v, Close: v,
					EventTime: time.Now(),
				})
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		for sym, s := range st.Snapshot().Samples {
			if !s.Open.Equal(s.Price) || !s.High.Equal(s.Price) || !s.Low.Equal(s.Price) || !s.Close.Equal(s.Price) {
				t.Fatalf("%s: torn sample %+v", sym, s)
			}
		}
	}
	close(stop)
	wg.Wait()
}
