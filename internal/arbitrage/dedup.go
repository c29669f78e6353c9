package arbitrage

import (
	"sync"
	"time"
)

// Dedup suppresses repeated route keys within a time window. The window is
// measured from the most recent sighting, so an opportunity that persists
// across cycles stays a duplicate until it disappears for longer than the
// window. It is safe for concurrent use.
type Dedup struct {
	seen   map[string]time.Time // route key -> last seen time
	window time.Duration
	mu     sync.Mutex
}

// NewDedup creates a Dedup with the given window. A zero window disables
// suppression.
func NewDedup(window time.Duration) *Dedup {
	return &Dedup{
		seen:   make(map[string]time.Time),
		window: window,
	}
}

// Seen returns true if key was seen within the window before now. The
// sighting at now is recorded either way.
func (d *Dedup) Seen(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.seen[key]
	d.seen[key] = now
	if !ok || d.window <= 0 {
		return false
	}
	return now.Sub(last) < d.window
}

// Cleanup removes entries that have expired beyond the window. The detector
// calls it once per cycle to bound memory.
func (d *Dedup) Cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
