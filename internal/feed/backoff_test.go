package feed

import (
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := newBackoff(5*time.Second, 80*time.Second, 0)
	want := []time.Duration{5, 10, 20, 40, 80, 80}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Fatalf("step %d: got %v, want %v", i, got, w*time.Second)
		}
	}
	b.Reset()
	if got := b.Next(); got != 5*time.Second {
		t.Fatalf("after Reset: got %v", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := newBackoff(time.Second, time.Second, 0.2)
	for i := 0; i < 200; i++ {
		d := b.Next()
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("delay %v outside [0.8s, 1.2s]", d)
		}
	}
}

func TestBackoffJitterNeverExceedsMax(t *testing.T) {
	b := newBackoff(time.Second, 4*time.Second, 0.5)
	for i := 0; i < 500; i++ {
		if d := b.Next(); d > 4*time.Second {
			t.Fatalf("step %d: delay %v above max 4s", i, d)
		}
	}
}
