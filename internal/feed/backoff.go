package feed

import (
	"math/rand/v2"
	"time"
)

// backoff yields exponentially growing, jittered reconnect delays:
// initial, 2*initial, 4*initial ... each scaled by a uniform factor in
// [1-jitter, 1+jitter]. No delay exceeds max.
type backoff struct {
	initial time.Duration
	max     time.Duration
	jitter  float64
	cur     time.Duration
}

func newBackoff(initial, max time.Duration, jitter float64) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &backoff{initial: initial, max: max, jitter: jitter}
}

// Next returns the delay before the next attempt and advances the schedule.
func (b *backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.initial
	} else {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	d := b.cur
	if b.jitter > 0 {
		delta := (rand.Float64()*2 - 1) * b.jitter * float64(d)
		d += time.Duration(delta)
	}
	if d > b.max {
		d = b.max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Reset restarts the schedule at the initial delay.
func (b *backoff) Reset() {
	b.cur = 0
}
