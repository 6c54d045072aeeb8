package conn

import "time"

// backoff computes reconnect delays: min(base * 2^(attempt-1), ceiling),
// with a hard cap on total attempts.
type backoff struct {
	base        time.Duration
	ceiling     time.Duration
	maxAttempts int
	attempt     int
}

// delayFor returns the delay before the given attempt (1-based).
func (b *backoff) delayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shifting past 62 bits overflows; anything that far is over the
	// ceiling anyway.
	if attempt > 32 {
		return b.ceiling
	}
	d := b.base << (attempt - 1)
	if d > b.ceiling || d <= 0 {
		d = b.ceiling
	}
	return d
}

// next consumes one attempt and returns its delay. Returns false when the
// attempt budget is exhausted.
func (b *backoff) next() (time.Duration, bool) {
	if b.attempt >= b.maxAttempts {
		return 0, false
	}
	b.attempt++
	return b.delayFor(b.attempt), true
}

func (b *backoff) reset() {
	b.attempt = 0
}
