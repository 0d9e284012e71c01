package monday

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// rateGate spaces outbound calls by a minimum interval. It is shared across
// every goroutine using the client, so dispatcher concurrency can never push
// the process past the platform-wide rate limit.
type rateGate struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newRateGate(interval time.Duration) *rateGate {
	return &rateGate{interval: interval}
}

// reserve claims the next available send slot and advances the gate.
func (g *rateGate) reserve() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if g.next.Before(now) {
		g.next = now
	}
	at := g.next
	g.next = at.Add(g.interval)
	return at
}

// Wait blocks until this caller's reserved slot arrives or ctx is done.
func (g *rateGate) Wait(ctx context.Context) error {
	if g.interval <= 0 {
		return ctx.Err()
	}
	d := time.Until(g.reserve())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffPolicy decides how long to wait between retry attempts. A
// server-suggested delay overrides the exponential schedule; jitter is
// applied either way so synchronized workers fan out.
type BackoffPolicy struct {
	// MaxAttempts bounds total tries per request, first attempt included.
	MaxAttempts int

	// BaseDelay seeds the exponential schedule: base << (attempt-1).
	BaseDelay time.Duration

	// MaxDelay caps the exponential schedule.
	MaxDelay time.Duration

	// JitterFrac adds up to this fraction of the delay as random jitter.
	JitterFrac float64
}

// DefaultBackoff returns the platform defaults: 4 attempts, 500ms base,
// 30s cap, 20% jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		JitterFrac:  0.2,
	}
}

// Delay returns the wait before the given retry. attempt counts the attempt
// that just failed, starting at 1. serverHint, when positive, is honored
// exactly (plus jitter) instead of the exponential schedule.
func (p BackoffPolicy) Delay(attempt int, serverHint time.Duration) time.Duration {
	var d time.Duration
	if serverHint > 0 {
		d = serverHint
	} else {
		d = p.BaseDelay << uint(attempt-1)
		if d > p.MaxDelay || d <= 0 {
			d = p.MaxDelay
		}
	}
	if p.JitterFrac > 0 {
		d += time.Duration(rand.Float64() * p.JitterFrac * float64(d))
	}
	return d
}
