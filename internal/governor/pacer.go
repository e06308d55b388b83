package governor

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacer enforces a process-wide minimum interval between dispatches. The
// interval is jittered by up to JitterFraction in either direction; the wait
// itself is not.
//
// Waiters are not served in FIFO order.
type Pacer struct {
	// gate is a one-slot lock that waiters can abandon on ctx.
	gate   chan struct{}
	next   time.Time
	gap    time.Duration
	jitter float64
}

// JitterFraction is the relative spread applied to the pacing interval.
const JitterFraction = 0.2

// NewPacer returns a pacer allowing at most qps dispatches per second.
// A non-positive qps is clamped to one dispatch every 1000 seconds.
func NewPacer(qps float64) *Pacer {
	if qps < 0.001 {
		qps = 0.001
	}
	return &Pacer{
		gate:   make(chan struct{}, 1),
		gap:    time.Duration(float64(time.Second) / qps),
		jitter: JitterFraction,
	}
}

// Interval returns the un-jittered minimum gap between dispatches.
func (p *Pacer) Interval() time.Duration {
	return p.gap
}

// Wait blocks until the caller may dispatch, then reserves the next slot.
// The read-wait-advance sequence runs under a single lock.
func (p *Pacer) Wait(ctx context.Context) error {
	select {
	case p.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.gate }()

	if wait := time.Until(p.next); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	p.next = time.Now().Add(jittered(p.gap, p.jitter))
	return nil
}

// jittered returns d scaled by a random factor in [1-fraction, 1+fraction].
func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	f := 1 + (rand.Float64()*2-1)*fraction
	out := time.Duration(float64(d) * f)
	if out < 0 {
		return 0
	}
	return out
}
