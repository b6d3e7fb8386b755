package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Pacer spaces outbound upstream calls so that no more than quota calls
// start within any window. A single Pacer must be shared by every caller
// that talks to the same upstream.
type Pacer struct {
	base    time.Duration
	limiter *rate.Limiter

	mu       sync.Mutex
	bo       *backoff.ExponentialBackOff
	interval time.Duration
}

// NewPacer allows quota calls per window, one at a time. maxInterval bounds
// how far Backoff may stretch the spacing.
func NewPacer(quota int, window, maxInterval time.Duration) *Pacer {
	if quota <= 0 {
		quota = 1
	}
	base := window / time.Duration(quota)
	if base <= 0 {
		base = time.Nanosecond
	}
	if maxInterval < base {
		maxInterval = base
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     2 * base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
	}
	bo.Reset()
	return &Pacer{
		base:     base,
		limiter:  rate.NewLimiter(rate.Every(base), 1),
		bo:       bo,
		interval: base,
	}
}

// Wait blocks until the next call may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Interval reports the current spacing between calls.
func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Backoff widens the spacing after the upstream signalled rate limiting and
// holds back the next slot by one full interval. It returns the new spacing.
func (p *Pacer) Backoff() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.bo.NextBackOff()
	if next <= 0 || next > p.bo.MaxInterval {
		next = p.bo.MaxInterval
	}
	p.interval = next
	p.limiter.SetLimit(rate.Every(next))
	p.limiter.Reserve()
	return next
}

// Reset restores the base spacing after a successful call.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interval == p.base {
		return
	}
	p.bo.Reset()
	p.interval = p.base
	p.limiter.SetLimit(rate.Every(p.base))
}
