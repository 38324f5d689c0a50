package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectPolicy is the one backoff primitive shared by the stream consumer
// and both pub/sub subscribers: exponential with a hard cap, bounded by a
// maximum attempt count after which the owning loop gives up.
type reconnectPolicy struct {
	b        *backoff.ExponentialBackOff
	attempts int
	max      int
}

func (e *Engine) newReconnectPolicy() *reconnectPolicy {
	return newReconnectPolicy(e.cfg.RedisRetryDelay, e.cfg.MaxReconnectAttempts)
}

func newReconnectPolicy(base time.Duration, maxAttempts int) *reconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return &reconnectPolicy{b: b, max: maxAttempts}
}

// Wait sleeps for the next interval. It returns false when the attempt
// budget is exhausted or the context is cancelled.
func (p *reconnectPolicy) Wait(ctx context.Context) bool {
	p.attempts++
	if p.attempts > p.max {
		return false
	}

	t := time.NewTimer(p.b.NextBackOff())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Reset re-arms the policy after a successful operation.
func (p *reconnectPolicy) Reset() {
	p.attempts = 0
	p.b.Reset()
}
