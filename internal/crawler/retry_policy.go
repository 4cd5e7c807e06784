package crawler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// ExponentialRetryPolicy computes the jittered delay before a failed item is
// re-enqueued. Items are retried without limit; only the spacing changes.
type ExponentialRetryPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialRetryPolicy builds a policy. A zero base disables backoff.
func NewExponentialRetryPolicy(base, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxDelay < base {
		maxDelay = base
	}
	return &ExponentialRetryPolicy{
		baseDelay: base,
		maxDelay:  maxDelay,
	}
}

// Backoff returns the wait duration before retry number attempt (0-based).
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if p == nil || p.baseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
