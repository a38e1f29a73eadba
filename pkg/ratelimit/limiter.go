package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"favmirror/pkg/config"
)

// Limiter gates outgoing requests
type Limiter interface {
	// Allow reports whether a request may proceed now, consuming a token if so
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error
	// Reset restores the full burst
	Reset()
}

// New builds the limiter described by cfg. A zero RequestsPerMinute
// disables limiting.
func New(cfg config.RateLimitConfig) Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return Unlimited{}
	}
	return NewTokenBucket(cfg.RequestsPerMinute, time.Minute, cfg.BurstSize)
}

// TokenBucket spreads requests evenly over a period with a fixed burst
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	every   rate.Limit
	burst   int
}

// NewTokenBucket allows requests per period, refilled continuously
func NewTokenBucket(requests int, period time.Duration, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	every := rate.Every(period / time.Duration(requests))
	return &TokenBucket{
		limiter: rate.NewLimiter(every, burst),
		every:   every,
		burst:   burst,
	}
}

// Allow consumes a token if one is available
func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Reset refills the bucket
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(tb.every, tb.burst)
}

// Tokens returns the tokens currently available
func (tb *TokenBucket) Tokens() float64 {
	return tb.current().Tokens()
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Allow() bool { return true }

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

func (Unlimited) Reset() {}
