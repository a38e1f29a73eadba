package retry

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"favmirror/pkg/config"
)

// minDelay keeps repeated decay from driving the schedule to zero
const minDelay = time.Millisecond

// Params describes the adaptive schedule
type Params struct {
	BaseDelay     time.Duration
	Jitter        time.Duration
	GrowthFactor  float64
	DecayFactor   float64
	SuccessStreak int
	// MaxDelay caps growth; zero means uncapped
	MaxDelay time.Duration
}

// DefaultParams returns the schedule the remote site tolerates well
func DefaultParams() Params {
	return Params{
		BaseDelay:     100 * time.Millisecond,
		Jitter:        30 * time.Millisecond,
		GrowthFactor:  2,
		DecayFactor:   0.9,
		SuccessStreak: 5,
		MaxDelay:      5 * time.Minute,
	}
}

// ParamsFromConfig converts the backoff config section
func ParamsFromConfig(cfg config.BackoffConfig) Params {
	return Params{
		BaseDelay:     cfg.BaseDelay,
		Jitter:        cfg.Jitter,
		GrowthFactor:  cfg.GrowthFactor,
		DecayFactor:   cfg.DecayFactor,
		SuccessStreak: cfg.SuccessStreak,
		MaxDelay:      cfg.MaxDelay,
	}
}

// Controller holds the single delay and success streak shared by every
// request of a process. Failures multiply the delay by GrowthFactor,
// every SuccessStreak consecutive successes multiply it by DecayFactor.
type Controller struct {
	mu     sync.Mutex
	params Params
	delay  float64 // nanoseconds
	streak int
	rand   func() float64
}

// NewController creates a controller at the base delay
func NewController(p Params) *Controller {
	return &Controller{
		params: p,
		delay:  float64(p.BaseDelay),
		rand:   rand.Float64,
	}
}

// OnSuccess records a successful request
func (c *Controller) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streak++
	if c.streak >= c.params.SuccessStreak {
		c.streak = 0
		c.setDelay(c.delay * c.params.DecayFactor)
	}
}

// OnFailure records a retryable failure
func (c *Controller) OnFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streak = 0
	c.setDelay(c.delay * c.params.GrowthFactor)
}

// DelayDuration returns the current delay plus uniform jitter in [0, Jitter)
func (c *Controller) DelayDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := time.Duration(c.delay)
	if c.params.Jitter > 0 {
		d += time.Duration(c.rand() * float64(c.params.Jitter))
	}
	return d
}

// Delay returns the current delay without jitter
func (c *Controller) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.delay)
}

// Streak returns the number of consecutive successes since the last
// failure or decay
func (c *Controller) Streak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streak
}

// Reset restores the base delay and clears the streak
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = float64(c.params.BaseDelay)
	c.streak = 0
}

func (c *Controller) setDelay(d float64) {
	if d < float64(minDelay) {
		d = float64(minDelay)
	}
	if c.params.MaxDelay > 0 && d > float64(c.params.MaxDelay) {
		d = float64(c.params.MaxDelay)
	}
	c.delay = d
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
