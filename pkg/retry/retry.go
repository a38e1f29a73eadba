package retry

import (
	"context"
	"fmt"
	"time"

	errs "favmirror/pkg/errors"
	"favmirror/pkg/logger"
	"favmirror/pkg/metrics"
	"favmirror/pkg/ratelimit"
)

// DefaultMaxAttempts is the number of tries before giving up
const DefaultMaxAttempts = 5

// Operation performs one attempt of a request
type Operation[T any] func(ctx context.Context) (T, error)

// SleepFunc waits between attempts
type SleepFunc func(ctx context.Context, d time.Duration) error

// Transport runs requests with the shared adaptive backoff
type Transport struct {
	controller  *Controller
	limiter     ratelimit.Limiter
	maxAttempts int
	log         logger.Logger
	sleep       SleepFunc
}

// Option configures a Transport
type Option func(*Transport)

// WithLimiter adds a request-rate ceiling checked before every attempt
func WithLimiter(l ratelimit.Limiter) Option {
	return func(t *Transport) { t.limiter = l }
}

// WithMaxAttempts overrides DefaultMaxAttempts
func WithMaxAttempts(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithLogger sets the transport logger
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithSleep replaces the timer based wait, mostly for tests
func WithSleep(fn SleepFunc) Option {
	return func(t *Transport) { t.sleep = fn }
}

// NewTransport creates a transport around a shared controller
func NewTransport(c *Controller, opts ...Option) *Transport {
	t := &Transport{
		controller:  c,
		limiter:     ratelimit.Unlimited{},
		maxAttempts: DefaultMaxAttempts,
		log:         logger.NewNopLogger(),
		sleep:       Wait,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Controller returns the shared backoff state
func (t *Transport) Controller() *Controller {
	return t.controller
}

// Do runs an operation that has no result
func (t *Transport) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, t, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute runs op under the shared backoff. It waits the current delay
// before the first attempt and again after every retryable failure except
// the last: once attempts run out it returns RetriesExhausted at once,
// leaving the grown delay for the next request.
// Permanent failures are returned as is without touching the schedule.
func Execute[T any](ctx context.Context, t *Transport, name string, op Operation[T]) (T, error) {
	var zero T
	log := t.log.WithField("operation", name)

	if err := t.sleep(ctx, t.controller.DelayDuration()); err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}

		result, err := op(ctx)
		outcome := errs.Classify(err)
		metrics.RecordAttempt(name, outcome.String())

		switch outcome {
		case errs.Success:
			t.controller.OnSuccess()
			metrics.SetBackoffDelay(t.controller.Delay())
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return result, nil
		case errs.Permanent:
			log.WithError(err).DebugWithFields("error is not retryable", map[string]interface{}{
				"attempt": attempt,
			})
			return zero, err
		}

		lastErr = err
		t.controller.OnFailure()
		metrics.SetBackoffDelay(t.controller.Delay())

		if attempt == t.maxAttempts {
			break
		}

		delay := t.controller.DelayDuration()
		log.WithError(err).WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": t.maxAttempts,
			"delay_ms":     delay.Milliseconds(),
		})

		if err := t.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: retry cancelled: %w", name, err)
		}
	}

	metrics.RecordExhausted(name)
	log.WithError(lastErr).ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
		"attempts": t.maxAttempts,
	})
	return zero, errs.RetriesExhausted(name, t.maxAttempts, lastErr)
}
