package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "favmirror/pkg/errors"
	"favmirror/pkg/logger"
	"favmirror/pkg/ratelimit"
)

// recordingSleep captures every wait instead of sleeping
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func noJitterController() *Controller {
	p := DefaultParams()
	p.Jitter = 0
	return NewController(p)
}

func TestControllerGrowthAfterFailures(t *testing.T) {
	for n := 0; n <= 8; n++ {
		c := NewController(DefaultParams())
		for i := 0; i < n; i++ {
			c.OnFailure()
		}

		want := 100 * time.Millisecond * time.Duration(math.Pow(2, float64(n)))
		assert.Equal(t, want, c.Delay(), "after %d failures", n)

		d := c.DelayDuration()
		assert.GreaterOrEqual(t, d, want)
		assert.Less(t, d, want+30*time.Millisecond)

		c.OnSuccess()
		assert.Equal(t, 1, c.Streak())
		assert.Equal(t, want, c.Delay())
	}
}

func TestControllerDecayAfterStreak(t *testing.T) {
	c := NewController(DefaultParams())
	c.OnFailure()
	c.OnFailure()
	before := c.Delay()

	for i := 1; i < 5; i++ {
		c.OnSuccess()
		assert.Equal(t, i, c.Streak())
		assert.Equal(t, before, c.Delay())
	}

	c.OnSuccess()
	assert.Equal(t, 0, c.Streak())
	assert.InDelta(t, float64(before)*0.9, float64(c.Delay()), 1)
}

func TestControllerFailureResetsStreak(t *testing.T) {
	c := NewController(DefaultParams())
	for i := 0; i < 4; i++ {
		c.OnSuccess()
	}
	c.OnFailure()
	assert.Equal(t, 0, c.Streak())
	assert.Equal(t, 200*time.Millisecond, c.Delay())
}

func TestControllerBounds(t *testing.T) {
	p := DefaultParams()
	p.MaxDelay = time.Second
	c := NewController(p)
	for i := 0; i < 20; i++ {
		c.OnFailure()
	}
	assert.Equal(t, time.Second, c.Delay())

	p = DefaultParams()
	p.BaseDelay = 2 * time.Millisecond
	p.DecayFactor = 0.1
	p.SuccessStreak = 1
	c = NewController(p)
	for i := 0; i < 10; i++ {
		c.OnSuccess()
	}
	assert.Equal(t, time.Millisecond, c.Delay())
}

func TestControllerReset(t *testing.T) {
	c := NewController(DefaultParams())
	c.OnFailure()
	c.OnSuccess()
	c.Reset()
	assert.Equal(t, 100*time.Millisecond, c.Delay())
	assert.Equal(t, 0, c.Streak())
}

func TestControllerConcurrentUse(t *testing.T) {
	c := NewController(DefaultParams())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.OnSuccess()
			_ = c.DelayDuration()
		}()
	}
	wg.Wait()
	// 50 successes decay the delay exactly ten times
	assert.InDelta(t, float64(100*time.Millisecond)*math.Pow(0.9, 10), float64(c.Delay()), 10)
}

func TestExecuteSuccess(t *testing.T) {
	rs := &recordingSleep{}
	tr := NewTransport(noJitterController(), WithSleep(rs.sleep))

	calls := 0
	got, err := Execute(context.Background(), tr, "GET count", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, rs.delays)
	assert.Equal(t, 1, tr.Controller().Streak())
}

func TestExecuteExhaustsAfterMaxAttempts(t *testing.T) {
	rs := &recordingSleep{}
	ctrl := noJitterController()
	tr := NewTransport(ctrl, WithSleep(rs.sleep))

	calls := 0
	_, err := Execute(context.Background(), tr, "GET page", func(context.Context) (string, error) {
		calls++
		return "", errs.FromStatus("GET page", 503)
	})

	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.Equal(t, errs.ErrorTypeRetriesExhausted, errs.TypeOf(err))
	assert.ErrorIs(t, err, &errs.Error{Type: errs.ErrorTypeServerError})
	assert.Contains(t, err.Error(), "GET page")

	// initial wait plus one wait between each pair of attempts
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}, rs.delays)
	assert.Equal(t, 3200*time.Millisecond, ctrl.Delay())
}

func TestExecuteRecoversAfterRetry(t *testing.T) {
	rs := &recordingSleep{}
	tr := NewTransport(noJitterController(), WithSleep(rs.sleep))

	calls := 0
	got, err := Execute(context.Background(), tr, "POST check", func(context.Context) ([]int, error) {
		calls++
		if calls < 3 {
			return nil, errs.FromStatus("POST check", 429)
		}
		return []int{1, 2}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 400*time.Millisecond, tr.Controller().Delay())
	assert.Equal(t, 1, tr.Controller().Streak())
}

func TestExecutePermanentShortCircuits(t *testing.T) {
	for _, permanent := range []error{
		errs.FromStatus("GET post", 404),
		errs.ParseError("GET post", "original image link"),
		errs.UnexpectedResponse("GET count", "missing count"),
	} {
		rs := &recordingSleep{}
		ctrl := noJitterController()
		tr := NewTransport(ctrl, WithSleep(rs.sleep))

		calls := 0
		_, err := Execute(context.Background(), tr, "op", func(context.Context) (int, error) {
			calls++
			return 0, permanent
		})

		assert.Same(t, permanent, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 100*time.Millisecond, ctrl.Delay(), "schedule untouched")
		assert.Equal(t, 0, ctrl.Streak())
	}
}

func TestExecuteUntypedErrorIsRetried(t *testing.T) {
	tr := NewTransport(noJitterController(), WithSleep((&recordingSleep{}).sleep), WithMaxAttempts(2))

	calls := 0
	_, err := Execute(context.Background(), tr, "GET asset", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("connection reset by peer")
	})

	assert.Equal(t, 2, calls)
	assert.Equal(t, errs.ErrorTypeRetriesExhausted, errs.TypeOf(err))
}

func TestExecuteRetriesClientTimeout(t *testing.T) {
	tr := NewTransport(noJitterController(), WithSleep((&recordingSleep{}).sleep))

	calls := 0
	got, err := Execute(context.Background(), tr, "GET page", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			// what http.Client returns when its own Timeout fires
			return 0, errs.Wrap(errs.ErrorTypeNetwork, "GET page",
				fmt.Errorf("Client.Timeout exceeded while awaiting headers: %w", context.DeadlineExceeded))
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 3, calls)
}

func TestExecuteCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewTransport(noJitterController(), WithSleep((&recordingSleep{}).sleep))
	calls := 0
	_, err := Execute(ctx, tr, "GET page", func(context.Context) (int, error) {
		calls++
		return 0, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestExecuteHonoursLimiter(t *testing.T) {
	limiter := ratelimit.NewTokenBucket(1, time.Hour, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tr := NewTransport(noJitterController(),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithLimiter(limiter),
	)
	calls := 0
	_, err := Execute(ctx, tr, "GET page", func(context.Context) (int, error) {
		calls++
		return 0, nil
	})

	assert.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestExecuteLogsRetries(t *testing.T) {
	tl := logger.NewTestLogger()
	tr := NewTransport(noJitterController(),
		WithSleep((&recordingSleep{}).sleep),
		WithLogger(tl),
		WithMaxAttempts(2),
	)

	_ = tr.Do(context.Background(), "GET count", func(context.Context) error {
		return errs.FromStatus("GET count", 500)
	})

	assert.Len(t, tl.GetMessagesByLevel("WARN"), 1)
	assert.True(t, tl.HasMessage("max retry attempts exceeded"))
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}
