package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"favmirror/pkg/config"
)

func TestNewDisabled(t *testing.T) {
	l := New(config.RateLimitConfig{RequestsPerMinute: 0})
	assert.IsType(t, Unlimited{}, l)

	for i := 0; i < 1000; i++ {
		require.True(t, l.Allow())
	}
	assert.NoError(t, l.Wait(context.Background()))
}

func TestNewEnabled(t *testing.T) {
	l := New(config.RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3})
	require.IsType(t, &TokenBucket{}, l)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "token %d", i+1)
	}
	assert.False(t, l.Allow())
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(20, time.Second, 1) // one token every 50ms

	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	time.Sleep(70 * time.Millisecond)
	assert.True(t, tb.Allow())
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(20, time.Second, 1)
	require.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, tb.Wait(ctx))
}

func TestTokenBucketReset(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour, 2)
	require.True(t, tb.Allow())
	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	tb.Reset()
	assert.InDelta(t, 2.0, tb.Tokens(), 0.01)
	assert.True(t, tb.Allow())
}

func TestUnlimitedWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Unlimited{}.Wait(ctx), context.Canceled)
}
