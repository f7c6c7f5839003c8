package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateBucketReserveWithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewRateBucket(ClassOrder, 50, 10*time.Second)
	b.now = clock.Now

	for i := 0; i < 50; i++ {
		require.Zero(t, b.Reserve(), "call %d should pass", i)
	}

	clock.Advance(4 * time.Second)
	assert.Equal(t, 6*time.Second, b.Reserve(), "51st call waits until the window resets")

	used, limit, _ := b.Usage()
	assert.Equal(t, 50, used)
	assert.Equal(t, 50, limit)

	clock.Advance(6 * time.Second)
	assert.Zero(t, b.Reserve(), "window reset admits the call")
	used, _, _ = b.Usage()
	assert.Equal(t, 1, used)
}

func TestRateBucketWaitProceedsAfterReset(t *testing.T) {
	b := NewRateBucket(ClassRequest, 2, 80*time.Millisecond)

	ctx := context.Background()
	_, err := b.Wait(ctx)
	require.NoError(t, err)
	_, err = b.Wait(ctx)
	require.NoError(t, err)

	start := time.Now()
	waited, err := b.Wait(ctx)
	require.NoError(t, err)
	assert.Greater(t, waited, time.Duration(0))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRateBucketWaitHonoursContext(t *testing.T) {
	b := NewRateBucket(ClassOrder, 1, time.Hour)
	_, err := b.Wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRateLimiterHooksAndUnknownClass(t *testing.T) {
	rl := NewRateLimiter(zap.NewNop(), NewRateBucket(ClassOrder, 1, 30*time.Millisecond))

	var hooked CallClass
	rl.OnWait(func(class CallClass, waited time.Duration) { hooked = class })

	ctx := context.Background()
	require.NoError(t, rl.Wait(ctx, ClassOrder))
	require.NoError(t, rl.Wait(ctx, ClassOrder))
	assert.Equal(t, ClassOrder, hooked)

	assert.Error(t, rl.Wait(ctx, ClassRequest))
}

func TestRateLimiterUpdateFromHeader(t *testing.T) {
	rl := NewFuturesRateLimiter(zap.NewNop())

	rl.UpdateFromHeader("1000")
	used, limit, _ := rl.Bucket(ClassRequest).Usage()
	assert.Equal(t, 1000, used)
	assert.Equal(t, 1200, limit)

	rl.UpdateFromHeader("not-a-number")
	rl.UpdateFromHeader("10")
	used, _, _ = rl.Bucket(ClassRequest).Usage()
	assert.Equal(t, 1000, used, "lower venue figures never reduce the local count")
}
