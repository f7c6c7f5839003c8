package common

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVenueClockKeepsShortestRoundTrip(t *testing.T) {
	local := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	rtts := []time.Duration{400 * time.Millisecond, 20 * time.Millisecond, 200 * time.Millisecond}
	skews := []time.Duration{1700 * time.Millisecond, 1500 * time.Millisecond, 1650 * time.Millisecond}
	i := 0

	clock := NewVenueClock(func(context.Context) (int64, error) {
		half := rtts[i] / 2
		local.Advance(half)
		server := local.Now().Add(skews[i]).UnixMilli()
		local.Advance(rtts[i] - half)
		i++
		return server, nil
	}, zap.NewNop())
	clock.now = local.Now

	assert.False(t, clock.Synced())
	require.NoError(t, clock.Sync(context.Background()))
	assert.True(t, clock.Synced())
	assert.Equal(t, 1500*time.Millisecond, clock.Offset())
	assert.Equal(t, local.Now().Add(1500*time.Millisecond).UnixMilli(), clock.Millis())
}

func TestVenueClockToleratesFailedSamples(t *testing.T) {
	local := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	calls := 0
	clock := NewVenueClock(func(context.Context) (int64, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("timeout")
		}
		return local.Now().Add(-250 * time.Millisecond).UnixMilli(), nil
	}, nil)
	clock.now = local.Now

	require.NoError(t, clock.Sync(context.Background()))
	assert.Equal(t, -250*time.Millisecond, clock.Offset())
}

func TestVenueClockAllSamplesFail(t *testing.T) {
	clock := NewVenueClock(func(context.Context) (int64, error) {
		return 0, errors.New("unreachable")
	}, nil)

	require.EqualError(t, clock.Sync(context.Background()), "unreachable")
	assert.False(t, clock.Synced())
	assert.Zero(t, clock.Offset())
}

func TestVenueClockResyncsWhenStale(t *testing.T) {
	var calls atomic.Int32
	clock := NewVenueClock(func(context.Context) (int64, error) {
		calls.Add(1)
		return time.Now().UnixMilli(), nil
	}, nil)
	clock.samples = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.Start(ctx, time.Hour)
	require.Equal(t, int32(1), calls.Load())
	require.True(t, clock.Synced())

	clock.MarkStale()
	require.Eventually(t, func() bool {
		return calls.Load() == 2 && clock.Synced()
	}, 2*time.Second, 5*time.Millisecond)
}
