package common

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// driftWarn is the venue offset above which signed requests start to risk
// falling outside their recv window.
const driftWarn = time.Second

// VenueClock estimates the venue's clock for request timestamps. Each sync
// takes several server-time samples and keeps the one with the shortest
// round trip, since its midpoint is the tightest bound on when the venue
// stamped it.
type VenueClock struct {
	fetch   func(ctx context.Context) (int64, error)
	samples int
	now     func() time.Time
	resync  chan struct{}
	log     *zap.Logger

	mu       sync.RWMutex
	offset   time.Duration
	rtt      time.Duration
	synced   bool
	stale    bool
	syncedAt time.Time
}

// NewVenueClock reads the venue's time in milliseconds through fetch.
func NewVenueClock(fetch func(ctx context.Context) (int64, error), log *zap.Logger) *VenueClock {
	if log == nil {
		log = zap.NewNop()
	}
	return &VenueClock{
		fetch:   fetch,
		samples: 3,
		now:     time.Now,
		resync:  make(chan struct{}, 1),
		log:     log.Named("clock"),
	}
}

// Sync measures the offset. It fails only when every sample fails.
func (c *VenueClock) Sync(ctx context.Context) error {
	var (
		best    time.Duration
		bestRTT time.Duration = -1
		lastErr error
	)
	for i := 0; i < c.samples; i++ {
		before := c.now()
		serverMs, err := c.fetch(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		rtt := c.now().Sub(before)
		if bestRTT >= 0 && rtt >= bestRTT {
			continue
		}
		bestRTT = rtt
		best = time.UnixMilli(serverMs).Sub(before.Add(rtt / 2))
	}
	if bestRTT < 0 {
		return lastErr
	}

	c.mu.Lock()
	c.offset, c.rtt = best, bestRTT
	c.synced, c.stale = true, false
	c.syncedAt = c.now()
	c.mu.Unlock()

	if best.Abs() > driftWarn {
		c.log.Warn("local clock drifts from venue", zap.Duration("offset", best), zap.Duration("rtt", bestRTT))
	} else {
		c.log.Debug("clock synced", zap.Duration("offset", best), zap.Duration("rtt", bestRTT))
	}
	return nil
}

// Start syncs once, then every interval and whenever MarkStale is called,
// until ctx is done.
func (c *VenueClock) Start(ctx context.Context, every time.Duration) {
	if err := c.Sync(ctx); err != nil {
		c.log.Warn("initial clock sync failed", zap.Error(err))
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-c.resync:
			}
			if err := c.Sync(ctx); err != nil {
				c.log.Warn("clock sync failed", zap.Error(err))
			}
		}
	}()
}

// MarkStale flags the offset as wrong, typically after the venue rejected
// a timestamp, and asks a running clock to resync now.
func (c *VenueClock) MarkStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
	select {
	case c.resync <- struct{}{}:
	default:
	}
}

// Millis returns the venue time in milliseconds. Before the first sync it
// is the local time.
func (c *VenueClock) Millis() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset).UnixMilli()
}

// Offset is venue time minus local time.
func (c *VenueClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Synced reports whether a sample has been taken since the last MarkStale.
func (c *VenueClock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced && !c.stale
}
