package common

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CallClass groups venue calls that share one rate budget.
type CallClass string

const (
	ClassOrder   CallClass = "orders"
	ClassRequest CallClass = "requests"
)

// RateBucket is a fixed-window counter for one call class.
type RateBucket struct {
	class   CallClass
	limit   int
	window  time.Duration
	count   int
	resetAt time.Time
	now     func() time.Time
	mu      sync.Mutex
}

// NewRateBucket creates a bucket allowing limit calls per window.
func NewRateBucket(class CallClass, limit int, window time.Duration) *RateBucket {
	return &RateBucket{
		class:  class,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Reserve consumes one slot when available and returns zero. When the window
// is exhausted it consumes nothing and returns the time left until reset.
func (b *RateBucket) Reserve() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !now.Before(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(b.window)
	}
	if b.count < b.limit {
		b.count++
		return 0
	}
	return b.resetAt.Sub(now)
}

// Wait blocks until a slot is available or ctx is done. It returns the total
// time spent waiting.
func (b *RateBucket) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		delay := b.Reserve()
		if delay <= 0 {
			return waited, nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
			waited += delay
		}
	}
}

// Usage returns current usage of the window.
func (b *RateBucket) Usage() (used int, limit int, percentage float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.now().Before(b.resetAt) {
		return 0, b.limit, 0
	}
	return b.count, b.limit, float64(b.count) / float64(b.limit) * 100
}

// observe raises the local count to a venue-reported usage figure.
func (b *RateBucket) observe(used int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !now.Before(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(b.window)
	}
	if used > b.count {
		b.count = used
	}
}

// RateLimiter owns the buckets of every call class.
type RateLimiter struct {
	buckets map[CallClass]*RateBucket
	log     *zap.Logger
	onWait  func(class CallClass, waited time.Duration)
}

// NewRateLimiter builds a limiter from explicit buckets.
func NewRateLimiter(log *zap.Logger, buckets ...*RateBucket) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	rl := &RateLimiter{
		buckets: make(map[CallClass]*RateBucket, len(buckets)),
		log:     log.Named("ratelimit"),
	}
	for _, b := range buckets {
		rl.buckets[b.class] = b
	}
	return rl
}

// NewFuturesRateLimiter returns the limits used against USDT-M futures:
// 50 orders per 10s and 1200 requests per minute.
func NewFuturesRateLimiter(log *zap.Logger) *RateLimiter {
	return NewRateLimiter(log,
		NewRateBucket(ClassOrder, 50, 10*time.Second),
		NewRateBucket(ClassRequest, 1200, time.Minute),
	)
}

// OnWait registers a hook called whenever a caller had to wait for a window reset.
func (rl *RateLimiter) OnWait(fn func(class CallClass, waited time.Duration)) {
	rl.onWait = fn
}

// Bucket returns the bucket of a class, or nil.
func (rl *RateLimiter) Bucket(class CallClass) *RateBucket {
	return rl.buckets[class]
}

// Wait blocks until the class has budget. Rate-limit waits are not errors;
// only a cancelled context is.
func (rl *RateLimiter) Wait(ctx context.Context, class CallClass) error {
	b, ok := rl.buckets[class]
	if !ok {
		return fmt.Errorf("unknown call class %q", class)
	}
	waited, err := b.Wait(ctx)
	if waited > 0 {
		rl.log.Info("rate limit reached, waited for window reset",
			zap.String("class", string(class)),
			zap.Duration("waited", waited))
		if rl.onWait != nil {
			rl.onWait(class, waited)
		}
	}
	return err
}

// UpdateFromHeader folds the venue's X-MBX-USED-WEIGHT-1M value into the
// request bucket and warns when usage approaches the limit.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}
	b, ok := rl.buckets[ClassRequest]
	if !ok {
		return
	}
	b.observe(weight)

	used, limit, percentage := b.Usage()
	if percentage >= 95 {
		rl.log.Warn("rate limit critical", zap.Int("used", used), zap.Int("limit", limit), zap.Float64("pct", percentage))
	} else if percentage >= 80 {
		rl.log.Warn("rate limit warning", zap.Int("used", used), zap.Int("limit", limit), zap.Float64("pct", percentage))
	}
}
