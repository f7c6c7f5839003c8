package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink forwards bus events to external consumers over Redis: every
// envelope is PUBLISHed on the channel and each position close is appended
// to a trade stream. The latest oscillator value per symbol lives in a hash.
type RedisSink struct {
	rdb         *redis.Client
	channel     string
	tradeStream string
	latestKey   string
	log         *zap.Logger
}

// NewRedisSink wraps an existing client. channel prefixes the derived keys.
func NewRedisSink(rdb *redis.Client, channel string, log *zap.Logger) *RedisSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisSink{
		rdb:         rdb,
		channel:     channel,
		tradeStream: channel + ":trades",
		latestKey:   channel + ":oscillator",
		log:         log.Named("redis_sink"),
	}
}

// Run consumes the bus until ctx is done.
func (s *RedisSink) Run(ctx context.Context, bus *Bus) {
	stream, unsub := bus.SubscribeAll(256)
	defer unsub()

	s.log.Info("redis event sink started", zap.String("channel", s.channel))
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			if err := s.forward(ctx, env); err != nil {
				s.log.Warn("forward event failed", zap.String("type", string(env.Type)), zap.Error(err))
			}
		}
	}
}

func (s *RedisSink) forward(ctx context.Context, env Envelope) error {
	body, err := encodeEnvelope(env)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Publish(ctx, s.channel, body)
	if args, ok := s.tradeEntry(env.Payload); ok {
		pipe.XAdd(ctx, args)
	}
	if field, value, ok := oscillatorField(env.Payload); ok {
		pipe.HSet(ctx, s.latestKey, field, value)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// tradeEntry maps a position close to an entry on the trade stream.
func (s *RedisSink) tradeEntry(payload any) (*redis.XAddArgs, bool) {
	p, ok := payload.(PositionChange)
	if !ok || p.Kind != PositionClose {
		return nil, false
	}
	return &redis.XAddArgs{
		Stream: s.tradeStream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]any{
			"symbol":   p.Symbol,
			"side":     p.Side,
			"entry":    p.EntryPrice,
			"exit":     p.Price,
			"quantity": p.Quantity,
			"pnl":      p.PnL,
			"ts_ms":    p.Time.UnixMilli(),
		},
	}, true
}

func oscillatorField(payload any) (field, value string, ok bool) {
	p, ok := payload.(OscillatorUpdate)
	if !ok {
		return "", "", false
	}
	return p.Symbol, fmt.Sprintf("%.4f", p.Value), true
}

func encodeEnvelope(env Envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return string(b), nil
}
