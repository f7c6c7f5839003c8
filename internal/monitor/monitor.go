package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/events"
)

// Monitor turns bus events into metrics and alerts.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Log     *zap.Logger
	AlertFn func(events.ErrorEvent)
}

// Start consumes the bus in the background until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		return
	}
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	stream, unsub := m.Bus.SubscribeAll(256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.handle(env)
			}
		}
	}()
}

func (m *Monitor) handle(env events.Envelope) {
	switch p := env.Payload.(type) {
	case events.ErrorEvent:
		m.Metrics.Error(string(p.Kind))
		if p.Kind == events.ErrorCircuitBreaker {
			m.Metrics.CircuitTripped()
		}
		if p.Fatal {
			m.Log.Error("fatal trading error",
				zap.String("kind", string(p.Kind)),
				zap.String("symbol", p.Symbol),
				zap.String("message", p.Message))
		}
		if m.AlertFn != nil {
			m.AlertFn(p)
		}
	case events.Stats:
		m.Metrics.SetPortfolio(p.ActiveTrades, p.RealizedPnL, p.UnrealizedPnL)
	case events.SignalDetected:
		m.Metrics.SignalDetected(p.Symbol, p.Direction)
	}
}
