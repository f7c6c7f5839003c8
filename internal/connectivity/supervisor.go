package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

// StreamState is the lifecycle of one supervised stream.
type StreamState string

const (
	StateDisconnected StreamState = "disconnected"
	StateConnecting   StreamState = "connecting"
	StateConnected    StreamState = "connected"
	StateStopped      StreamState = "stopped"
)

var errStale = errors.New("no liveness signal within watchdog window")

// StreamStatus is a read-only view of a supervisor.
type StreamStatus struct {
	Key       string      `json:"key"`
	State     StreamState `json:"state"`
	Attempts  int         `json:"attempts"`
	LastAlive time.Time   `json:"lastAlive"`
}

// supervisor keeps one registry entry connected. It reopens the stream from
// the entry's open function after every failure.
type supervisor struct {
	key    string
	open   func(ctx context.Context, onAlive func()) (Stream, error)
	handle func(msg []byte) error

	mu       sync.Mutex
	state    StreamState
	attempts int

	lastAlive atomic.Int64 // unix nanos
}

func (s *supervisor) touch() { s.lastAlive.Store(time.Now().UnixNano()) }

func (s *supervisor) setState(st StreamState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *supervisor) status() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StreamStatus{Key: s.key, State: s.state, Attempts: s.attempts}
	if n := s.lastAlive.Load(); n > 0 {
		st.LastAlive = time.Unix(0, n)
	}
	return st
}

// run connects, consumes and reconnects with a linear backoff until ctx is
// done or the attempt cap is exceeded.
func (m *Manager) run(ctx context.Context, s *supervisor) {
	defer m.wg.Done()
	log := m.log.With(zap.String("stream", s.key))

	for {
		s.setState(StateConnecting)
		conn, err := s.open(ctx, s.touch)
		if err == nil {
			s.mu.Lock()
			s.attempts = 0
			s.state = StateConnected
			s.mu.Unlock()
			s.touch()
			log.Info("stream connected")
			err = m.consume(ctx, s, conn)
		}
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return
		}

		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.state = StateDisconnected
		s.mu.Unlock()

		if attempt > m.cfg.ReconnectMaxAttempts {
			s.setState(StateStopped)
			fatal := &exchange.ConnectivityError{Stream: s.key, Attempts: attempt - 1, Err: err}
			log.Error("stream abandoned", zap.Int("attempts", attempt-1), zap.Error(err))
			m.report(ctx, fatal)
			return
		}

		delay := m.cfg.ReconnectBaseDelay * time.Duration(attempt)
		m.Metrics.Reconnect(s.key)
		log.Warn("stream lost, reconnecting",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.ReconnectMaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setState(StateStopped)
			return
		case <-t.C:
		}
	}
}

// consume reads until the stream fails, the handler asks for a reconnect or
// the watchdog finds the stream stale.
func (m *Manager) consume(ctx context.Context, s *supervisor, conn Stream) error {
	done := make(chan struct{})
	var stale atomic.Bool
	go func() {
		ticker := time.NewTicker(m.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				last := time.Unix(0, s.lastAlive.Load())
				if time.Since(last) > 2*m.cfg.PingInterval {
					stale.Store(true)
					_ = conn.Close()
					return
				}
			}
		}
	}()
	defer close(done)
	defer conn.Close()

	for {
		msg, err := conn.Read()
		if err != nil {
			if stale.Load() {
				return errStale
			}
			return err
		}
		if err := s.handle(msg); err != nil {
			return err
		}
	}
}
