package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams every bus event as a JSON envelope. An optional
// ?types=a,b query limits the topics.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	filter := topicFilter(c.Query("types"))
	stream, unsub := s.Bus.SubscribeAll(256)
	defer unsub()

	// Reader goroutine only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case env, ok := <-stream:
			if !ok {
				return
			}
			if filter != nil && !filter[env.Type] {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				s.log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}

func topicFilter(raw string) map[events.Event]bool {
	topics := splitCSV(raw)
	if len(topics) == 0 {
		return nil
	}
	out := make(map[events.Event]bool, len(topics))
	for _, t := range topics {
		out[events.Event(t)] = true
	}
	return out
}
