package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/engine"
	"github.com/grisha2077/vortex-trader-pro/internal/events"
	"github.com/grisha2077/vortex-trader-pro/internal/monitor"
)

// Server wires HTTP endpoints around the trading core and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Engine    engine.Service
	Metrics   *monitor.Metrics
	JWTSecret string

	limiter *ipRateLimiter
	log     *zap.Logger
}

// NewServer builds the router. An empty jwtSecret leaves /api unauthenticated.
func NewServer(bus *events.Bus, svc engine.Service, metrics *monitor.Metrics, jwtSecret string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()

	s := &Server{
		Router:    r,
		Bus:       bus,
		Engine:    svc,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		limiter:   newIPRateLimiter(20, 50),
		log:       log.Named("api"),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                // Panic recovery (first)
	r.Use(RequestIDMiddleware())         // Request ID tracking
	r.Use(RequestLogger(s.log, metrics)) // Request logging (after ID is set)
	r.Use(s.limiter.Middleware(s.log))   // Rate limiting
	r.Use(CORSMiddleware())              // CORS (last before routes)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", s.getPromMetrics)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	if s.JWTSecret != "" {
		api.Use(AuthMiddleware(s.JWTSecret))
	} else {
		s.log.Warn("JWT_SECRET not set, API is unauthenticated")
	}
	{
		api.GET("/system/status", s.getSystemStatus)

		api.POST("/trading/start", s.startTrading)
		api.POST("/trading/stop", s.stopTrading)

		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/stats", s.getStats)
		api.GET("/symbols", s.getSymbols)
		api.GET("/streams", s.getStreams)

		api.GET("/orders", s.getOrders)
		api.POST("/orders", s.createOrder)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Close stops background housekeeping.
func (s *Server) Close() {
	s.limiter.Stop()
}
