package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/engine"
	"github.com/grisha2077/vortex-trader-pro/internal/order"
	"github.com/grisha2077/vortex-trader-pro/pkg/config"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

const (
	defaultOrderLimit = 50
	maxOrderLimit     = 500
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine failures onto HTTP statuses.
func (s *Server) respondEngineError(c *gin.Context, op string, err error) {
	var (
		connErr  *exchange.ConnectivityError
		orderErr *exchange.OrderSubmissionError
	)
	switch {
	case exchange.IsConfiguration(err):
		respondError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning):
		respondError(c, http.StatusConflict, "ALREADY_RUNNING", err.Error())
	case errors.As(err, &connErr):
		respondError(c, http.StatusBadGateway, "VENUE_UNREACHABLE", err.Error())
	case errors.As(err, &orderErr):
		respondError(c, http.StatusBadGateway, "ORDER_REJECTED", err.Error())
	default:
		s.log.Error(op+" failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) getPromMetrics(c *gin.Context) {
	s.Metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

// startTrading begins a session with the posted trading configuration.
func (s *Server) startTrading(c *gin.Context) {
	var cfg config.TradingConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if err := s.Engine.StartTrading(c.Request.Context(), cfg); err != nil {
		s.respondEngineError(c, "start trading", err)
		return
	}
	s.log.Info("trading started via api",
		zap.String("operator", CurrentOperator(c)),
		zap.Strings("symbols", cfg.Symbols))
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) stopTrading(c *gin.Context) {
	if err := s.Engine.StopTrading(c.Request.Context()); err != nil {
		s.respondEngineError(c, "stop trading", err)
		return
	}
	s.log.Info("trading stopped via api", zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetPositions(c.Request.Context()))
}

func (s *Server) getTrades(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetTradeHistory(c.Request.Context()))
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetStats(c.Request.Context()))
}

func (s *Server) getSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSymbols(c.Request.Context()))
}

func (s *Server) getStreams(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetStreams(c.Request.Context()))
}

// getOrders returns journaled orders, newest first.
func (s *Server) getOrders(c *gin.Context) {
	limit := defaultOrderLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxOrderLimit)
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))

	orders, err := s.Engine.GetOrders(c.Request.Context(), symbol, limit)
	if err != nil {
		s.respondEngineError(c, "list orders", err)
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(limit))
	c.JSON(http.StatusOK, orders)
}

// createOrder submits a manual order outside the signal flow.
func (s *Server) createOrder(c *gin.Context) {
	var req order.ManualOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	placed, err := s.Engine.PlaceManualOrder(c.Request.Context(), req)
	if err != nil {
		s.respondEngineError(c, "manual order", err)
		return
	}
	s.log.Info("manual order placed",
		zap.String("operator", CurrentOperator(c)),
		zap.String("symbol", placed.Symbol),
		zap.String("client_id", placed.ClientID))
	c.JSON(http.StatusCreated, engine.ViewOrder(placed))
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
