package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"github.com/vitos/crypto_trade_ladder/internal/usecase"
	"go.uber.org/zap"
)

// Controller is the part of the trading service the HTTP surface drives.
type Controller interface {
	Snapshot() usecase.Status
	Levels() domain.LevelTable
	Running() bool
	Stop()
	EmergencyStop(ctx context.Context) error
	SetSymbolActive(symbol string, active bool) error
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	bot       Controller
	tradeRepo domain.TradeRepository
	hub       *Hub
	logger    *zap.Logger
}

func NewServer(port int, bot Controller, tradeRepo domain.TradeRepository, hub *Hub, logger *zap.Logger) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		bot:       bot,
		tradeRepo: tradeRepo,
		hub:       hub,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /api/levels", s.handleLevels)

	// Journal
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/positions/history", s.handlePositionHistory)

	// Control
	s.router.HandleFunc("POST /api/stop", s.handleStop)
	s.router.HandleFunc("POST /api/emergency-stop", s.handleEmergencyStop)
	s.router.HandleFunc("POST /api/symbols/{symbol}/pause", s.handleSymbolActive(false))
	s.router.HandleFunc("POST /api/symbols/{symbol}/resume", s.handleSymbolActive(true))

	// Live events
	if s.hub != nil {
		s.router.Handle("GET /ws/events", s.hub)
	}

	s.router.Handle("GET /metrics", promhttp.Handler())
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
