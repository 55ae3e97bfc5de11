package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/crypto_trade_ladder/internal/usecase"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	emergencyTimeout = 2 * time.Minute
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bot.Snapshot())
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bot.Levels())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	trades, err := s.tradeRepo.ListTrades(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	history, err := s.tradeRepo.ListPositionHistory(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list position history", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.bot.Running() {
		s.writeError(w, http.StatusConflict, "not running")
		return
	}
	s.bot.Stop()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	// the close-out must finish even if the client disconnects
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), emergencyTimeout)
	defer cancel()

	if err := s.bot.EmergencyStop(ctx); err != nil {
		s.logger.Error("Emergency stop failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSymbolActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToUpper(r.PathValue("symbol"))
		if err := s.bot.SetSymbolActive(symbol, active); err != nil {
			if errors.Is(err, usecase.ErrUnknownSymbol) {
				s.writeError(w, http.StatusNotFound, err.Error())
				return
			}
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "active": active})
	}
}
