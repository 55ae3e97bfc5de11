package usecase

import (
	"context"
	"fmt"

	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"github.com/vitos/crypto_trade_ladder/internal/metrics"
	"go.uber.org/zap"
)

// Order kinds recorded in the journal and metrics.
const (
	KindEntry     = "entry"
	KindLadder    = "ladder"
	KindEmergency = "emergency"
)

// TradeExecutor submits orders through the gateway and journals them.
type TradeExecutor struct {
	exchange  domain.Gateway
	tradeRepo domain.TradeRepository
	clock     Clock
	logger    *zap.Logger
}

func NewTradeExecutor(exchange domain.Gateway, tradeRepo domain.TradeRepository, clock Clock, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		exchange:  exchange,
		tradeRepo: tradeRepo,
		clock:     clock,
		logger:    logger,
	}
}

// MarketBuy opens or adds to a long at market.
func (e *TradeExecutor) MarketBuy(ctx context.Context, symbol string, amount float64, level int) (*domain.Order, error) {
	order, err := e.exchange.PlaceMarketOrder(ctx, symbol, domain.OrderSideBuy, amount, false)
	return e.record(ctx, symbol, KindEntry, level, domain.OrderSideBuy, 0, amount, order, err)
}

// CloseLong sells amount at market, reduce-only.
func (e *TradeExecutor) CloseLong(ctx context.Context, symbol string, amount float64) (*domain.Order, error) {
	if amount <= 0 {
		return nil, domain.ErrNoPosition
	}
	order, err := e.exchange.PlaceMarketOrder(ctx, symbol, domain.OrderSideSell, amount, true)
	return e.record(ctx, symbol, KindEmergency, 0, domain.OrderSideSell, 0, amount, order, err)
}

// LadderBuy rests a limit buy for a deeper rung.
func (e *TradeExecutor) LadderBuy(ctx context.Context, symbol string, level int, price, amount float64) (*domain.Order, error) {
	order, err := e.exchange.PlaceLimitOrder(ctx, symbol, domain.OrderSideBuy, price, amount, false)
	return e.record(ctx, symbol, KindLadder, level, domain.OrderSideBuy, price, amount, order, err)
}

// ProtectiveSell rests the reduce-only exit order.
func (e *TradeExecutor) ProtectiveSell(ctx context.Context, symbol string, kind ExitKind, level int, price, amount float64) (*domain.Order, error) {
	order, err := e.exchange.PlaceLimitOrder(ctx, symbol, domain.OrderSideSell, price, amount, true)
	return e.record(ctx, symbol, string(kind), level, domain.OrderSideSell, price, amount, order, err)
}

func (e *TradeExecutor) record(ctx context.Context, symbol, kind string, level int, side domain.OrderSide, price, amount float64, order *domain.Order, err error) (*domain.Order, error) {
	if err != nil {
		metrics.IncOrderError(symbol, kind)
		return nil, fmt.Errorf("%s %s order: %w", kind, side, err)
	}
	if order == nil || order.ID == "" {
		metrics.IncOrderError(symbol, kind)
		return nil, fmt.Errorf("%s %s order: exchange returned no order id", kind, side)
	}
	metrics.IncOrder(symbol, kind)

	if e.tradeRepo != nil {
		rec := &domain.TradeRecord{
			OrderID:   order.ID,
			Symbol:    symbol,
			Level:     level,
			Kind:      kind,
			Side:      side,
			Price:     price,
			Amount:    amount,
			CreatedAt: e.clock.Now(),
		}
		if err := e.tradeRepo.SaveTrade(ctx, rec); err != nil {
			e.logger.Error("Failed to save trade", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return order, nil
}
