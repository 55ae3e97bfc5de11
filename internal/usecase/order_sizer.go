package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"go.uber.org/zap"
)

// OrderSizer turns a rung's capital share into an exchange-valid quantity.
// Capital is split evenly across all configured symbols.
type OrderSizer struct {
	levels      domain.LevelTable
	symbolCount int
	gateway     domain.Gateway
	logger      *zap.Logger

	mu   sync.RWMutex
	meta map[string]*domain.MarketMeta
}

func NewOrderSizer(levels domain.LevelTable, symbolCount int, gateway domain.Gateway, logger *zap.Logger) *OrderSizer {
	if symbolCount < 1 {
		symbolCount = 1
	}
	return &OrderSizer{
		levels:      levels,
		symbolCount: symbolCount,
		gateway:     gateway,
		logger:      logger,
		meta:        make(map[string]*domain.MarketMeta),
	}
}

// PositionValue is the quote-currency value allotted to a rung for one symbol.
func (s *OrderSizer) PositionValue(level int, totalBalance float64) (float64, error) {
	cfg, ok := s.levels.Get(level)
	if !ok {
		return 0, fmt.Errorf("unknown level %d", level)
	}
	ratio := cfg.CapitalRatioPct / 100
	perSymbol := ratio / float64(s.symbolCount)
	return totalBalance * perSymbol, nil
}

// CalculateOrderAmount returns the contract quantity for a rung at price.
// Missing market metadata degrades precision instead of failing.
func (s *OrderSizer) CalculateOrderAmount(ctx context.Context, level int, price, totalBalance float64, symbol string) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %v", price)
	}
	value, err := s.PositionValue(level, totalBalance)
	if err != nil {
		return 0, err
	}

	meta, err := s.Metadata(ctx, symbol)
	if err != nil {
		s.logger.Warn("Market metadata unavailable, using fallback sizing",
			zap.String("symbol", symbol), zap.Error(err))
		return fallbackAmount(value, price), nil
	}
	return sizeWithMeta(value, price, meta), nil
}

// Metadata returns cached market rules, fetching them on first use.
func (s *OrderSizer) Metadata(ctx context.Context, symbol string) (*domain.MarketMeta, error) {
	s.mu.RLock()
	m, ok := s.meta[symbol]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := s.gateway.GetMarketMetadata(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("no market metadata for %s", symbol)
	}

	s.mu.Lock()
	s.meta[symbol] = m
	s.mu.Unlock()
	return m, nil
}

func sizeWithMeta(value, price float64, meta *domain.MarketMeta) float64 {
	contractSize := meta.ContractSize
	if contractSize <= 0 {
		contractSize = 1
	}
	raw := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(price * contractSize))
	contracts, _ := raw.Round(meta.AmountPrecision).Float64()
	if contracts < meta.MinAmount {
		contracts = meta.MinAmount
	}
	return contracts
}

func fallbackAmount(value, price float64) float64 {
	raw := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(price))
	contracts, _ := raw.Round(FallbackAmountDecimal).Float64()
	if contracts < FallbackMinAmount {
		contracts = FallbackMinAmount
	}
	return contracts
}
