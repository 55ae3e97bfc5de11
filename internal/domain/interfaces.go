package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNoPosition    = errors.New("no open position")
)

// Gateway is the exchange surface the trading engine is written against.
type Gateway interface {
	FetchBalance(ctx context.Context) (float64, error)
	FetchTicker(ctx context.Context, symbol string) (float64, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	// FetchPosition returns nil when the symbol has no open position.
	FetchPosition(ctx context.Context, symbol string) (*Position, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, amount float64, reduceOnly bool) (*Order, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side OrderSide, price, amount float64, reduceOnly bool) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOrderStatus(ctx context.Context, symbol, orderID string) (OrderLookup, error)

	GetMarketMetadata(ctx context.Context, symbol string) (*MarketMeta, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// StatusSnapshot is one symbol's line in the periodic status report.
type StatusSnapshot struct {
	Symbol            string        `json:"symbol"`
	Active            bool          `json:"active"`
	Phase             string        `json:"phase"`
	Price             float64       `json:"price"`
	Position          *Position     `json:"position,omitempty"`
	ActiveLevel       int           `json:"active_level"`
	ExitPrice         float64       `json:"exit_price,omitempty"`
	ExitKind          string        `json:"exit_kind,omitempty"`
	StopActivated     bool          `json:"stop_activated"`
	OpenOrders        int           `json:"open_orders"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	TakenAt           time.Time     `json:"taken_at"`
}

// TradeRepository defines storage operations for the trade journal.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	ListTrades(ctx context.Context, limit int) ([]*TradeRecord, error)

	SavePositionHistory(ctx context.Context, history *PositionHistory) error
	ListPositionHistory(ctx context.Context, limit int) ([]*PositionHistory, error)

	SaveStatusSnapshots(ctx context.Context, balance float64, snaps []StatusSnapshot) error
}
