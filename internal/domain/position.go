package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusClosed          OrderStatus = "closed"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsDone reports whether the order was fully executed.
func (s OrderStatus) IsDone() bool {
	return s == OrderStatusFilled || s == OrderStatusClosed
}

// Position is a read-only snapshot of an open position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Amount        float64 `json:"amount"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
}

// Order is a read-only snapshot of an exchange order.
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       OrderSide   `json:"side"`
	Price      float64     `json:"price"`
	Amount     float64     `json:"amount"`
	Status     OrderStatus `json:"status"`
	ReduceOnly bool        `json:"reduce_only"`
}

// OrderLookup is the result of an order status query. NotFound is set when
// the exchange no longer knows the order, which is not a transport failure.
type OrderLookup struct {
	Status   OrderStatus
	NotFound bool
}

// TradeRecord is a journal entry for an order the bot submitted.
type TradeRecord struct {
	ID        int64
	OrderID   string
	Symbol    string
	Level     int
	Kind      string // entry, ladder, profit, stop, emergency
	Side      OrderSide
	Price     float64
	Amount    float64
	CreatedAt time.Time
}

// PositionHistory represents a closed position.
type PositionHistory struct {
	ID          int64
	Symbol      string
	Side        Side
	Amount      float64
	EntryPrice  float64
	ExitPrice   float64
	MaxLevel    int
	Reason      string
	RealizedPnL float64
	ClosedAt    time.Time
}
