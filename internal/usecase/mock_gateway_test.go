package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_ladder/internal/domain"
)

type placedOrder struct {
	Symbol     string
	Side       domain.OrderSide
	Price      float64
	Amount     float64
	ReduceOnly bool
	Market     bool
}

// MockGateway simulates just enough of an exchange for the trading loop.
type MockGateway struct {
	mu sync.Mutex

	Balance     float64
	BalanceErr  error
	Prices      map[string]float64
	TickerErr   map[string]error
	Positions   map[string]*domain.Position
	PositionErr map[string]error
	OrdersErr   map[string]error
	Open        map[string][]domain.Order
	Lookups     map[string]domain.OrderLookup
	Candles     map[string][]domain.Candle
	Meta        map[string]*domain.MarketMeta
	MetaErr     error
	LeverageErr error

	// FillMarket makes market buys open or extend the position immediately.
	FillMarket bool

	Placed        []placedOrder
	Cancelled     []string
	Leverage      map[string]int
	PositionCalls int
	OHLCVCalls    int
	nextID        int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		Balance:     1000,
		Prices:      map[string]float64{},
		TickerErr:   map[string]error{},
		Positions:   map[string]*domain.Position{},
		PositionErr: map[string]error{},
		OrdersErr:   map[string]error{},
		Open:        map[string][]domain.Order{},
		Lookups:     map[string]domain.OrderLookup{},
		Candles:     map[string][]domain.Candle{},
		Meta:        map[string]*domain.MarketMeta{},
		Leverage:    map[string]int{},
		FillMarket:  true,
	}
}

func (m *MockGateway) FetchBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, m.BalanceErr
}

func (m *MockGateway) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.TickerErr[symbol]; err != nil {
		return 0, err
	}
	p, ok := m.Prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

func (m *MockGateway) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OHLCVCalls++
	return m.Candles[symbol], nil
}

func (m *MockGateway) FetchPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PositionCalls++
	if err := m.PositionErr[symbol]; err != nil {
		return nil, err
	}
	p := m.Positions[symbol]
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.OrdersErr[symbol]; err != nil {
		return nil, err
	}
	return append([]domain.Order(nil), m.Open[symbol]...), nil
}

func (m *MockGateway) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, amount float64, reduceOnly bool) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("mkt-%d", m.nextID)
	m.Placed = append(m.Placed, placedOrder{Symbol: symbol, Side: side, Amount: amount, ReduceOnly: reduceOnly, Market: true})

	if m.FillMarket {
		pos := m.Positions[symbol]
		switch {
		case side == domain.OrderSideBuy && pos == nil:
			m.Positions[symbol] = &domain.Position{Symbol: symbol, Side: domain.SideLong, Amount: amount, EntryPrice: m.Prices[symbol]}
		case side == domain.OrderSideBuy:
			pos.Amount += amount
		case side == domain.OrderSideSell && pos != nil:
			pos.Amount -= amount
			if pos.Amount <= 1e-12 {
				delete(m.Positions, symbol)
			}
		}
	}
	return &domain.Order{ID: id, Symbol: symbol, Side: side, Amount: amount, Status: domain.OrderStatusFilled, ReduceOnly: reduceOnly}, nil
}

func (m *MockGateway) PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, amount float64, reduceOnly bool) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o := domain.Order{
		ID:         fmt.Sprintf("lmt-%d", m.nextID),
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Amount:     amount,
		Status:     domain.OrderStatusNew,
		ReduceOnly: reduceOnly,
	}
	m.Placed = append(m.Placed, placedOrder{Symbol: symbol, Side: side, Price: price, Amount: amount, ReduceOnly: reduceOnly})
	m.Open[symbol] = append(m.Open[symbol], o)
	return &o, nil
}

func (m *MockGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := m.Open[symbol]
	for i, o := range orders {
		if o.ID == orderID {
			m.Open[symbol] = append(orders[:i:i], orders[i+1:]...)
			m.Cancelled = append(m.Cancelled, orderID)
			m.Lookups[orderID] = domain.OrderLookup{Status: domain.OrderStatusCancelled}
			return nil
		}
	}
	return domain.ErrOrderNotFound
}

func (m *MockGateway) FetchOrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderLookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.Lookups[orderID]; ok {
		return l, nil
	}
	for _, o := range m.Open[symbol] {
		if o.ID == orderID {
			return domain.OrderLookup{Status: o.Status}, nil
		}
	}
	return domain.OrderLookup{NotFound: true}, nil
}

func (m *MockGateway) GetMarketMetadata(ctx context.Context, symbol string) (*domain.MarketMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MetaErr != nil {
		return nil, m.MetaErr
	}
	if meta, ok := m.Meta[symbol]; ok {
		return meta, nil
	}
	return &domain.MarketMeta{Symbol: symbol, ContractSize: 1, AmountPrecision: 3, MinAmount: 0.001, TickSize: 0.01}, nil
}

func (m *MockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LeverageErr != nil {
		return m.LeverageErr
	}
	m.Leverage[symbol] = leverage
	return nil
}

// FillProtective simulates the exit order executing: the position and the
// order disappear.
func (m *MockGateway) FillProtective(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Positions, symbol)
	var kept []domain.Order
	for _, o := range m.Open[symbol] {
		if o.ReduceOnly {
			m.Lookups[o.ID] = domain.OrderLookup{Status: domain.OrderStatusFilled}
			continue
		}
		kept = append(kept, o)
	}
	m.Open[symbol] = kept
}

func (m *MockGateway) SetPosition(symbol string, pos *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos == nil {
		delete(m.Positions, symbol)
		return
	}
	m.Positions[symbol] = pos
}

func (m *MockGateway) CandleFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OHLCVCalls
}

func (m *MockGateway) OpenOrders(symbol string) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Order(nil), m.Open[symbol]...)
}

func (m *MockGateway) PlacedFor(symbol string) []placedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []placedOrder
	for _, p := range m.Placed {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockGateway) MarketOrders(symbol string) []placedOrder {
	var out []placedOrder
	for _, p := range m.PlacedFor(symbol) {
		if p.Market {
			out = append(out, p)
		}
	}
	return out
}

// MockRepo keeps the journal in memory.
type MockRepo struct {
	mu        sync.Mutex
	Trades    []*domain.TradeRecord
	History   []*domain.PositionHistory
	Snapshots [][]domain.StatusSnapshot
	SaveErr   error
}

func (r *MockRepo) SaveTrade(ctx context.Context, trade *domain.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.Trades = append(r.Trades, trade)
	return nil
}

func (r *MockRepo) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Trades, nil
}

func (r *MockRepo) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.History = append(r.History, h)
	return nil
}

func (r *MockRepo) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.History, nil
}

func (r *MockRepo) Histories() []*domain.PositionHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.PositionHistory(nil), r.History...)
}

func (r *MockRepo) SnapshotBatches() [][]domain.StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]domain.StatusSnapshot(nil), r.Snapshots...)
}

func (r *MockRepo) SaveStatusSnapshots(ctx context.Context, balance float64, snaps []domain.StatusSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Snapshots = append(r.Snapshots, snaps)
	return nil
}

// fakeClock advances by the requested duration on every After call so
// settle delays and cycle waits complete instantly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")
