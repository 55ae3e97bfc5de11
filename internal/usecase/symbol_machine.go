package usecase

import (
	"context"
	"fmt"
	"math"

	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"github.com/vitos/crypto_trade_ladder/internal/metrics"
)

// SymbolMachine drives one symbol through FLAT, ENTERING, ACTIVE and
// COOLDOWN. All methods run on the trading loop goroutine.
type SymbolMachine struct {
	state    *SymbolState
	settings Settings
	gateway  domain.Gateway
	sizer    *OrderSizer
	executor *TradeExecutor
	repo     domain.TradeRepository
	clock    Clock
	report   reporter
}

func newSymbolMachine(symbol string, settings Settings, gateway domain.Gateway, sizer *OrderSizer,
	executor *TradeExecutor, repo domain.TradeRepository, clock Clock, report reporter) *SymbolMachine {
	return &SymbolMachine{
		state:    NewSymbolState(symbol),
		settings: settings,
		gateway:  gateway,
		sizer:    sizer,
		executor: executor,
		repo:     repo,
		clock:    clock,
		report:   report,
	}
}

func (m *SymbolMachine) State() *SymbolState { return m.state }

// Process runs one poll: observe, reconcile, then act.
func (m *SymbolMachine) Process(ctx context.Context, balance float64) error {
	st := m.state
	st.refreshPhase(m.clock.Now())

	price, err := m.gateway.FetchTicker(ctx, st.Symbol)
	if err != nil {
		return fmt.Errorf("fetch ticker: %w", err)
	}
	st.LastPrice = price

	pos, err := m.fetchPositionWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("fetch position: %w", err)
	}
	orders, err := m.gateway.FetchOpenOrders(ctx, st.Symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	closed, err := m.reconcile(ctx, pos, orders)
	if err != nil {
		return err
	}
	if closed {
		st.LastPosition = nil
		st.LastOrders = nil
		return nil
	}

	prev := st.LastPosition
	switch {
	case pos != nil && prev == nil && !st.JustEntered:
		m.adoptExternal(ctx, pos, orders, balance)
	case pos == nil:
		st.LastOrders = nil
		m.handleFlat(ctx, price, balance)
		return nil
	default:
		m.manage(ctx, pos, balance)
	}

	if pos != nil {
		p := *pos
		st.LastPosition = &p
	}
	st.LastOrders = orders
	return nil
}

// fetchPositionWithRetry treats a non-long or empty position as flat.
func (m *SymbolMachine) fetchPositionWithRetry(ctx context.Context) (*domain.Position, error) {
	var lastErr error
	for attempt := 1; attempt <= positionFetchAttempts; attempt++ {
		pos, err := m.gateway.FetchPosition(ctx, m.state.Symbol)
		if err == nil {
			if pos == nil || pos.Amount <= 0 || pos.Side != domain.SideLong {
				return nil, nil
			}
			return pos, nil
		}
		lastErr = err
		if attempt < positionFetchAttempts {
			if err := sleep(ctx, m.clock, m.settings.Timings.PositionRetry*timeMultiple(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", positionFetchAttempts, lastErr)
}

// adoptExternal takes over a position the bot did not open itself.
func (m *SymbolMachine) adoptExternal(ctx context.Context, pos *domain.Position, orders []domain.Order, balance float64) {
	st := m.state
	m.report.info(st.Symbol, "New long position detected: %g @ %s", pos.Amount, FormatPrice(pos.EntryPrice))
	if len(orders) > 0 {
		m.cancelOrders(ctx, orders)
		_ = sleep(ctx, m.clock, m.settings.Timings.OrderSettle)
	}
	st.Protective = nil
	st.JustEntered = true
	st.Phase = PhaseActive
	if st.ActiveLevel < 1 {
		st.ActiveLevel = 1
	}
	m.completeSetup(ctx, pos, balance)
	m.updateProtective(ctx, pos)
}

func (m *SymbolMachine) handleFlat(ctx context.Context, price, balance float64) {
	st := m.state
	st.JustEntered = false
	if st.SetupPending {
		m.report.warn(st.Symbol, nil, "Entry was never confirmed by a position, dropping pending setup")
		st.SetupPending = false
		st.Phase = PhaseFlat
	}

	now := m.clock.Now()
	if !st.CanEnter(now) {
		m.report.info(st.Symbol, "Re-entry cooldown, %.0fs remaining", st.CooldownRemaining(now).Seconds())
		return
	}
	if balance <= 0 {
		m.report.warn(st.Symbol, nil, "No balance available, skipping entry")
		return
	}
	m.enter(ctx, price, balance)
}

// enter opens level 1 at market and sets up the ladder once the position
// shows up.
func (m *SymbolMachine) enter(ctx context.Context, price, balance float64) {
	st := m.state
	amount, err := m.sizer.CalculateOrderAmount(ctx, 1, price, balance, st.Symbol)
	if err != nil {
		m.report.error(st.Symbol, err, "Failed to size entry")
		return
	}
	m.report.info(st.Symbol, "No position, opening level 1 long at market: %g contracts near %s", amount, FormatPrice(price))
	if _, err := m.executor.MarketBuy(ctx, st.Symbol, amount, 1); err != nil {
		m.report.error(st.Symbol, err, "Entry order failed")
		return
	}

	st.Phase = PhaseEntering
	st.JustEntered = true
	st.ActiveLevel = 1
	metrics.SetActiveLevel(st.Symbol, 1)

	pos := m.confirmEntry(ctx)
	if pos == nil {
		st.SetupPending = true
		m.report.warn(st.Symbol, nil, "Entry not confirmed yet, ladder setup deferred to next poll")
		return
	}
	m.report.info(st.Symbol, "Entry confirmed: %g @ %s", pos.Amount, FormatPrice(pos.EntryPrice))
	st.Phase = PhaseActive
	m.completeSetup(ctx, pos, balance)
	m.updateProtective(ctx, pos)
	p := *pos
	st.LastPosition = &p
}

func (m *SymbolMachine) confirmEntry(ctx context.Context) *domain.Position {
	for attempt := 1; attempt <= entryConfirmAttempts; attempt++ {
		if err := sleep(ctx, m.clock, m.settings.Timings.EntryConfirm*timeMultiple(attempt)); err != nil {
			return nil
		}
		pos, err := m.gateway.FetchPosition(ctx, m.state.Symbol)
		if err != nil {
			m.report.warn(m.state.Symbol, err, "Entry confirmation attempt %d failed", attempt)
			continue
		}
		if pos != nil && pos.Amount > 0 && pos.Side == domain.SideLong {
			return pos
		}
	}
	return nil
}

// completeSetup places rungs 2..N and builds the cumulative table. Without
// balance the setup stays pending.
func (m *SymbolMachine) completeSetup(ctx context.Context, pos *domain.Position, balance float64) {
	st := m.state
	if balance <= 0 {
		st.SetupPending = true
		m.report.warn(st.Symbol, nil, "No balance available, ladder setup deferred")
		return
	}
	m.placeLadder(ctx, pos.EntryPrice, balance)
	m.rebuildCumulative(ctx, pos.EntryPrice, balance)
	st.SetupPending = false
}

func (m *SymbolMachine) placeLadder(ctx context.Context, entryPrice, balance float64) {
	st := m.state
	placed := 0
	for _, lvl := range m.settings.Levels {
		if lvl.Level < 2 {
			continue
		}
		price := LadderPrice(entryPrice, lvl)
		amount, err := m.sizer.CalculateOrderAmount(ctx, lvl.Level, price, balance, st.Symbol)
		if err != nil {
			m.report.warn(st.Symbol, err, "Failed to size level %d", lvl.Level)
			continue
		}
		if _, err := m.executor.LadderBuy(ctx, st.Symbol, lvl.Level, price, amount); err != nil {
			m.report.warn(st.Symbol, err, "Level %d order failed", lvl.Level)
			continue
		}
		m.report.info(st.Symbol, "Level %d buy placed: %g @ %s", lvl.Level, amount, FormatPrice(price))
		placed++
	}
	m.report.info(st.Symbol, "Ladder placed: %d/%d levels", placed, len(m.settings.Levels)-1)
	_ = sleep(ctx, m.clock, m.settings.Timings.OrderSettle)
}

func (m *SymbolMachine) rebuildCumulative(ctx context.Context, entryPrice, balance float64) {
	cum, err := m.sizer.BuildCumulativeTable(ctx, m.state.Symbol, entryPrice, balance)
	if err != nil {
		m.report.warn(m.state.Symbol, err, "Failed to build cumulative table")
		return
	}
	m.state.Cumulative = cum
}

// manage is the steady-state step for an open, known position.
func (m *SymbolMachine) manage(ctx context.Context, pos *domain.Position, balance float64) {
	st := m.state
	st.Phase = PhaseActive

	if st.SetupPending && balance > 0 {
		m.report.info(st.Symbol, "Completing pending ladder setup")
		m.completeSetup(ctx, pos, balance)
	}
	if len(st.Cumulative) == 0 && balance > 0 {
		m.rebuildCumulative(ctx, pos.EntryPrice, balance)
	}

	level := InferLevel(st.Cumulative, pos.Amount)
	if level > st.ActiveLevel {
		if st.ActiveLevel > 0 {
			m.report.info(st.Symbol, "Level progressed %d -> %d (position %g)", st.ActiveLevel, level, pos.Amount)
		}
		st.ActiveLevel = level
	}
	metrics.SetActiveLevel(st.Symbol, st.ActiveLevel)

	if !st.StopActivated && st.ActiveLevel >= m.settings.StopActivationLevel {
		st.StopActivated = true
		m.report.info(st.Symbol, "Level %d reached, volatility stop activated", st.ActiveLevel)
	}

	m.updateProtective(ctx, pos)
}

// updateProtective keeps exactly one reduce-only exit order at the selected
// price, replacing it only when it drifts.
func (m *SymbolMachine) updateProtective(ctx context.Context, pos *domain.Position) {
	st := m.state
	target := ProfitTarget(pos.EntryPrice, m.settings.TakeProfitPercent)
	stop, ok := 0.0, false
	if st.StopActivated {
		stop, ok = m.volatilityBasis(ctx)
	}
	price, kind := SelectExit(target, stop, ok)

	cur := st.Protective
	if !NeedsReissue(cur, price, kind) && cur.Amount == pos.Amount {
		return
	}

	if cur != nil {
		err := m.gateway.CancelOrder(ctx, st.Symbol, cur.ID)
		if err != nil && !isNotFound(err) {
			m.report.warn(st.Symbol, err, "Failed to cancel exit order %s, keeping it", cur.ID)
			return
		}
		st.Protective = nil
		_ = sleep(ctx, m.clock, m.settings.Timings.CancelSettle)
	}

	order, err := m.executor.ProtectiveSell(ctx, st.Symbol, kind, st.ActiveLevel, price, pos.Amount)
	if err != nil {
		m.report.error(st.Symbol, err, "Failed to place %s exit order", kind)
		return
	}
	st.Protective = &ProtectiveOrder{ID: order.ID, Price: price, Amount: pos.Amount, Kind: kind}
	m.report.info(st.Symbol, "Exit order set: %s %s for %g", kind, FormatPrice(price), pos.Amount)
}

// volatilityBasis returns the cached band basis, refreshing it hourly.
func (m *SymbolMachine) volatilityBasis(ctx context.Context) (float64, bool) {
	st := m.state
	now := m.clock.Now()
	if c := st.Volatility; c != nil && now.Sub(c.ComputedAt) < VolatilityCacheTTL {
		return c.Basis, true
	}
	candles, err := m.gateway.FetchOHLCV(ctx, st.Symbol, VolatilityInterval, VolatilityWindow)
	if err != nil {
		m.report.warn(st.Symbol, err, "Failed to fetch candles for volatility band")
		return 0, false
	}
	basis, ok := DonchianBasis(candles, VolatilityWindow)
	if !ok {
		m.report.warn(st.Symbol, nil, "Only %d candles, volatility band unavailable", len(candles))
		return 0, false
	}
	st.Volatility = &VolatilityCache{Basis: basis, ComputedAt: now}
	m.report.info(st.Symbol, "Volatility band basis updated: %s", FormatPrice(basis))
	return basis, true
}

// emergencyClose cancels everything and market-sells any long. A closed long
// is journaled and the lifecycle reset like any other closure.
func (m *SymbolMachine) emergencyClose(ctx context.Context) {
	st := m.state
	m.cancelAll(ctx)
	pos, err := m.gateway.FetchPosition(ctx, st.Symbol)
	if err != nil {
		m.report.error(st.Symbol, err, "Emergency stop: failed to fetch position")
		return
	}
	if pos == nil || pos.Amount <= 0 || pos.Side != domain.SideLong {
		// the exit order was swept above
		st.Protective = nil
		return
	}
	if _, err := m.executor.CloseLong(ctx, st.Symbol, math.Abs(pos.Amount)); err != nil {
		m.report.error(st.Symbol, err, "Emergency stop: market close failed")
		return
	}
	m.report.info(st.Symbol, "Emergency stop: long of %g closed at market", pos.Amount)

	exit := st.LastPrice
	if price, err := m.gateway.FetchTicker(ctx, st.Symbol); err == nil {
		exit = price
		st.LastPrice = price
	}
	m.saveHistory(ctx, pos, exit, ReasonEmergency)
	metrics.IncClosure(st.Symbol, ReasonEmergency)
	metrics.SetActiveLevel(st.Symbol, 0)
	st.resetAfterClose(m.clock.Now())
}
