package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"github.com/vitos/crypto_trade_ladder/internal/metrics"
)

// Closure reasons recorded in position history.
const (
	ReasonProtectiveFill = "protective_fill"
	ReasonInferredFill   = "inferred_fill"
	ReasonExternal       = "manual_or_external"
	ReasonEmergency      = "emergency"
)

// reconcile compares the fresh position and order view with the recorded
// state. It returns true when a closure was handled, in which case the rest
// of the poll is skipped.
func (m *SymbolMachine) reconcile(ctx context.Context, pos *domain.Position, orders []domain.Order) (bool, error) {
	st := m.state
	prev := st.LastPosition

	if pos == nil && len(orders) > 0 {
		m.report.info(st.Symbol, "No position but %d open orders, cancelling them", len(orders))
		m.cleanupOrphans(ctx, orders)
	}

	if prev != nil && pos == nil {
		reason := ReasonExternal
		if st.Protective != nil {
			reason = ReasonProtectiveFill
			m.report.info(st.Symbol, "Position closed, %s exit at %s filled", st.Protective.Kind, FormatPrice(st.Protective.Price))
		} else {
			m.report.info(st.Symbol, "Position closed without a protective order, assuming manual close")
		}
		m.handleClosure(ctx, reason)
		return true, nil
	}

	if st.Protective != nil {
		closed, err := m.checkProtectiveFill(ctx, pos)
		if err != nil {
			m.report.warn(st.Symbol, err, "Protective order lookup failed, retrying next poll")
			return false, nil
		}
		if closed {
			return true, nil
		}
	}
	return false, nil
}

// checkProtectiveFill looks up the recorded exit order. A filled order, or an
// order the exchange no longer knows while no position is open, closes the
// lifecycle.
func (m *SymbolMachine) checkProtectiveFill(ctx context.Context, pos *domain.Position) (bool, error) {
	st := m.state
	lookup, err := m.gateway.FetchOrderStatus(ctx, st.Symbol, st.Protective.ID)
	if err != nil {
		if isNotFound(err) {
			lookup = domain.OrderLookup{NotFound: true}
		} else {
			return false, fmt.Errorf("fetch order %s: %w", st.Protective.ID, err)
		}
	}

	switch {
	case lookup.Status.IsDone():
		m.report.info(st.Symbol, "%s exit order %s filled", st.Protective.Kind, st.Protective.ID)
		m.handleClosure(ctx, ReasonProtectiveFill)
		return true, nil
	case lookup.NotFound && pos == nil:
		m.report.info(st.Symbol, "Exit order %s unknown and no position, inferring it filled", st.Protective.ID)
		m.handleClosure(ctx, ReasonInferredFill)
		return true, nil
	case lookup.NotFound:
		m.report.warn(st.Symbol, nil, "Exit order %s unknown while position is open, re-placing", st.Protective.ID)
		st.Protective = nil
	case lookup.Status == domain.OrderStatusCancelled || lookup.Status == domain.OrderStatusRejected:
		m.report.warn(st.Symbol, nil, "Exit order %s is %s, re-placing", st.Protective.ID, lookup.Status)
		st.Protective = nil
	}
	return false, nil
}

// handleClosure sweeps every open order, journals the closed position and
// resets the lifecycle. Calling it again on an already-reset state only
// sweeps orders; the cooldown start is not moved.
func (m *SymbolMachine) handleClosure(ctx context.Context, reason string) {
	st := m.state
	m.cancelAll(ctx)
	_ = sleep(ctx, m.clock, m.settings.Timings.CloseSettle)

	if !st.hasLifecycle() {
		return
	}

	if prev := st.LastPosition; prev != nil {
		exit := st.LastPrice
		if st.Protective != nil && reason != ReasonExternal {
			exit = st.Protective.Price
		}
		m.saveHistory(ctx, prev, exit, reason)
	}
	metrics.IncClosure(st.Symbol, reason)
	metrics.SetActiveLevel(st.Symbol, 0)

	st.resetAfterClose(m.clock.Now())
	m.report.info(st.Symbol, "State reset, re-entry allowed in %s", CooldownPeriod)
}

func (m *SymbolMachine) saveHistory(ctx context.Context, prev *domain.Position, exit float64, reason string) {
	if m.repo == nil {
		return
	}
	contractSize := 1.0
	if meta, err := m.sizer.Metadata(ctx, prev.Symbol); err == nil && meta.ContractSize > 0 {
		contractSize = meta.ContractSize
	}
	h := &domain.PositionHistory{
		Symbol:      m.state.Symbol,
		Side:        domain.SideLong,
		Amount:      prev.Amount,
		EntryPrice:  prev.EntryPrice,
		ExitPrice:   exit,
		MaxLevel:    m.state.ActiveLevel,
		Reason:      reason,
		RealizedPnL: (exit - prev.EntryPrice) * prev.Amount * contractSize,
		ClosedAt:    m.clock.Now(),
	}
	if err := m.repo.SavePositionHistory(ctx, h); err != nil {
		m.report.warn(m.state.Symbol, err, "Failed to save position history")
	}
}

// cleanupOrphans cancels orders left behind without a position.
func (m *SymbolMachine) cleanupOrphans(ctx context.Context, orders []domain.Order) {
	m.cancelOrders(ctx, orders)
	_ = sleep(ctx, m.clock, m.settings.Timings.OrderSettle)
}

// cancelAll fetches and cancels every open order of the symbol, continuing
// past individual failures.
func (m *SymbolMachine) cancelAll(ctx context.Context) {
	orders, err := m.gateway.FetchOpenOrders(ctx, m.state.Symbol)
	if err != nil {
		m.report.warn(m.state.Symbol, err, "Failed to fetch open orders for cancellation")
		return
	}
	m.cancelOrders(ctx, orders)
}

func (m *SymbolMachine) cancelOrders(ctx context.Context, orders []domain.Order) {
	cancelled := 0
	for _, o := range orders {
		err := m.gateway.CancelOrder(ctx, m.state.Symbol, o.ID)
		if err != nil && !isNotFound(err) {
			m.report.warn(m.state.Symbol, err, "Failed to cancel order %s", o.ID)
			continue
		}
		cancelled++
	}
	if len(orders) > 0 {
		m.report.info(m.state.Symbol, "Cancelled %d/%d open orders", cancelled, len(orders))
	}
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrOrderNotFound) }
