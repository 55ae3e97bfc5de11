package usecase

import (
	"time"

	"github.com/vitos/crypto_trade_ladder/internal/domain"
)

type Phase string

const (
	PhaseFlat     Phase = "FLAT"
	PhaseCooldown Phase = "COOLDOWN"
	PhaseEntering Phase = "ENTERING"
	PhaseActive   Phase = "ACTIVE"
)

// VolatilityCache holds the last computed volatility-band basis.
type VolatilityCache struct {
	Basis      float64
	ComputedAt time.Time
}

// SymbolState is the mutable state of one symbol. It is owned by a single
// SymbolMachine and only touched from the trading loop.
type SymbolState struct {
	Symbol        string
	Phase         Phase
	ActiveLevel   int
	IsFirstEntry  bool
	IsActive      bool
	JustEntered   bool
	SetupPending  bool
	StopActivated bool
	LastCloseTime time.Time

	Protective *ProtectiveOrder
	Cumulative map[int]float64
	Volatility *VolatilityCache

	LastPosition *domain.Position
	LastOrders   []domain.Order
	LastPrice    float64
}

func NewSymbolState(symbol string) *SymbolState {
	return &SymbolState{
		Symbol:       symbol,
		Phase:        PhaseFlat,
		IsFirstEntry: true,
		IsActive:     true,
	}
}

// CanEnter is the re-entry gate: always open for the first entry, otherwise
// closed until CooldownPeriod has passed since the last close.
func (s *SymbolState) CanEnter(now time.Time) bool {
	if s.IsFirstEntry || s.LastCloseTime.IsZero() {
		return true
	}
	return now.Sub(s.LastCloseTime) >= CooldownPeriod
}

// CooldownRemaining is zero once entry is allowed again.
func (s *SymbolState) CooldownRemaining(now time.Time) time.Duration {
	if s.CanEnter(now) {
		return 0
	}
	return CooldownPeriod - now.Sub(s.LastCloseTime)
}

// hasLifecycle reports whether anything of a position lifecycle is still
// recorded, i.e. whether a close has not been processed yet.
func (s *SymbolState) hasLifecycle() bool {
	return s.Phase == PhaseActive || s.Phase == PhaseEntering ||
		s.ActiveLevel > 0 || s.Protective != nil || len(s.Cumulative) > 0 ||
		s.LastPosition != nil || s.JustEntered
}

// resetAfterClose clears everything that belongs to a closed position and
// starts the cooldown.
func (s *SymbolState) resetAfterClose(now time.Time) {
	s.LastCloseTime = now
	s.IsFirstEntry = false
	s.Phase = PhaseCooldown
	s.ActiveLevel = 0
	s.JustEntered = false
	s.SetupPending = false
	s.StopActivated = false
	s.Protective = nil
	s.Cumulative = nil
	s.Volatility = nil
	s.LastPosition = nil
	s.LastOrders = nil
}

// refreshPhase moves COOLDOWN to FLAT once the gate opens again.
func (s *SymbolState) refreshPhase(now time.Time) {
	if s.Phase == PhaseCooldown && s.CanEnter(now) {
		s.Phase = PhaseFlat
	}
}

// Snapshot copies the state into a host-facing value.
func (s *SymbolState) Snapshot(now time.Time) domain.StatusSnapshot {
	snap := domain.StatusSnapshot{
		Symbol:            s.Symbol,
		Active:            s.IsActive,
		Phase:             string(s.Phase),
		Price:             s.LastPrice,
		ActiveLevel:       s.ActiveLevel,
		StopActivated:     s.StopActivated,
		OpenOrders:        len(s.LastOrders),
		CooldownRemaining: s.CooldownRemaining(now),
		TakenAt:           now,
	}
	if s.LastPosition != nil {
		pos := *s.LastPosition
		snap.Position = &pos
	}
	if s.Protective != nil {
		snap.ExitPrice = s.Protective.Price
		snap.ExitKind = string(s.Protective.Kind)
	}
	return snap
}
