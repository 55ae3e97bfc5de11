package usecase

import (
	"time"

	"github.com/vitos/crypto_trade_ladder/internal/domain"
)

const (
	CooldownPeriod        = 60 * time.Second
	VolatilityCacheTTL    = time.Hour
	VolatilityWindow      = 80
	VolatilityInterval    = "60"
	ExitRepriceEpsilon    = 0.01
	FallbackMinAmount     = 0.001
	FallbackAmountDecimal = 8

	positionFetchAttempts = 5
	entryConfirmAttempts  = 3
)

// Timings groups every delay the engine waits on. Tests shrink or fake them.
type Timings struct {
	CycleInterval  time.Duration
	SymbolPause    time.Duration
	StatusInterval time.Duration
	FatalBackoff   time.Duration

	// settle delays after state-changing calls
	CancelSettle   time.Duration
	OrderSettle    time.Duration
	CloseSettle    time.Duration
	EntryConfirm   time.Duration
	PositionRetry  time.Duration
	EmergencyPause time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		CycleInterval:  30 * time.Second,
		SymbolPause:    time.Second,
		StatusInterval: 10 * time.Minute,
		FatalBackoff:   10 * time.Second,
		CancelSettle:   500 * time.Millisecond,
		OrderSettle:    time.Second,
		CloseSettle:    time.Second,
		EntryConfirm:   time.Second,
		PositionRetry:  time.Second,
		EmergencyPause: 500 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultTimings.
func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.CycleInterval <= 0 {
		t.CycleInterval = d.CycleInterval
	}
	if t.SymbolPause <= 0 {
		t.SymbolPause = d.SymbolPause
	}
	if t.StatusInterval <= 0 {
		t.StatusInterval = d.StatusInterval
	}
	if t.FatalBackoff <= 0 {
		t.FatalBackoff = d.FatalBackoff
	}
	if t.CancelSettle <= 0 {
		t.CancelSettle = d.CancelSettle
	}
	if t.OrderSettle <= 0 {
		t.OrderSettle = d.OrderSettle
	}
	if t.CloseSettle <= 0 {
		t.CloseSettle = d.CloseSettle
	}
	if t.EntryConfirm <= 0 {
		t.EntryConfirm = d.EntryConfirm
	}
	if t.PositionRetry <= 0 {
		t.PositionRetry = d.PositionRetry
	}
	if t.EmergencyPause <= 0 {
		t.EmergencyPause = d.EmergencyPause
	}
	return t
}

// Settings is the validated engine configuration.
type Settings struct {
	Symbols             []string
	Leverage            int
	TakeProfitPercent   float64
	StopActivationLevel int
	Levels              domain.LevelTable
	Timings             Timings
}
