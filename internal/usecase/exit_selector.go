package usecase

import (
	"math"

	"github.com/vitos/crypto_trade_ladder/internal/domain"
)

type ExitKind string

const (
	ExitProfit ExitKind = "profit"
	ExitStop   ExitKind = "stop"
)

// ProtectiveOrder is the single live exit order of an open position.
type ProtectiveOrder struct {
	ID     string   `json:"id"`
	Price  float64  `json:"price"`
	Amount float64  `json:"amount"`
	Kind   ExitKind `json:"kind"`
}

// ProfitTarget is the take-profit price for a long entry.
func ProfitTarget(entryPrice, takeProfitPercent float64) float64 {
	return entryPrice * (1 + takeProfitPercent/100)
}

// SelectExit picks the live exit price. The volatility stop is used only when
// it is known and strictly below the profit target.
func SelectExit(profitTarget, volatilityStop float64, stopAvailable bool) (float64, ExitKind) {
	if stopAvailable && volatilityStop < profitTarget {
		return volatilityStop, ExitStop
	}
	return profitTarget, ExitProfit
}

// NeedsReissue reports whether the live exit order has drifted from the
// selected price or kind enough to be replaced.
func NeedsReissue(current *ProtectiveOrder, price float64, kind ExitKind) bool {
	if current == nil {
		return true
	}
	if current.Kind != kind {
		return true
	}
	return math.Abs(current.Price-price) > ExitRepriceEpsilon
}

// DonchianBasis is the midpoint of the highest high and lowest low over the
// last window candles. It is unavailable with fewer candles than window.
func DonchianBasis(candles []domain.Candle, window int) (float64, bool) {
	if window <= 0 || len(candles) < window {
		return 0, false
	}
	recent := candles[len(candles)-window:]
	highest, lowest := recent[0].High, recent[0].Low
	for _, c := range recent[1:] {
		if c.High > highest {
			highest = c.High
		}
		if c.Low < lowest {
			lowest = c.Low
		}
	}
	return (highest + lowest) / 2, true
}
