package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"github.com/vitos/crypto_trade_ladder/internal/usecase"
)

func TestSelectExit(t *testing.T) {
	tests := []struct {
		name      string
		profit    float64
		stop      float64
		available bool
		wantPrice float64
		wantKind  usecase.ExitKind
	}{
		{"stop below target", 101.0, 98.0, true, 98.0, usecase.ExitStop},
		{"stop above target", 101.0, 103.0, true, 101.0, usecase.ExitProfit},
		{"stop equal to target", 101.0, 101.0, true, 101.0, usecase.ExitProfit},
		{"stop unavailable", 101.0, 0, false, 101.0, usecase.ExitProfit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, kind := usecase.SelectExit(tt.profit, tt.stop, tt.available)
			assert.Equal(t, tt.wantPrice, price)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestProfitTarget(t *testing.T) {
	assert.InDelta(t, 101.0, usecase.ProfitTarget(100, 1), 1e-9)
	assert.InDelta(t, 0.5125, usecase.ProfitTarget(0.5, 2.5), 1e-12)
}

func TestNeedsReissue(t *testing.T) {
	cur := &usecase.ProtectiveOrder{ID: "1", Price: 101.0, Kind: usecase.ExitProfit}

	assert.True(t, usecase.NeedsReissue(nil, 101, usecase.ExitProfit))
	assert.False(t, usecase.NeedsReissue(cur, 101.005, usecase.ExitProfit))
	assert.True(t, usecase.NeedsReissue(cur, 101.02, usecase.ExitProfit))
	assert.True(t, usecase.NeedsReissue(cur, 101.0, usecase.ExitStop))
}

func TestDonchianBasis(t *testing.T) {
	_, ok := usecase.DonchianBasis(make([]domain.Candle, 79), 80)
	assert.False(t, ok)

	candles := flatCandles(100, 100, 96)
	candles[0].High = 500 // outside the window
	candles[50].High = 104
	basis, ok := usecase.DonchianBasis(candles, 80)
	assert.True(t, ok)
	assert.Equal(t, 100.0, basis)
}

// flatCandles returns n candles with the same high and low.
func flatCandles(n int, high, low float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{Time: int64(i) * 3600, Open: low, High: high, Low: low, Close: high}
	}
	return out
}
