package usecase

import (
	"context"
	"math"
)

// BuildCumulativeTable sizes every rung at its own ladder price and returns
// the running total of expected position size per level.
func (s *OrderSizer) BuildCumulativeTable(ctx context.Context, symbol string, entryPrice, totalBalance float64) (map[int]float64, error) {
	table := make(map[int]float64, len(s.levels))
	total := 0.0
	for _, lvl := range s.levels {
		amount, err := s.CalculateOrderAmount(ctx, lvl.Level, LadderPrice(entryPrice, lvl), totalBalance, symbol)
		if err != nil {
			return nil, err
		}
		total += amount
		table[lvl.Level] = total
	}
	return table, nil
}

// InferLevel guesses how deep the ladder has filled by picking the level
// whose cumulative size is closest to the observed position amount. Ties go
// to the lowest level; an empty table means level 1.
//
// This is a heuristic. Partial fills, fills out of ladder order, or a balance
// change since the table was built can all make it report the wrong level.
func InferLevel(cumulative map[int]float64, amount float64) int {
	if len(cumulative) == 0 {
		return 1
	}
	closest := 1
	minDiff := math.Inf(1)
	for level := 1; level <= LevelCount; level++ {
		cum, ok := cumulative[level]
		if !ok {
			continue
		}
		diff := math.Abs(amount - cum)
		if diff < minDiff {
			minDiff = diff
			closest = level
		}
	}
	return closest
}
