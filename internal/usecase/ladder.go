package usecase

import "github.com/vitos/crypto_trade_ladder/internal/domain"

const (
	LevelCount = 10

	// BaseTotalRatioPct is the sum of the base rung ratios.
	BaseTotalRatioPct = 170.0

	// HighRiskRatioPct is the capital usage above which the host should warn.
	HighRiskRatioPct = 300.0
)

var (
	baseDistancesPct = [LevelCount]float64{0, 1.5, 3, 5, 8, 12, 17, 23, 30, 38}
	baseRatiosPct    = [LevelCount]float64{5, 5, 7.5, 10, 12.5, 15, 20, 25, 30, 40}
)

// BaseLevelTable returns the unscaled ladder (ratios sum to 170%).
func BaseLevelTable() domain.LevelTable {
	return BuildLevelTable(BaseTotalRatioPct)
}

// BuildLevelTable rescales the base ratios so that they sum to
// capitalUsageRatio. Distances are left untouched.
func BuildLevelTable(capitalUsageRatio float64) domain.LevelTable {
	multiplier := capitalUsageRatio / BaseTotalRatioPct

	table := make(domain.LevelTable, LevelCount)
	for i := 0; i < LevelCount; i++ {
		table[i] = domain.LevelConfig{
			Level:           i + 1,
			DistancePct:     baseDistancesPct[i],
			CapitalRatioPct: baseRatiosPct[i] * multiplier,
		}
	}
	return table
}

func IsHighRiskRatio(capitalUsageRatio float64) bool {
	return capitalUsageRatio > HighRiskRatioPct
}

// LadderPrice is the limit price of a rung relative to the entry price.
func LadderPrice(entryPrice float64, level domain.LevelConfig) float64 {
	return entryPrice * (1 - level.DistancePct/100)
}
