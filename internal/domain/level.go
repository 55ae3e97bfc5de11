package domain

// LevelConfig is one rung of the entry ladder.
type LevelConfig struct {
	Level           int     `json:"level"`
	DistancePct     float64 `json:"distance_pct"`      // price drop from entry, in percent
	CapitalRatioPct float64 `json:"capital_ratio_pct"` // share of total balance, in percent
}

// LevelTable holds the ten rungs ordered by level, index 0 is level 1.
type LevelTable []LevelConfig

// Get returns the rung for a 1-based level.
func (t LevelTable) Get(level int) (LevelConfig, bool) {
	if level < 1 || level > len(t) {
		return LevelConfig{}, false
	}
	return t[level-1], true
}

// TotalRatioPct is the sum of all rung ratios.
func (t LevelTable) TotalRatioPct() float64 {
	total := 0.0
	for _, l := range t {
		total += l.CapitalRatioPct
	}
	return total
}
