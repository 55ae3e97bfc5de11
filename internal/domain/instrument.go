package domain

// MarketMeta carries the per-symbol trading rules needed for sizing.
type MarketMeta struct {
	Symbol          string  `json:"symbol"`
	ContractSize    float64 `json:"contract_size"`
	AmountPrecision int32   `json:"amount_precision"` // decimal places, negative for tens/hundreds
	MinAmount       float64 `json:"min_amount"`
	TickSize        float64 `json:"tick_size"`
}
