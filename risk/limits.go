package risk

import "time"

// Limits is the risk configuration for one session. It is immutable while
// checks run; changing limits goes through Gate.Reload, which swaps the
// whole value, never field-by-field mutation mid-check.
type Limits struct {
	// MaxUnitsPerSymbol caps the absolute open position per symbol,
	// including the intent under evaluation.
	MaxUnitsPerSymbol float64 `json:"max_units_per_symbol" yaml:"max_units_per_symbol"`

	// MaxExposure caps aggregate open exposure across all symbols, in
	// account currency (units * average price), including reservations
	// for in-flight intents.
	MaxExposure float64 `json:"max_exposure" yaml:"max_exposure"`

	MaxOpenPositions        int `json:"max_open_positions" yaml:"max_open_positions"`
	MaxConcurrentStrategies int `json:"max_concurrent_strategies" yaml:"max_concurrent_strategies"`

	// MaxDailyLossPct stops trading for the day once realized plus
	// unrealized losses reach this fraction of equity.
	MaxDailyLossPct float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`

	// MinRR is the minimum reward/risk ratio for intents that carry both
	// a stop-loss and a take-profit.
	MinRR float64 `json:"min_rr" yaml:"min_rr"`

	// SnapshotMaxAge is how old an account snapshot may be and still
	// back an approval.
	SnapshotMaxAge time.Duration `json:"snapshot_max_age" yaml:"snapshot_max_age"`
}

// DefaultLimits are deliberately tight; loosen them in config, not here.
func DefaultLimits() Limits {
	return Limits{
		MaxUnitsPerSymbol:       1.0,
		MaxExposure:             100_000,
		MaxOpenPositions:        5,
		MaxConcurrentStrategies: 4,
		MaxDailyLossPct:         0.03,
		MinRR:                   1.5,
		SnapshotMaxAge:          30 * time.Second,
	}
}
