package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InstrumentMeta describes how a venue quotes and sizes an instrument.
// Rounding to these increments happens once, at the translation boundary,
// never inside strategies or the risk gate.
type InstrumentMeta struct {
	Symbol        string  `json:"symbol" yaml:"symbol"`
	QuoteCurrency string  `json:"quote_currency" yaml:"quote_currency"`
	TickSize      float64 `json:"tick_size" yaml:"tick_size"` // minimum price increment
	LotStep       float64 `json:"lot_step" yaml:"lot_step"`   // minimum size increment
	MinUnits      float64 `json:"min_units" yaml:"min_units"`
	Tradable      bool    `json:"tradable" yaml:"tradable"`
}

// RoundPrice snaps a price to the instrument's tick size. Direction favors
// the conservative side: a buy price rounds down, a sell price rounds up,
// so the rounded order is never more aggressive than the intent.
func (m InstrumentMeta) RoundPrice(price float64, side Side) float64 {
	if m.TickSize <= 0 || price == 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(m.TickSize)
	steps := p.Div(tick)
	if side == Buy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	f, _ := steps.Mul(tick).Float64()
	return f
}

// RoundUnits snaps a quantity down to the instrument's lot step. Sizing
// only ever shrinks here; growing a quantity could breach a limit the risk
// gate already approved against.
func (m InstrumentMeta) RoundUnits(units float64) (float64, error) {
	if m.LotStep <= 0 {
		return units, nil
	}
	u := decimal.NewFromFloat(units)
	step := decimal.NewFromFloat(m.LotStep)
	f, _ := u.Div(step).Floor().Mul(step).Float64()
	if m.MinUnits > 0 && f < m.MinUnits {
		return 0, fmt.Errorf("units %v below instrument minimum %v after lot rounding", units, m.MinUnits)
	}
	return f, nil
}
