package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/executor/indicators"
	"github.com/rustyeddy/executor/order"
)

// Trend follows a fast/slow EMA direction filter and manages the open
// position with a trailing stop. The stop only ever tightens: it ratchets
// up as price moves favorably and never moves back down.
type Trend struct {
	id     string
	name   string
	symbol string
	units  float64
	trail  float64

	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA

	inFlight    string
	pendingOpen bool // accepted venue-side, entry price still unknown
	openUnits   float64
	trailStop   float64

	intents int
	fills   int
	updated time.Time
}

func NewTrend(instanceID string, cfg Config) (*Trend, error) {
	if cfg.Units <= 0 {
		return nil, fmt.Errorf("trend %q: units must be positive", cfg.Name)
	}
	if cfg.TrailDistance <= 0 {
		return nil, fmt.Errorf("trend %q: trail_distance must be positive", cfg.Name)
	}
	fast, slow := cfg.FastPeriod, cfg.SlowPeriod
	if fast <= 0 {
		fast = 10
	}
	if slow <= 0 {
		slow = 30
	}
	if fast >= slow {
		return nil, fmt.Errorf("trend %q: fast_period must be below slow_period", cfg.Name)
	}
	return &Trend{
		id:     instanceID,
		name:   cfg.Name,
		symbol: cfg.Symbol,
		units:  cfg.Units,
		trail:  cfg.TrailDistance,
		fast:   indicators.NewEMA(fast),
		slow:   indicators.NewEMA(slow),
	}, nil
}

func (t *Trend) Evaluate(_ context.Context, view MarketView) []order.Intent {
	if view.Symbol != t.symbol {
		return nil
	}
	t.updated = view.Time
	mid := view.Mid()

	t.fast.Update(mid)
	t.slow.Update(mid)

	// An entry accepted without fill data is live venue-side; anchor the
	// trailing stop on the first mid seen instead of entering again.
	if t.pendingOpen {
		t.pendingOpen = false
		t.openUnits = t.units
		t.trailStop = mid - t.trail
		return nil
	}

	if !t.fast.Ready() || !t.slow.Ready() {
		return nil
	}

	if t.openUnits > 0 {
		// Ratchet: the stop follows price up and holds on the way down.
		if s := mid - t.trail; s > t.trailStop {
			t.trailStop = s
		}
		if mid <= t.trailStop {
			intent := newIntent(t.id, t.symbol, order.Sell, order.Market, t.openUnits)
			intent.Comment = "trail stop exit"
			t.inFlight = intent.IdempotencyKey
			t.intents++
			return []order.Intent{intent}
		}
		return nil
	}

	if t.inFlight != "" {
		return nil
	}

	// Flat: enter long when the fast EMA is above the slow one.
	if t.fast.Value() > t.slow.Value() {
		intent := newIntent(t.id, t.symbol, order.Buy, order.Market, t.units)
		intent.StopLoss = mid - t.trail
		t.inFlight = intent.IdempotencyKey
		t.intents++
		return []order.Intent{intent}
	}
	return nil
}

// TrailStop exposes the current trailing stop, 0 when flat.
func (t *Trend) TrailStop() float64 { return t.trailStop }

func (t *Trend) OnResult(res order.Result) {
	if res.IdempotencyKey != t.inFlight {
		return
	}
	t.inFlight = ""

	if !res.Ok() {
		return
	}
	t.fills++

	if t.openUnits > 0 {
		// Exit filled.
		t.openUnits = 0
		t.trailStop = 0
		return
	}
	if res.FilledPrice == 0 {
		// Accepted but the fill price is unknown (the venue confirmed
		// the order without detail). The position exists; Evaluate
		// anchors the stop on the next tick.
		t.pendingOpen = true
		return
	}
	t.openUnits = res.FilledUnits
	if t.openUnits == 0 {
		t.openUnits = t.units
	}
	t.trailStop = res.FilledPrice - t.trail
}

func (t *Trend) State() RunState {
	return RunState{
		ID:        t.id,
		Name:      t.name,
		Type:      "trend",
		Symbol:    t.symbol,
		Intents:   t.intents,
		Fills:     t.fills,
		UpdatedAt: t.updated,
	}
}
