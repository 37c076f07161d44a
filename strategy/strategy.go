package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/pkg/id"
	"github.com/rustyeddy/executor/signal"
)

// MarketView is the market context a strategy evaluates against: the
// current top of book for its symbol.
type MarketView struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

func (v MarketView) Mid() float64 {
	return (v.Bid + v.Ask) / 2
}

// RunState is the externally visible summary of one strategy instance.
// The instance's private memory (grid levels, martingale level) stays
// private; only counters and the halt flag leak out.
type RunState struct {
	ID     string
	Name   string
	Type   string
	Symbol string

	Halted     bool
	HaltReason string

	Intents int // intents produced so far
	Fills   int
	Level   int // variant-specific: martingale level, open grid levels

	UpdatedAt time.Time
}

// Strategy is the capability every variant implements: given market
// context and its own run state, produce zero or more intents, and consume
// results to update that state. Implementations are not safe for
// concurrent use; the engine serializes calls per instance.
type Strategy interface {
	Evaluate(ctx context.Context, view MarketView) []order.Intent
	OnResult(res order.Result)
	State() RunState
}

// SignalSink is implemented by strategies that consume externally supplied
// signals in addition to market ticks.
type SignalSink interface {
	OnSignal(sig signal.Signal)
}

// Config declares one strategy instance. Type selects the variant; the
// variant reads the parameters it understands and validates them at
// construction.
type Config struct {
	Name   string  `json:"name" yaml:"name"`
	Type   string  `json:"type" yaml:"type"` // grid, martingale, signal, trend
	Symbol string  `json:"symbol" yaml:"symbol"`
	Units  float64 `json:"units" yaml:"units"`

	// Grid
	GridSpacing float64 `json:"grid_spacing,omitempty" yaml:"grid_spacing,omitempty"`
	GridLevels  int     `json:"grid_levels,omitempty" yaml:"grid_levels,omitempty"`
	GridRef     float64 `json:"grid_ref,omitempty" yaml:"grid_ref,omitempty"` // 0 = first mid seen

	// Martingale
	ScaleFactor    float64 `json:"scale_factor,omitempty" yaml:"scale_factor,omitempty"`
	MaxLevel       int     `json:"max_level,omitempty" yaml:"max_level,omitempty"`
	StopDistance   float64 `json:"stop_distance,omitempty" yaml:"stop_distance,omitempty"`
	TargetDistance float64 `json:"target_distance,omitempty" yaml:"target_distance,omitempty"`

	// Signal-driven
	MaxSignalAge  time.Duration `json:"max_signal_age,omitempty" yaml:"max_signal_age,omitempty"`
	MinConfidence float64       `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`

	// Trend-following
	FastPeriod    int     `json:"fast_period,omitempty" yaml:"fast_period,omitempty"`
	SlowPeriod    int     `json:"slow_period,omitempty" yaml:"slow_period,omitempty"`
	TrailDistance float64 `json:"trail_distance,omitempty" yaml:"trail_distance,omitempty"`
}

// New builds a strategy instance from its config. instanceID becomes the
// Origin on every intent the instance produces.
func New(instanceID string, cfg Config) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "grid":
		return NewGrid(instanceID, cfg)
	case "martingale":
		return NewMartingale(instanceID, cfg)
	case "signal", "signal-driven":
		return NewSignalFollow(instanceID, cfg)
	case "trend", "trend-following":
		return NewTrend(instanceID, cfg)
	default:
		return nil, fmt.Errorf("unknown strategy type %q (supported: grid, martingale, signal, trend)", cfg.Type)
	}
}

// newIntent stamps the fields every strategy intent shares. The
// idempotency key is generated here, exactly once per intent.
func newIntent(origin, symbol string, side order.Side, kind order.Kind, units float64) order.Intent {
	return order.Intent{
		IdempotencyKey: id.New(),
		Symbol:         symbol,
		Side:           side,
		Kind:           kind,
		Units:          units,
		Origin:         origin,
		CreatedAt:      time.Now().UTC(),
	}
}
