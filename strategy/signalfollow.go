package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/signal"
)

// SignalFollow converts externally supplied signals into one intent per
// valid signal. Signals older than the freshness window or below the
// confidence floor are discarded, and each signal id executes at most
// once even when a restarted source replays it.
type SignalFollow struct {
	id     string
	name   string
	symbol string
	units  float64

	maxAge        time.Duration
	minConfidence float64

	queue []signal.Signal
	seen  map[string]bool

	intents   int
	fills     int
	discarded int
	updated   time.Time
}

func NewSignalFollow(instanceID string, cfg Config) (*SignalFollow, error) {
	if cfg.Units <= 0 {
		return nil, fmt.Errorf("signal %q: units must be positive", cfg.Name)
	}
	maxAge := cfg.MaxSignalAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &SignalFollow{
		id:            instanceID,
		name:          cfg.Name,
		symbol:        cfg.Symbol,
		units:         cfg.Units,
		maxAge:        maxAge,
		minConfidence: cfg.MinConfidence,
		seen:          make(map[string]bool),
	}, nil
}

// OnSignal queues a signal for the next evaluation. Called from the
// engine's signal pump, serialized with Evaluate by the instance loop.
func (s *SignalFollow) OnSignal(sig signal.Signal) {
	s.queue = append(s.queue, sig)
}

func (s *SignalFollow) Evaluate(_ context.Context, view MarketView) []order.Intent {
	s.updated = view.Time

	var out []order.Intent
	for _, sig := range s.queue {
		if s.accept(sig, view.Time) {
			out = append(out, s.convert(sig))
		}
	}
	s.queue = s.queue[:0]
	return out
}

func (s *SignalFollow) accept(sig signal.Signal, now time.Time) bool {
	if s.symbol != "" && sig.Symbol != s.symbol {
		s.discarded++
		return false
	}
	if sig.ID != "" && s.seen[sig.ID] {
		s.discarded++
		return false
	}
	// Stale signals are discarded, not executed late.
	if sig.Age(now) > s.maxAge {
		s.discarded++
		return false
	}
	if sig.Confidence < s.minConfidence {
		s.discarded++
		return false
	}
	return true
}

func (s *SignalFollow) convert(sig signal.Signal) order.Intent {
	side := order.Buy
	if sig.Direction == signal.Down {
		side = order.Sell
	}

	kind := order.Market
	if sig.Entry > 0 {
		kind = order.Limit
	}

	intent := newIntent(s.id, sig.Symbol, side, kind, s.units)
	intent.Price = sig.Entry
	intent.StopLoss = sig.StopLoss
	intent.TakeProfit = sig.TakeProfit
	intent.Comment = "signal:" + sig.ID

	if sig.ID != "" {
		s.seen[sig.ID] = true
	}
	s.intents++
	return intent
}

func (s *SignalFollow) OnResult(res order.Result) {
	if res.Status == order.StatusFilled || res.Status == order.StatusPartiallyFilled {
		s.fills++
	}
}

func (s *SignalFollow) State() RunState {
	return RunState{
		ID:        s.id,
		Name:      s.name,
		Type:      "signal",
		Symbol:    s.symbol,
		Intents:   s.intents,
		Fills:     s.fills,
		UpdatedAt: s.updated,
	}
}
