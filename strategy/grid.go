package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/executor/order"
)

// Grid places limit orders at fixed price offsets around a reference
// price: buys at and below the reference, sells above it. When a level
// fills, the opposite side is placed one level away, never duplicating a
// level that is already open.
type Grid struct {
	id      string
	name    string
	symbol  string
	units   float64
	spacing float64
	levels  int     // levels each side of the reference
	ref     float64 // 0 until seeded from the first tick

	seeded      bool
	open        map[int]order.Side // level index -> side of the open order
	byKey       map[string]int     // idempotency key -> level index
	replacement []order.Intent     // fills waiting to re-place, drained by Evaluate

	intents int
	fills   int
	updated time.Time
}

func NewGrid(instanceID string, cfg Config) (*Grid, error) {
	if cfg.GridSpacing <= 0 {
		return nil, fmt.Errorf("grid %q: grid_spacing must be positive", cfg.Name)
	}
	if cfg.GridLevels <= 0 {
		return nil, fmt.Errorf("grid %q: grid_levels must be positive", cfg.Name)
	}
	if cfg.Units <= 0 {
		return nil, fmt.Errorf("grid %q: units must be positive", cfg.Name)
	}
	return &Grid{
		id:      instanceID,
		name:    cfg.Name,
		symbol:  cfg.Symbol,
		units:   cfg.Units,
		spacing: cfg.GridSpacing,
		levels:  cfg.GridLevels,
		ref:     cfg.GridRef,
	}, nil
}

// price returns the level's price: reference + index*spacing, index may be
// negative.
func (g *Grid) price(level int) float64 {
	return g.ref + float64(level)*g.spacing
}

// sideFor is the initial side of a level: buy at and below the reference,
// sell above.
func (g *Grid) sideFor(level int) order.Side {
	if level > 0 {
		return order.Sell
	}
	return order.Buy
}

func (g *Grid) place(level int, side order.Side) order.Intent {
	intent := newIntent(g.id, g.symbol, side, order.Limit, g.units)
	intent.Price = g.price(level)
	g.open[level] = side
	g.byKey[intent.IdempotencyKey] = level
	g.intents++
	return intent
}

func (g *Grid) Evaluate(_ context.Context, view MarketView) []order.Intent {
	if view.Symbol != g.symbol {
		return nil
	}
	g.updated = view.Time

	if !g.seeded {
		if g.ref == 0 {
			g.ref = view.Mid()
		}
		g.seeded = true
		g.open = make(map[int]order.Side)
		g.byKey = make(map[string]int)

		out := make([]order.Intent, 0, 2*g.levels+1)
		for lvl := -g.levels; lvl <= g.levels; lvl++ {
			out = append(out, g.place(lvl, g.sideFor(lvl)))
		}
		return out
	}

	out := g.replacement
	g.replacement = nil
	return out
}

// OnResult reacts to fills: the filled level is freed and the opposite
// side goes one level away, unless that level is already open.
func (g *Grid) OnResult(res order.Result) {
	level, mine := g.byKey[res.IdempotencyKey]
	if !mine {
		return
	}
	if !res.Ok() {
		// Rejected or failed: the level is no longer open venue-side.
		delete(g.open, level)
		delete(g.byKey, res.IdempotencyKey)
		return
	}
	if res.Status != order.StatusFilled {
		return
	}

	side := g.open[level]
	delete(g.open, level)
	delete(g.byKey, res.IdempotencyKey)
	g.fills++

	next := level + 1
	opposite := order.Sell
	if side == order.Sell {
		next = level - 1
		opposite = order.Buy
	}
	if _, taken := g.open[next]; taken {
		return
	}
	if math.Abs(float64(next)) > float64(g.levels)+1 {
		return
	}
	g.replacement = append(g.replacement, g.place(next, opposite))
}

func (g *Grid) State() RunState {
	return RunState{
		ID:        g.id,
		Name:      g.name,
		Type:      "grid",
		Symbol:    g.symbol,
		Intents:   g.intents,
		Fills:     g.fills,
		Level:     len(g.open),
		UpdatedAt: g.updated,
	}
}
