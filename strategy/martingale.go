package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/executor/order"
)

// Martingale trades one market position at a time with a fixed stop and
// target. After a stopped-out trade the next position is scaled by
// factor^level; a winning trade resets the level. Reaching the maximum
// level halts the instance entirely rather than risking the next double.
type Martingale struct {
	id     string
	name   string
	symbol string

	baseUnits  float64
	factor     float64
	maxLevel   int
	stopDist   float64
	targetDist float64

	level      int
	halted     bool
	haltReason string

	// open trade, tracked against ticks to detect stop/target hits
	inFlight    string // idempotency key awaiting a result
	pendingOpen bool   // accepted venue-side, entry price still unknown
	openSide    order.Side
	openEntry   float64
	openStop    float64
	openTarget  float64

	intents int
	fills   int
	updated time.Time
}

func NewMartingale(instanceID string, cfg Config) (*Martingale, error) {
	if cfg.Units <= 0 {
		return nil, fmt.Errorf("martingale %q: units must be positive", cfg.Name)
	}
	if cfg.ScaleFactor < 1 {
		return nil, fmt.Errorf("martingale %q: scale_factor must be >= 1", cfg.Name)
	}
	if cfg.MaxLevel <= 0 {
		return nil, fmt.Errorf("martingale %q: max_level must be positive", cfg.Name)
	}
	if cfg.StopDistance <= 0 || cfg.TargetDistance <= 0 {
		return nil, fmt.Errorf("martingale %q: stop_distance and target_distance must be positive", cfg.Name)
	}
	return &Martingale{
		id:         instanceID,
		name:       cfg.Name,
		symbol:     cfg.Symbol,
		baseUnits:  cfg.Units,
		factor:     cfg.ScaleFactor,
		maxLevel:   cfg.MaxLevel,
		stopDist:   cfg.StopDistance,
		targetDist: cfg.TargetDistance,
	}, nil
}

// NextUnits is the size of the next position at the current level:
// base * factor^level.
func (m *Martingale) NextUnits() float64 {
	return m.baseUnits * math.Pow(m.factor, float64(m.level))
}

func (m *Martingale) Evaluate(_ context.Context, view MarketView) []order.Intent {
	if m.halted || view.Symbol != m.symbol {
		return nil
	}
	m.updated = view.Time
	mid := view.Mid()

	// A trade accepted without fill data is live venue-side; anchor it
	// on the first mid seen rather than opening a second position.
	if m.pendingOpen {
		m.pendingOpen = false
		m.open(mid)
		return nil
	}

	// An open position: watch for stop or target. The position closes
	// venue-side via its attached stop/target; here we only account for
	// it. The next position opens on a later tick.
	if m.openEntry != 0 {
		switch {
		case mid <= m.openStop:
			m.onLoss()
		case mid >= m.openTarget:
			m.onWin()
		}
		return nil
	}

	if m.inFlight != "" {
		return nil
	}

	intent := newIntent(m.id, m.symbol, order.Buy, order.Market, m.NextUnits())
	intent.StopLoss = mid - m.stopDist
	intent.TakeProfit = mid + m.targetDist
	m.inFlight = intent.IdempotencyKey
	m.intents++
	return []order.Intent{intent}
}

func (m *Martingale) onLoss() {
	m.level++
	m.clearOpen()
	if m.level >= m.maxLevel {
		m.halted = true
		m.haltReason = fmt.Sprintf("max martingale level %d reached", m.maxLevel)
	}
}

func (m *Martingale) onWin() {
	m.level = 0
	m.clearOpen()
}

func (m *Martingale) clearOpen() {
	m.openEntry = 0
	m.openStop = 0
	m.openTarget = 0
}

func (m *Martingale) OnResult(res order.Result) {
	if res.IdempotencyKey != m.inFlight {
		return
	}
	m.inFlight = ""

	if !res.Ok() {
		// A rejection is not a trading loss; sizing stays put. A second
		// rejection in a row still comes back through the risk gate, so
		// there is no tight retry loop to guard against here.
		return
	}
	m.fills++
	if res.FilledPrice == 0 {
		// Accepted but the fill price is unknown (the venue confirmed
		// the order without detail). The position exists; Evaluate
		// anchors it on the next tick.
		m.pendingOpen = true
		return
	}
	m.open(res.FilledPrice)
}

func (m *Martingale) open(entry float64) {
	m.openSide = order.Buy
	m.openEntry = entry
	m.openStop = entry - m.stopDist
	m.openTarget = entry + m.targetDist
}

// Halted reports the emergency-stop state.
func (m *Martingale) Halted() bool { return m.halted }

func (m *Martingale) State() RunState {
	return RunState{
		ID:         m.id,
		Name:       m.name,
		Type:       "martingale",
		Symbol:     m.symbol,
		Halted:     m.halted,
		HaltReason: m.haltReason,
		Intents:    m.intents,
		Fills:      m.fills,
		Level:      m.level,
		UpdatedAt:  m.updated,
	}
}
