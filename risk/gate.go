package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/venue"
)

// Reason is the structured rejection code callers branch on.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInvalidIntent     Reason = "INVALID_INTENT"
	ReasonSymbolNotTradable Reason = "SYMBOL_NOT_TRADABLE"
	ReasonSnapshotStale     Reason = "SNAPSHOT_STALE"
	ReasonPositionLimit     Reason = "POSITION_LIMIT_EXCEEDED"
	ReasonExposureLimit     Reason = "EXPOSURE_LIMIT_EXCEEDED"
	ReasonRiskRewardTooLow  Reason = "RISK_REWARD_TOO_LOW"
	ReasonDailyLossBreached Reason = "DAILY_LOSS_BREACHED"
	ReasonTooManyPositions  Reason = "TOO_MANY_OPEN_POSITIONS"
	ReasonTooManyStrategies Reason = "TOO_MANY_STRATEGIES"
)

// Decision is the gate's verdict on one intent. Detail is for humans;
// Reason is for code.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string

	PlannedRR       float64
	PlannedExposure float64
}

func reject(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Gate is the single authority that may reject an intent before money
// moves. It reads account state, never writes it; its own mutable memory
// is the in-flight exposure reservations and the daily realized P/L.
type Gate struct {
	mu          sync.Mutex
	limits      Limits
	instruments map[string]order.InstrumentMeta

	reserved map[string]float64 // idempotency key -> reserved exposure
	active   int                // running strategy instances

	dayRealized float64
	day         time.Time // UTC date the realized total belongs to
}

// NewGate builds a gate over the configured limits and the instrument
// table used for the tradable check.
func NewGate(limits Limits, instruments map[string]order.InstrumentMeta) *Gate {
	return &Gate{
		limits:      limits,
		instruments: instruments,
		reserved:    make(map[string]float64),
		day:         time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// Reload swaps the limits wholesale. The old limits apply to checks
// already in flight; there is no partial state.
func (g *Gate) Reload(limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = limits
}

// Limits returns the limits currently in force.
func (g *Gate) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// SetActiveStrategies is called by the strategy engine whenever its
// instance count changes.
func (g *Gate) SetActiveStrategies(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = n
}

// RecordRealized adds a realized P/L to today's total, rolling the total
// over at UTC midnight.
func (g *Gate) RecordRealized(pl float64, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	day := at.UTC().Truncate(24 * time.Hour)
	if !day.Equal(g.day) {
		g.day = day
		g.dayRealized = 0
	}
	g.dayRealized += pl
}

// Screen runs the snapshot-independent front of the check order: intent
// well-formedness and symbol tradability. The coordinator screens before
// touching the venue, so an intent that can never pass does not trigger a
// reconnect or a snapshot fetch. Validate repeats these checks, so callers
// holding a snapshot may skip Screen.
func (g *Gate) Screen(intent order.Intent) Decision {
	if intent.Units <= 0 {
		return reject(ReasonInvalidIntent, "units must be positive, got %v", intent.Units)
	}
	if (intent.Kind == order.Limit || intent.Kind == order.Stop) && intent.Price <= 0 {
		return reject(ReasonInvalidIntent, "%s intent requires a price", intent.Kind)
	}
	meta, known := g.instruments[intent.Symbol]
	if !known || !meta.Tradable {
		return reject(ReasonSymbolNotTradable, "symbol %s is not tradable", intent.Symbol)
	}
	return Decision{Allowed: true}
}

// Validate runs the ordered checks against the given snapshot, stopping at
// the first failure:
//
//  1. symbol known and tradable, snapshot fresh
//  2. resulting per-symbol and aggregate exposure within limits
//  3. reward/risk ratio at least the minimum, when stops are present
//  4. daily realized+unrealized loss under the daily stop
//  5. open position and strategy counts within limits
//
// Validate never mutates the snapshot and takes no reservation; pair it
// with Reserve under the coordinator's submission lock.
func (g *Gate) Validate(intent order.Intent, snap venue.AccountSnapshot) Decision {
	g.mu.Lock()
	limits := g.limits
	reserved := 0.0
	for _, v := range g.reserved {
		reserved += v
	}
	dayRealized := g.dayRealized
	active := g.active
	g.mu.Unlock()

	if d := g.Screen(intent); !d.Allowed {
		return d
	}
	if limits.SnapshotMaxAge > 0 {
		if age := time.Since(snap.Taken); age > limits.SnapshotMaxAge {
			return reject(ReasonSnapshotStale, "snapshot is %s old, max %s", age.Round(time.Millisecond), limits.SnapshotMaxAge)
		}
	}

	// Position and exposure limits count the intent as if filled.
	delta := intent.Units
	if intent.Side == order.Sell {
		delta = -delta
	}
	resulting := abs(snap.PositionUnits(intent.Symbol) + delta)
	if limits.MaxUnitsPerSymbol > 0 && resulting > limits.MaxUnitsPerSymbol {
		return reject(ReasonPositionLimit, "resulting position %v exceeds per-symbol limit %v",
			resulting, limits.MaxUnitsPerSymbol)
	}

	exposure := intentExposure(intent)
	total := snap.Exposure() + reserved + exposure
	if limits.MaxExposure > 0 && total > limits.MaxExposure {
		return reject(ReasonExposureLimit, "aggregate exposure %.2f exceeds limit %.2f",
			total, limits.MaxExposure)
	}

	rr := 0.0
	if intent.HasStops() {
		rr = RR(entryPrice(intent, snap), intent.StopLoss, intent.TakeProfit)
		if limits.MinRR > 0 && rr < limits.MinRR {
			return Decision{
				Reason:    ReasonRiskRewardTooLow,
				Detail:    fmt.Sprintf("RR %.2f below minimum %.2f", rr, limits.MinRR),
				PlannedRR: rr,
			}
		}
	}

	if limits.MaxDailyLossPct > 0 && snap.Equity > 0 {
		unrealized := 0.0
		for _, p := range snap.Positions {
			unrealized += p.UnrealizedPL
		}
		dayLimit := -limits.MaxDailyLossPct * snap.Equity
		if dayRealized+unrealized <= dayLimit {
			return reject(ReasonDailyLossBreached, "day P/L %.2f at or past limit %.2f",
				dayRealized+unrealized, dayLimit)
		}
	}

	if limits.MaxOpenPositions > 0 && len(snap.Positions) >= limits.MaxOpenPositions {
		return reject(ReasonTooManyPositions, "open positions %d at limit %d",
			len(snap.Positions), limits.MaxOpenPositions)
	}
	if limits.MaxConcurrentStrategies > 0 && active > limits.MaxConcurrentStrategies {
		return reject(ReasonTooManyStrategies, "active strategies %d over limit %d",
			active, limits.MaxConcurrentStrategies)
	}

	return Decision{Allowed: true, PlannedRR: rr, PlannedExposure: exposure}
}

// Reserve books the intent's exposure against the aggregate limit until
// Release. The coordinator calls it under the same lock as Validate so two
// concurrent intents cannot both pass a check only one can satisfy.
func (g *Gate) Reserve(key string, intent order.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reserved[key] = intentExposure(intent)
}

// Release frees a reservation once the intent reached a terminal result.
func (g *Gate) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reserved, key)
}

func intentExposure(intent order.Intent) float64 {
	price := intent.Price
	if price == 0 {
		// Market order: the stop distance is the only price hint we
		// have before the fill. Fall back to units alone otherwise.
		price = intent.StopLoss
	}
	if price == 0 {
		return intent.Units
	}
	return intent.Units * price
}

func entryPrice(intent order.Intent, snap venue.AccountSnapshot) float64 {
	if intent.Price > 0 {
		return intent.Price
	}
	// Market intent: approximate entry with the position's mark if we
	// have one. The RR check degrades to stop/target midpoint otherwise.
	if p, ok := snap.Positions[intent.Symbol]; ok && p.AveragePrice > 0 {
		return p.AveragePrice
	}
	return (intent.StopLoss + intent.TakeProfit) / 2
}

// RR is the reward/risk ratio for an entry with a stop and a target.
func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return abs(takeProfit-entry) / risk
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
