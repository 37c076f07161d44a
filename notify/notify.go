package notify

import "context"

// EventKind classifies a notification for routing and formatting.
type EventKind string

const (
	OrderPlaced    EventKind = "ORDER_PLACED"
	OrderRejected  EventKind = "ORDER_REJECTED"
	OrderFailed    EventKind = "ORDER_FAILED"
	OrderAmbiguous EventKind = "ORDER_AMBIGUOUS"
	VenueDegraded  EventKind = "VENUE_DEGRADED"
	VenueRecovered EventKind = "VENUE_RECOVERED"
	StrategyHalted EventKind = "STRATEGY_HALTED"
)

// Notifier is the best-effort notification sink. Failures are logged by
// callers and never block trading; delivery transports live outside this
// module.
type Notifier interface {
	Notify(ctx context.Context, kind EventKind, payload map[string]any) error
}
