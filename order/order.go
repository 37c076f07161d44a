package order

import "time"

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Kind is the execution style of an order.
type Kind string

const (
	Market Kind = "MARKET"
	Limit  Kind = "LIMIT"
	Stop   Kind = "STOP" // trigger order; not every venue supports it
)

// Status is the outcome class of a dispatched order.
type Status string

const (
	StatusAccepted        Status = "ACCEPTED"
	StatusFilled          Status = "FILLED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusRejected        Status = "REJECTED"
	StatusError           Status = "ERROR"

	// StatusAmbiguous means the order was sent but the response was lost.
	// It is terminal from the coordinator's point of view and must be
	// reconciled externally, never retried.
	StatusAmbiguous Status = "AMBIGUOUS"
)

// Intent is a venue-agnostic request to trade, produced by a strategy
// instance or a signal consumer and submitted to the coordinator.
//
// The idempotency key is assigned exactly once, when the intent is created.
// Retries reuse the same key; the coordinator guarantees at most one
// venue-side order per key.
type Intent struct {
	IdempotencyKey string
	Symbol         string
	Side           Side
	Kind           Kind
	Units          float64

	Price      float64 // required for Limit and Stop
	StopLoss   float64 // 0 = none
	TakeProfit float64 // 0 = none

	// Origin identifies the strategy instance or signal that produced
	// the intent, for result routing and audit.
	Origin  string
	Comment string

	CreatedAt time.Time
}

// HasStops reports whether the intent carries both a stop-loss and a
// take-profit, which is what the risk gate's RR check needs.
func (i Intent) HasStops() bool {
	return i.StopLoss != 0 && i.TakeProfit != 0
}

// Result is the universal outcome of a submitted intent.
type Result struct {
	IdempotencyKey string
	Status         Status
	VenueOrderID   string
	FilledPrice    float64
	FilledUnits    float64

	// ErrorKind is one of the venue error taxonomy codes when Status is
	// REJECTED, ERROR or AMBIGUOUS, empty otherwise.
	ErrorKind string
	Reason    string

	Time time.Time
}

// Ok reports whether the venue accepted the order.
func (r Result) Ok() bool {
	switch r.Status {
	case StatusAccepted, StatusFilled, StatusPartiallyFilled:
		return true
	}
	return false
}
