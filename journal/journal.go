package journal

import (
	"time"

	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/risk"
)

// OrderRecord is one append-only audit row per order result, keyed by the
// idempotency key so reconciliation can join against venue statements.
type OrderRecord struct {
	IdempotencyKey string
	Origin         string
	Venue          string
	Symbol         string
	Side           string
	Kind           string
	Units          float64
	Price          float64
	Status         string
	VenueOrderID   string
	FilledPrice    float64
	FilledUnits    float64
	ErrorKind      string
	Reason         string
	Time           time.Time
}

// RejectionRecord is one audit row per risk-gate rejection.
type RejectionRecord struct {
	IdempotencyKey string
	Origin         string
	Symbol         string
	Reason         string
	Detail         string
	Time           time.Time
}

// NewOrderRecord flattens an intent/result pair into an audit row.
func NewOrderRecord(v string, intent order.Intent, res order.Result) OrderRecord {
	t := res.Time
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return OrderRecord{
		IdempotencyKey: intent.IdempotencyKey,
		Origin:         intent.Origin,
		Venue:          v,
		Symbol:         intent.Symbol,
		Side:           string(intent.Side),
		Kind:           string(intent.Kind),
		Units:          intent.Units,
		Price:          intent.Price,
		Status:         string(res.Status),
		VenueOrderID:   res.VenueOrderID,
		FilledPrice:    res.FilledPrice,
		FilledUnits:    res.FilledUnits,
		ErrorKind:      res.ErrorKind,
		Reason:         res.Reason,
		Time:           t,
	}
}

// NewRejectionRecord flattens a risk decision into an audit row.
func NewRejectionRecord(intent order.Intent, d risk.Decision) RejectionRecord {
	return RejectionRecord{
		IdempotencyKey: intent.IdempotencyKey,
		Origin:         intent.Origin,
		Symbol:         intent.Symbol,
		Reason:         string(d.Reason),
		Detail:         d.Detail,
		Time:           time.Now().UTC(),
	}
}

// Journal is the append-only audit sink. The read path beyond
// reconciliation listing is out of scope.
type Journal interface {
	RecordOrder(OrderRecord) error
	RecordRejection(RejectionRecord) error
	Close() error
}

// Nop discards all records; used in tests and dry runs.
type Nop struct{}

func (Nop) RecordOrder(OrderRecord) error         { return nil }
func (Nop) RecordRejection(RejectionRecord) error { return nil }
func (Nop) Close() error                          { return nil }
