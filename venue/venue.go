package venue

import (
	"context"
	"time"

	"github.com/rustyeddy/executor/order"
)

// ID identifies a trading venue. Adding a venue means registering a new
// Session and Translator under a new ID; the coordinator never changes.
type ID string

// ConnectionState is the lifecycle state of a venue session. It is owned
// exclusively by that venue's Manager and read by everyone else.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	// Degraded means reconnection attempts were exhausted. The manager
	// fails fast instead of queueing work until a reconnect succeeds.
	Degraded
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Degraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// Credentials authenticate a session. Which fields matter depends on the
// adapter; the REST venue wants key/secret/passphrase, the terminal bridge
// wants an account and token.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Account    string
	Token      string
}

// Position is one open position on a venue.
type Position struct {
	Symbol       string
	Units        float64 // signed: >0 long, <0 short
	AveragePrice float64
	UnrealizedPL float64
}

// AccountSnapshot is the account state a risk check is evaluated against.
// Refreshed by the Manager on a cadence and on demand; Taken records when,
// so stale snapshots can be detected instead of trusted.
type AccountSnapshot struct {
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
	Currency    string

	Positions map[string]Position

	Taken time.Time
}

// Exposure returns the absolute aggregate exposure across open positions,
// in units weighted by average price.
func (a AccountSnapshot) Exposure() float64 {
	var total float64
	for _, p := range a.Positions {
		u := p.Units
		if u < 0 {
			u = -u
		}
		total += u * p.AveragePrice
	}
	return total
}

// PositionUnits returns the signed open units for a symbol, 0 if flat.
func (a AccountSnapshot) PositionUnits(symbol string) float64 {
	return a.Positions[symbol].Units
}

// Request is the venue wire form of an order, produced by a Translator.
// One tagged struct covers both adapters; each reads the fields it uses.
type Request struct {
	Venue      ID
	Symbol     string
	Side       string
	Type       string // venue-specific order type tag
	Units      string // formatted to the venue's size precision
	Price      string // empty for market orders
	StopLoss   string
	TakeProfit string
	ClientID   string // idempotency key, passed through where supported
	Comment    string
}

// Response is the venue wire form of an order outcome.
type Response struct {
	Venue        ID
	OrderID      string
	Code         string // venue status/error code, "" or "0" on success
	Message      string
	FilledPrice  string
	FilledUnits  string
	Filled       bool
	PartialFill  bool
	ReceivedTime time.Time
}

// Session is an authenticated connection to one venue. Implementations
// live in the adapter subpackages; only the Manager holds one.
type Session interface {
	Connect(ctx context.Context, creds Credentials) error
	PlaceOrder(ctx context.Context, req Request) (Response, error)
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	// Ping is a lightweight round trip used for health checks.
	Ping(ctx context.Context) error
	Close() error
}

// Translator maps between the universal order model and one venue's wire
// format. Implementations are pure and stateless.
type Translator interface {
	ToVenueRequest(intent order.Intent) (Request, error)
	FromVenueResponse(resp Response) (order.Result, error)
}
