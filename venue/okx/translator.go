package okx

import (
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/venue"
)

// Translator maps the universal order model onto the OKX wire format.
// Pure and stateless beyond its configured instrument table. Quantities
// round down and prices round to the conservative side before
// transmission.
type Translator struct {
	venue           venue.ID
	instruments     map[string]order.InstrumentMeta
	symbols         map[string]string // universal symbol -> instId
	accountCurrency string
}

// NewTranslator builds the translator for one venue id. accountCurrency
// guards against implicit currency conversion; empty disables the check.
func NewTranslator(v venue.ID, instruments map[string]order.InstrumentMeta, symbols map[string]string, accountCurrency string) *Translator {
	return &Translator{
		venue:           v,
		instruments:     instruments,
		symbols:         symbols,
		accountCurrency: accountCurrency,
	}
}

func (t *Translator) instID(symbol string) string {
	if inst, ok := t.symbols[symbol]; ok {
		return inst
	}
	return strings.ReplaceAll(symbol, "_", "-")
}

func (t *Translator) ToVenueRequest(intent order.Intent) (venue.Request, error) {
	meta, ok := t.instruments[intent.Symbol]
	if !ok {
		return venue.Request{}, venue.Errf(t.venue, venue.KindInvalidInstrument, "unknown instrument %s", intent.Symbol)
	}
	if t.accountCurrency != "" && meta.QuoteCurrency != "" &&
		!strings.EqualFold(t.accountCurrency, meta.QuoteCurrency) {
		return venue.Request{}, venue.Errf(t.venue, venue.KindUnitMismatch,
			"instrument %s quotes in %s, account holds %s", intent.Symbol, meta.QuoteCurrency, t.accountCurrency)
	}

	var ordType string
	switch intent.Kind {
	case order.Market:
		ordType = "market"
	case order.Limit:
		ordType = "limit"
	case order.Stop:
		ordType = "trigger"
	default:
		return venue.Request{}, venue.Errf(t.venue, venue.KindUnsupportedKind, "order kind %s", intent.Kind)
	}

	units, err := meta.RoundUnits(intent.Units)
	if err != nil {
		return venue.Request{}, venue.WrapErr(t.venue, venue.KindUnitMismatch, err)
	}

	req := venue.Request{
		Venue:    t.venue,
		Symbol:   t.instID(intent.Symbol),
		Side:     strings.ToLower(string(intent.Side)),
		Type:     ordType,
		Units:    formatFloat(units),
		ClientID: intent.IdempotencyKey,
		Comment:  intent.Comment,
	}
	if intent.Price > 0 {
		req.Price = formatFloat(meta.RoundPrice(intent.Price, intent.Side))
	}

	// Stops execute on the closing side; round them as that side.
	closing := order.Sell
	if intent.Side == order.Sell {
		closing = order.Buy
	}
	if intent.StopLoss > 0 {
		req.StopLoss = formatFloat(meta.RoundPrice(intent.StopLoss, closing))
	}
	if intent.TakeProfit > 0 {
		req.TakeProfit = formatFloat(meta.RoundPrice(intent.TakeProfit, closing))
	}
	return req, nil
}

func (t *Translator) FromVenueResponse(resp venue.Response) (order.Result, error) {
	ts := resp.ReceivedTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if resp.Code != "" && resp.Code != "0" {
		return order.Result{
			Status:       order.StatusRejected,
			VenueOrderID: resp.OrderID,
			ErrorKind:    string(mapCode(resp.Code)),
			Reason:       resp.Message,
			Time:         ts,
		}, nil
	}

	res := order.Result{
		Status:       order.StatusAccepted,
		VenueOrderID: resp.OrderID,
		FilledPrice:  parseFloat(resp.FilledPrice),
		FilledUnits:  parseFloat(resp.FilledUnits),
		Time:         ts,
	}
	switch {
	case resp.Filled:
		res.Status = order.StatusFilled
	case resp.PartialFill:
		res.Status = order.StatusPartiallyFilled
	}
	return res, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
