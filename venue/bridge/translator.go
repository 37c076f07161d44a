package bridge

import (
	"strconv"
	"strings"

	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/venue"
)

// Translator maps the universal order model onto the terminal bridge's
// wire format. The bridge sizes orders in lots (step 0.01 typically) and
// takes Market and Limit only; Stop intents fail fast with
// UNSUPPORTED_ORDER_KIND instead of being silently downgraded.
type Translator struct {
	venue           venue.ID
	instruments     map[string]order.InstrumentMeta
	symbols         map[string]string // universal symbol -> bridge symbol
	accountCurrency string
}

// NewTranslator builds the translator for the bridge venue.
// accountCurrency guards against implicit conversion; empty disables the
// check.
func NewTranslator(v venue.ID, instruments map[string]order.InstrumentMeta, symbols map[string]string, accountCurrency string) *Translator {
	return &Translator{
		venue:           v,
		instruments:     instruments,
		symbols:         symbols,
		accountCurrency: accountCurrency,
	}
}

func (t *Translator) bridgeSymbol(symbol string) string {
	if bs, ok := t.symbols[symbol]; ok {
		return bs
	}
	return strings.ReplaceAll(symbol, "_", "")
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
		ordType = "MARKET"
	case order.Limit:
		ordType = "LIMIT"
	default:
		return venue.Request{}, venue.Errf(t.venue, venue.KindUnsupportedKind,
			"bridge does not take %s orders", intent.Kind)
	}

	lots, err := meta.RoundUnits(intent.Units)
	if err != nil {
		return venue.Request{}, venue.WrapErr(t.venue, venue.KindUnitMismatch, err)
	}

	req := venue.Request{
		Venue:    t.venue,
		Symbol:   t.bridgeSymbol(intent.Symbol),
		Side:     string(intent.Side),
		Type:     ordType,
		Units:    formatFloat(lots),
		ClientID: intent.IdempotencyKey,
		Comment:  intent.Comment,
	}
	if intent.Price > 0 {
		req.Price = formatFloat(meta.RoundPrice(intent.Price, intent.Side))
	}
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
	if resp.Code != "" && resp.Code != "0" {
		code, _ := strconv.Atoi(resp.Code)
		return order.Result{
			Status:       order.StatusRejected,
			VenueOrderID: resp.OrderID,
			ErrorKind:    string(mapBridgeCode(code)),
			Reason:       resp.Message,
			Time:         resp.ReceivedTime,
		}, nil
	}

	res := order.Result{
		Status:       order.StatusAccepted,
		VenueOrderID: resp.OrderID,
		FilledPrice:  parseFloat(resp.FilledPrice),
		FilledUnits:  parseFloat(resp.FilledUnits),
		Time:         resp.ReceivedTime,
	}
	switch {
	case resp.Filled:
		res.Status = order.StatusFilled
	case resp.PartialFill:
		res.Status = order.StatusPartiallyFilled
	}
	return res, nil
}
