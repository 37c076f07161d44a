package okx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/venue"
)

func testMeta() map[string]order.InstrumentMeta {
	return map[string]order.InstrumentMeta{
		"BTC_USDT": {
			Symbol:        "BTC_USDT",
			QuoteCurrency: "USDT",
			TickSize:      0.1,
			LotStep:       0.0001,
			MinUnits:      0.0001,
			Tradable:      true,
		},
	}
}

func newTestTranslator(accountCurrency string) *Translator {
	return NewTranslator("okx", testMeta(), map[string]string{"BTC_USDT": "BTC-USDT"}, accountCurrency)
}

func TestToVenueRequestLimitBuy(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("USDT")
	req, err := tr.ToVenueRequest(order.Intent{
		IdempotencyKey: "01ABCDEF",
		Symbol:         "BTC_USDT",
		Side:           order.Buy,
		Kind:           order.Limit,
		Units:          0.5,
		Price:          30000.17,
		StopLoss:       29500.13,
		TakeProfit:     31000.06,
		Comment:        "grid level -1",
	})
	require.NoError(t, err)

	assert.Equal(t, "BTC-USDT", req.Symbol)
	assert.Equal(t, "buy", req.Side)
	assert.Equal(t, "limit", req.Type)
	assert.Equal(t, "0.5", req.Units)
	assert.Equal(t, "30000.1", req.Price) // buy floors to tick
	// stops execute as sells, so they round up
	assert.Equal(t, "29500.2", req.StopLoss)
	assert.Equal(t, "31000.1", req.TakeProfit)
	assert.Equal(t, "01ABCDEF", req.ClientID)
}

func TestToVenueRequestSellPriceRoundsUp(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("")
	req, err := tr.ToVenueRequest(order.Intent{
		Symbol: "BTC_USDT",
		Side:   order.Sell,
		Kind:   order.Limit,
		Units:  0.25,
		Price:  30000.11,
	})
	require.NoError(t, err)
	assert.Equal(t, "30000.2", req.Price)
}

func TestToVenueRequestStopBecomesTrigger(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("")
	req, err := tr.ToVenueRequest(order.Intent{
		Symbol: "BTC_USDT",
		Side:   order.Sell,
		Kind:   order.Stop,
		Units:  0.1,
		Price:  28000,
	})
	require.NoError(t, err)
	assert.Equal(t, "trigger", req.Type)
}

func TestToVenueRequestUnknownInstrument(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("")
	_, err := tr.ToVenueRequest(order.Intent{Symbol: "DOGE_USDT", Side: order.Buy, Kind: order.Market, Units: 1})
	require.Error(t, err)
	assert.Equal(t, venue.KindInvalidInstrument, venue.KindOf(err))
}

func TestToVenueRequestCurrencyMismatch(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("EUR")
	_, err := tr.ToVenueRequest(order.Intent{Symbol: "BTC_USDT", Side: order.Buy, Kind: order.Market, Units: 0.5})
	require.Error(t, err)
	assert.Equal(t, venue.KindUnitMismatch, venue.KindOf(err))
}

func TestToVenueRequestUnitsBelowMinimum(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("")
	_, err := tr.ToVenueRequest(order.Intent{Symbol: "BTC_USDT", Side: order.Buy, Kind: order.Market, Units: 0.00005})
	require.Error(t, err)
	assert.Equal(t, venue.KindUnitMismatch, venue.KindOf(err))
}

func TestRoundTripFilledOrderKeepsQuantity(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("USDT")
	intent := order.Intent{
		IdempotencyKey: "01ABCDEF",
		Symbol:         "BTC_USDT",
		Side:           order.Buy,
		Kind:           order.Limit,
		Units:          0.5432,
		Price:          30000.1,
	}
	req, err := tr.ToVenueRequest(intent)
	require.NoError(t, err)

	res, err := tr.FromVenueResponse(venue.Response{
		Venue:        "okx",
		OrderID:      "ord-1",
		Code:         "0",
		FilledPrice:  req.Price,
		FilledUnits:  req.Units,
		Filled:       true,
		ReceivedTime: time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Equal(t, order.StatusFilled, res.Status)
	assert.Equal(t, intent.Units, res.FilledUnits)
	assert.InDelta(t, intent.Price, res.FilledPrice, 0.1)
}

func TestFromVenueResponseMapsErrorCodes(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("")
	cases := []struct {
		code string
		kind venue.Kind
	}{
		{"51008", venue.KindInsufficientFunds},
		{"51001", venue.KindInvalidInstrument},
		{"51117", venue.KindOrderNotFound},
		{"59999", venue.KindUnknownVenue},
	}
	for _, tc := range cases {
		res, err := tr.FromVenueResponse(venue.Response{Venue: "okx", Code: tc.code, Message: "nope"})
		require.NoError(t, err)
		assert.Equal(t, order.StatusRejected, res.Status, "code %s", tc.code)
		assert.Equal(t, string(tc.kind), res.ErrorKind, "code %s", tc.code)
		assert.Equal(t, "nope", res.Reason)
	}
}

func TestFromVenueResponsePartialFill(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator("")
	res, err := tr.FromVenueResponse(venue.Response{
		Venue:       "okx",
		OrderID:     "ord-2",
		Code:        "0",
		FilledUnits: "0.25",
		PartialFill: true,
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartiallyFilled, res.Status)
	assert.Equal(t, 0.25, res.FilledUnits)
}
