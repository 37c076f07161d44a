package strategy

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/executor/order"
)

func gridConfig() Config {
	return Config{
		Name:        "grid-test",
		Type:        "grid",
		Symbol:      "BTC_USD",
		Units:       0.01,
		GridSpacing: 10,
		GridLevels:  1,
		GridRef:     100,
	}
}

func tick(symbol string, bid, ask float64) MarketView {
	return MarketView{Symbol: symbol, Bid: bid, Ask: ask, Time: time.Now()}
}

func fill(intent order.Intent) order.Result {
	return order.Result{
		IdempotencyKey: intent.IdempotencyKey,
		Status:         order.StatusFilled,
		FilledPrice:    intent.Price,
		FilledUnits:    intent.Units,
		Time:           time.Now(),
	}
}

func TestGridInitialPlacement(t *testing.T) {
	t.Parallel()

	g, err := NewGrid("grid-1", gridConfig())
	require.NoError(t, err)

	intents := g.Evaluate(context.Background(), tick("BTC_USD", 99.5, 100.5))
	require.Len(t, intents, 3)

	prices := make([]float64, len(intents))
	for i, in := range intents {
		prices[i] = in.Price
		assert.Equal(t, order.Limit, in.Kind)
		assert.NotEmpty(t, in.IdempotencyKey)
	}
	sort.Float64s(prices)
	assert.Equal(t, []float64{90, 100, 110}, prices)

	// Buys at and below the reference, sell above it.
	for _, in := range intents {
		if in.Price > 100 {
			assert.Equal(t, order.Sell, in.Side)
		} else {
			assert.Equal(t, order.Buy, in.Side)
		}
	}

	// Second tick places nothing new.
	assert.Empty(t, g.Evaluate(context.Background(), tick("BTC_USD", 99.5, 100.5)))
}

func TestGridReplacesOppositeSideOnFill(t *testing.T) {
	t.Parallel()

	g, err := NewGrid("grid-1", gridConfig())
	require.NoError(t, err)

	intents := g.Evaluate(context.Background(), tick("BTC_USD", 99.5, 100.5))
	require.Len(t, intents, 3)

	byPrice := map[float64]order.Intent{}
	for _, in := range intents {
		byPrice[in.Price] = in
	}

	// The sell at 110 fills; the freed level's opposite side goes one
	// level down, back at 100 once that level frees up.
	g.OnResult(fill(byPrice[110]))
	// Level 0 (buy at 100) still open: no duplicate placed there.
	assert.Empty(t, g.Evaluate(context.Background(), tick("BTC_USD", 109, 111)))

	// Now the buy at 100 fills, freeing level 0, and its opposite sell
	// goes to 110.
	g.OnResult(fill(byPrice[100]))
	replacements := g.Evaluate(context.Background(), tick("BTC_USD", 99, 101))
	require.Len(t, replacements, 1)
	assert.Equal(t, order.Sell, replacements[0].Side)
	assert.Equal(t, 110.0, replacements[0].Price)
}

func TestGridNeverDuplicatesOpenLevel(t *testing.T) {
	t.Parallel()

	g, err := NewGrid("grid-1", gridConfig())
	require.NoError(t, err)

	intents := g.Evaluate(context.Background(), tick("BTC_USD", 99.5, 100.5))
	byPrice := map[float64]order.Intent{}
	for _, in := range intents {
		byPrice[in.Price] = in
	}

	// Buy at 90 fills. Its opposite sell would go to 100, but the buy
	// at 100 is still open there.
	g.OnResult(fill(byPrice[90]))
	assert.Empty(t, g.Evaluate(context.Background(), tick("BTC_USD", 89, 91)))
}

func TestGridRejectionFreesLevel(t *testing.T) {
	t.Parallel()

	g, err := NewGrid("grid-1", gridConfig())
	require.NoError(t, err)

	intents := g.Evaluate(context.Background(), tick("BTC_USD", 99.5, 100.5))
	byPrice := map[float64]order.Intent{}
	for _, in := range intents {
		byPrice[in.Price] = in
	}

	g.OnResult(order.Result{
		IdempotencyKey: byPrice[110].IdempotencyKey,
		Status:         order.StatusRejected,
	})
	assert.Equal(t, 2, g.State().Level)
}

func TestGridSeedsReferenceFromFirstTick(t *testing.T) {
	t.Parallel()

	cfg := gridConfig()
	cfg.GridRef = 0
	g, err := NewGrid("grid-1", cfg)
	require.NoError(t, err)

	intents := g.Evaluate(context.Background(), tick("BTC_USD", 199, 201))
	require.Len(t, intents, 3)

	prices := []float64{intents[0].Price, intents[1].Price, intents[2].Price}
	sort.Float64s(prices)
	assert.Equal(t, []float64{190, 200, 210}, prices)
}
