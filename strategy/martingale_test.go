package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/executor/order"
)

func martingaleConfig() Config {
	return Config{
		Name:           "mart-test",
		Type:           "martingale",
		Symbol:         "EUR_USD",
		Units:          0.01,
		ScaleFactor:    2,
		MaxLevel:       3,
		StopDistance:   0.005,
		TargetDistance: 0.010,
	}
}

// loseOnce opens a position at roughly mid and drives price through the
// stop, returning the size of the intent that opened the losing trade.
func loseOnce(t *testing.T, m *Martingale, mid float64) float64 {
	t.Helper()

	intents := m.Evaluate(context.Background(), tick("EUR_USD", mid-0.0001, mid+0.0001))
	require.Len(t, intents, 1)
	units := intents[0].Units

	m.OnResult(order.Result{
		IdempotencyKey: intents[0].IdempotencyKey,
		Status:         order.StatusFilled,
		FilledPrice:    mid,
		FilledUnits:    units,
	})

	// Price crashes through the stop.
	m.Evaluate(context.Background(), tick("EUR_USD", mid-0.01, mid-0.0099))
	return units
}

func TestMartingaleScalesAfterLosses(t *testing.T) {
	t.Parallel()

	m, err := NewMartingale("mart-1", martingaleConfig())
	require.NoError(t, err)

	assert.InDelta(t, 0.01, loseOnce(t, m, 1.1000), 1e-9) // level 0
	assert.InDelta(t, 0.02, loseOnce(t, m, 1.1000), 1e-9) // level 1
	// After a loss at level 2 the next size is base * 2^2.
	assert.InDelta(t, 0.04, m.NextUnits(), 1e-9)
	assert.Equal(t, 2, m.State().Level)
}

func TestMartingaleHaltsAtMaxLevel(t *testing.T) {
	t.Parallel()

	m, err := NewMartingale("mart-1", martingaleConfig())
	require.NoError(t, err)

	loseOnce(t, m, 1.1000)
	loseOnce(t, m, 1.1000)
	loseOnce(t, m, 1.1000) // level reaches MaxLevel=3: emergency stop

	assert.True(t, m.Halted())
	st := m.State()
	assert.True(t, st.Halted)
	assert.NotEmpty(t, st.HaltReason)

	// Halted: no further intents, ever.
	assert.Empty(t, m.Evaluate(context.Background(), tick("EUR_USD", 1.0999, 1.1001)))
}

func TestMartingaleResetsOnWin(t *testing.T) {
	t.Parallel()

	m, err := NewMartingale("mart-1", martingaleConfig())
	require.NoError(t, err)

	loseOnce(t, m, 1.1000)
	require.Equal(t, 1, m.State().Level)

	// Win the level-1 trade: size resets to base.
	intents := m.Evaluate(context.Background(), tick("EUR_USD", 1.0999, 1.1001))
	require.Len(t, intents, 1)
	m.OnResult(order.Result{
		IdempotencyKey: intents[0].IdempotencyKey,
		Status:         order.StatusFilled,
		FilledPrice:    1.1000,
		FilledUnits:    intents[0].Units,
	})
	m.Evaluate(context.Background(), tick("EUR_USD", 1.1150, 1.1152)) // through the target

	assert.Equal(t, 0, m.State().Level)
	assert.InDelta(t, 0.01, m.NextUnits(), 1e-9)
}

func TestMartingaleRejectionDoesNotScale(t *testing.T) {
	t.Parallel()

	m, err := NewMartingale("mart-1", martingaleConfig())
	require.NoError(t, err)

	intents := m.Evaluate(context.Background(), tick("EUR_USD", 1.0999, 1.1001))
	require.Len(t, intents, 1)

	m.OnResult(order.Result{
		IdempotencyKey: intents[0].IdempotencyKey,
		Status:         order.StatusRejected,
		ErrorKind:      "RISK_REJECTED",
	})

	assert.Equal(t, 0, m.State().Level)
	assert.InDelta(t, 0.01, m.NextUnits(), 1e-9)
}

func TestMartingaleAcceptedWithoutFillDoesNotReopen(t *testing.T) {
	t.Parallel()

	m, err := NewMartingale("mart-1", martingaleConfig())
	require.NoError(t, err)

	intents := m.Evaluate(context.Background(), tick("EUR_USD", 1.0999, 1.1001))
	require.Len(t, intents, 1)

	// The venue confirmed the order but the fill detail is missing.
	m.OnResult(order.Result{
		IdempotencyKey: intents[0].IdempotencyKey,
		Status:         order.StatusAccepted,
	})

	// The trade is live venue-side: the next ticks must not open a
	// second position.
	assert.Empty(t, m.Evaluate(context.Background(), tick("EUR_USD", 1.0999, 1.1001)))
	assert.Empty(t, m.Evaluate(context.Background(), tick("EUR_USD", 1.0999, 1.1001)))

	// The position was anchored at the first mid after acceptance, so
	// the stop and target work from there: a rally through the target
	// wins the trade and re-arms at base size.
	assert.Empty(t, m.Evaluate(context.Background(), tick("EUR_USD", 1.1150, 1.1152)))
	next := m.Evaluate(context.Background(), tick("EUR_USD", 1.1150, 1.1152))
	require.Len(t, next, 1)
	assert.InDelta(t, 0.01, next[0].Units, 1e-9)
	assert.Equal(t, 0, m.State().Level)
}

func TestMartingaleIgnoresOtherSymbols(t *testing.T) {
	t.Parallel()

	m, err := NewMartingale("mart-1", martingaleConfig())
	require.NoError(t, err)

	assert.Empty(t, m.Evaluate(context.Background(), tick("BTC_USD", 50_000, 50_001)))
}
