package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Default().Validate())
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "executor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
venues:
  okx:
    kind: okx
    simulated: true
    symbols:
      BTC_USDT: BTC-USDT
    instruments:
      BTC_USDT:
        symbol: BTC_USDT
        quote_currency: USDT
        tick_size: 0.1
        lot_step: 0.0001
        min_units: 0.0001
        tradable: true
risk:
  max_units_per_symbol: 2.0
  max_exposure: 50000
  min_rr: 1.5
strategies:
  - name: btc-grid
    type: grid
    symbol: BTC_USDT
    units: 0.001
    grid_spacing: 250
    grid_levels: 2
journal:
  type: none
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Risk.MaxUnitsPerSymbol)
	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "grid", cfg.Strategies[0].Type)
	assert.True(t, cfg.Venues["okx"].Simulated)

	meta := cfg.Instruments()["BTC_USDT"]
	assert.Equal(t, 0.1, meta.TickSize)
	assert.True(t, meta.Tradable)
}

func TestValidateRejectsDoubleRoutedSymbol(t *testing.T) {
	t.Parallel()

	cfg := Default()
	vc := cfg.Venues["okx"]
	second := vc
	second.Kind = "bridge"
	second.Endpoint = "ws://localhost:9000"
	cfg.Venues["bridge"] = second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routed to both")
}

func TestValidateRejectsUnroutedStrategySymbol(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Strategies[0].Symbol = "ETH_USDT"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not routed")
}

func TestValidateRejectsUnknownStrategyType(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Strategies[0].Type = "ponzi"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresInstrumentMeta(t *testing.T) {
	t.Parallel()

	cfg := Default()
	vc := cfg.Venues["okx"]
	vc.Symbols["ETH_USDT"] = "ETH-USDT"
	cfg.Venues["okx"] = vc

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no instrument metadata")
}

func TestCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("OKX_MAIN_API_KEY", "k")
	t.Setenv("OKX_MAIN_API_SECRET", "s")
	t.Setenv("OKX_MAIN_PASSPHRASE", "p")

	creds := Credentials("okx-main")
	assert.Equal(t, "k", creds.APIKey)
	assert.Equal(t, "s", creds.APISecret)
	assert.Equal(t, "p", creds.Passphrase)
}
