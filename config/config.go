// Package config loads and validates the executor configuration from
// YAML or JSON files, with credentials overlaid from the environment so
// secrets stay out of config files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/risk"
	"github.com/rustyeddy/executor/strategy"
	"github.com/rustyeddy/executor/venue"
)

// VenueConfig describes one venue connection. Credentials are not read
// from the file; they come from the environment (see Credentials).
type VenueConfig struct {
	// Kind selects the adapter: "okx" (REST) or "bridge" (websocket
	// terminal bridge).
	Kind     string `json:"kind" yaml:"kind"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Simulated routes OKX requests to the demo environment.
	Simulated bool   `json:"simulated,omitempty" yaml:"simulated,omitempty"`
	TradeMode string `json:"trade_mode,omitempty" yaml:"trade_mode,omitempty"`

	// Symbols maps universal symbols to this venue's instrument ids.
	// Every listed symbol is routed to this venue.
	Symbols map[string]string `json:"symbols" yaml:"symbols"`

	// Instruments describes tick/lot constraints per universal symbol.
	Instruments map[string]order.InstrumentMeta `json:"instruments" yaml:"instruments"`

	// AccountCurrency enables the translator's currency-mismatch check.
	AccountCurrency string `json:"account_currency,omitempty" yaml:"account_currency,omitempty"`

	HealthInterval time.Duration `json:"health_interval,omitempty" yaml:"health_interval,omitempty"`
}

// JournalConfig selects the audit sink.
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "sqlite" or "none"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// Config is the complete executor configuration.
type Config struct {
	Venues     map[string]VenueConfig `json:"venues" yaml:"venues"`
	Risk       risk.Limits            `json:"risk" yaml:"risk"`
	Strategies []strategy.Config      `json:"strategies" yaml:"strategies"`
	Journal    JournalConfig          `json:"journal" yaml:"journal"`

	// PlaceTimeout bounds one order placement attempt.
	PlaceTimeout time.Duration `json:"place_timeout,omitempty" yaml:"place_timeout,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML or JSON based on
// content, YAML tried first).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions before anything
// connects to a venue.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	routed := make(map[string]string)
	for name, vc := range c.Venues {
		if vc.Kind != "okx" && vc.Kind != "bridge" {
			return fmt.Errorf("venue %s: kind must be 'okx' or 'bridge', got %q", name, vc.Kind)
		}
		if vc.Kind == "bridge" && vc.Endpoint == "" {
			return fmt.Errorf("venue %s: bridge venues require an endpoint", name)
		}
		if len(vc.Symbols) == 0 {
			return fmt.Errorf("venue %s: at least one symbol is required", name)
		}
		for sym := range vc.Symbols {
			if prev, dup := routed[sym]; dup {
				return fmt.Errorf("symbol %s routed to both %s and %s", sym, prev, name)
			}
			routed[sym] = name
			meta, ok := vc.Instruments[sym]
			if !ok {
				return fmt.Errorf("venue %s: symbol %s has no instrument metadata", name, sym)
			}
			if meta.TickSize < 0 || meta.LotStep < 0 || meta.MinUnits < 0 {
				return fmt.Errorf("venue %s: instrument %s has negative increments", name, sym)
			}
		}
	}

	if c.Risk.MaxUnitsPerSymbol < 0 || c.Risk.MaxExposure < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}
	if c.Risk.MaxDailyLossPct < 0 || c.Risk.MaxDailyLossPct > 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be between 0 and 1")
	}

	for i, sc := range c.Strategies {
		if sc.Name == "" {
			return fmt.Errorf("strategies[%d]: name is required", i)
		}
		if sc.Symbol == "" {
			return fmt.Errorf("strategy %s: symbol is required", sc.Name)
		}
		if _, ok := routed[sc.Symbol]; !ok {
			return fmt.Errorf("strategy %s: symbol %s is not routed to any venue", sc.Name, sc.Symbol)
		}
		switch sc.Type {
		case "grid", "martingale", "signal", "trend":
		default:
			return fmt.Errorf("strategy %s: unknown type %q", sc.Name, sc.Type)
		}
	}

	switch c.Journal.Type {
	case "", "none":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path required for sqlite journal")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite' or 'none'")
	}
	return nil
}

// Instruments merges every venue's instrument table into the one map the
// risk gate checks against.
func (c *Config) Instruments() map[string]order.InstrumentMeta {
	out := make(map[string]order.InstrumentMeta)
	for _, vc := range c.Venues {
		for sym, meta := range vc.Instruments {
			out[sym] = meta
		}
	}
	return out
}

// Credentials reads one venue's credentials from the environment. The
// venue name is uppercased into a prefix: venue "okx-main" reads
// OKX_MAIN_API_KEY, OKX_MAIN_API_SECRET, OKX_MAIN_PASSPHRASE,
// OKX_MAIN_ACCOUNT and OKX_MAIN_TOKEN.
func Credentials(name string) venue.Credentials {
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_"
	return venue.Credentials{
		APIKey:     os.Getenv(prefix + "API_KEY"),
		APISecret:  os.Getenv(prefix + "API_SECRET"),
		Passphrase: os.Getenv(prefix + "PASSPHRASE"),
		Account:    os.Getenv(prefix + "ACCOUNT"),
		Token:      os.Getenv(prefix + "TOKEN"),
	}
}

// Default returns a configuration with sensible defaults: one simulated
// OKX venue, tight risk limits and an in-memory journal.
func Default() *Config {
	return &Config{
		Venues: map[string]VenueConfig{
			"okx": {
				Kind:      "okx",
				Simulated: true,
				TradeMode: "cash",
				Symbols:   map[string]string{"BTC_USDT": "BTC-USDT"},
				Instruments: map[string]order.InstrumentMeta{
					"BTC_USDT": {
						Symbol:        "BTC_USDT",
						QuoteCurrency: "USDT",
						TickSize:      0.1,
						LotStep:       0.0001,
						MinUnits:      0.0001,
						Tradable:      true,
					},
				},
				AccountCurrency: "USDT",
				HealthInterval:  30 * time.Second,
			},
		},
		Risk: risk.DefaultLimits(),
		Strategies: []strategy.Config{
			{
				Name:        "btc-grid",
				Type:        "grid",
				Symbol:      "BTC_USDT",
				Units:       0.001,
				GridSpacing: 250,
				GridLevels:  2,
			},
		},
		Journal:      JournalConfig{Type: "sqlite", DBPath: "./executor.db"},
		PlaceTimeout: 10 * time.Second,
	}
}
