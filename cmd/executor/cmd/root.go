package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "executor",
	Short: "A multi-venue order execution engine",
	Long: `Executor routes strategy-generated orders to trading venues.

It provides:
  - Venue adapters for OKX (REST) and websocket terminal bridges
  - Per-venue connection management with reconnect and health checks
  - Pre-trade risk validation and daily loss limits
  - At-most-once order dispatch keyed by idempotency key
  - Grid, martingale, signal-driven and trend-following strategies
  - A SQLite audit journal of every order and rejection

Complete documentation is available at https://github.com/rustyeddy/executor`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
