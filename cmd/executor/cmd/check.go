package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/executor/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a config file without connecting anywhere",
	Long: `Check loads and validates a configuration file.

It verifies venue kinds, symbol routing, instrument metadata, risk
limits and strategy parameters, and reports the first problem found.

Example:
  executor check -f examples/configs/okx-demo.yaml`,
	RunE: runCheck,
}

var checkConfigPath string

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	checkCmd.MarkFlagRequired("config")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(checkConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	symbols := 0
	for _, vc := range cfg.Venues {
		symbols += len(vc.Symbols)
	}
	fmt.Printf("Config OK: %d venue(s), %d symbol(s), %d strategy instance(s)\n",
		len(cfg.Venues), symbols, len(cfg.Strategies))
	return nil
}
