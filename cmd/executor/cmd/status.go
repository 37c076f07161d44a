package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/executor/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show venue connectivity and account state",
	Long: `Status connects to every configured venue, fetches an account
snapshot and prints a summary. No orders are placed.

Example:
  executor status -f examples/configs/okx-demo.yaml`,
	RunE: runStatus,
}

var statusConfigPath string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	statusCmd.MarkFlagRequired("config")
}

func runStatus(cmd *cobra.Command, args []string) error {
	godotenv.Load()

	cfg, err := config.LoadFromFile(statusConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Venue", "Kind", "Status", "Equity", "Balance", "Currency", "Positions")

	for name, vc := range cfg.Venues {
		sess, _, err := buildVenue(name, vc, log)
		if err != nil {
			return err
		}
		if err := sess.Connect(ctx, config.Credentials(name)); err != nil {
			table.Append(name, vc.Kind, "error: "+err.Error(), "-", "-", "-", "-")
			continue
		}
		snap, err := sess.AccountSnapshot(ctx)
		sess.Close()
		if err != nil {
			table.Append(name, vc.Kind, "error: "+err.Error(), "-", "-", "-", "-")
			continue
		}
		table.Append(name, vc.Kind, "connected",
			fmt.Sprintf("%.2f", snap.Equity),
			fmt.Sprintf("%.2f", snap.Balance),
			snap.Currency,
			fmt.Sprintf("%d", len(snap.Positions)))
	}
	table.Render()

	if len(cfg.Strategies) > 0 {
		fmt.Println()
		st := tablewriter.NewWriter(os.Stdout)
		st.Header("Strategy", "Type", "Symbol", "Units")
		for _, sc := range cfg.Strategies {
			st.Append(sc.Name, sc.Type, sc.Symbol, fmt.Sprintf("%g", sc.Units))
		}
		st.Render()
	}
	return nil
}
