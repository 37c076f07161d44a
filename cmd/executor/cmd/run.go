package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/executor/config"
	"github.com/rustyeddy/executor/exec"
	"github.com/rustyeddy/executor/journal"
	"github.com/rustyeddy/executor/notify"
	"github.com/rustyeddy/executor/risk"
	signals "github.com/rustyeddy/executor/signal"
	"github.com/rustyeddy/executor/strategy"
	"github.com/rustyeddy/executor/venue"
	"github.com/rustyeddy/executor/venue/bridge"
	"github.com/rustyeddy/executor/venue/okx"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution engine from a config file",
	Long: `Run connects every configured venue, starts the configured strategy
instances and routes their orders until interrupted.

Credentials come from the environment (or a .env file), prefixed by the
venue name: venue "okx-main" reads OKX_MAIN_API_KEY and friends.

Example:
  executor run -f examples/configs/okx-demo.yaml`,
	RunE: runRun,
}

var (
	runConfigPath   string
	runSignalsPath  string
	runTickInterval time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().StringVar(&runSignalsPath, "signals", "", "JSON-lines file feeding signal-driven strategies")
	runCmd.Flags().DurationVar(&runTickInterval, "tick-interval", 2*time.Second, "market data polling interval")
	runCmd.MarkFlagRequired("config")
}

// tickSource is the market data side of a venue session; both adapters
// implement it.
type tickSource interface {
	MarketTick(ctx context.Context, symbol string) (bid, ask float64, err error)
}

func runRun(cmd *cobra.Command, args []string) error {
	godotenv.Load()

	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	var j journal.Journal = journal.Nop{}
	if cfg.Journal.Type == "sqlite" {
		j, err = journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
	}
	defer j.Close()

	notifier := notify.NewConsole(log)
	gate := risk.NewGate(cfg.Risk, cfg.Instruments())

	opts := []exec.Option{
		exec.WithJournal(j),
		exec.WithNotifier(notifier),
		exec.WithLogger(log),
	}
	if cfg.PlaceTimeout > 0 {
		opts = append(opts, exec.WithPlaceTimeout(cfg.PlaceTimeout))
	}
	coord := exec.NewCoordinator(gate, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	type feed struct {
		src     tickSource
		symbols []string
	}
	var feeds []feed

	for name, vc := range cfg.Venues {
		sess, tr, err := buildVenue(name, vc, log)
		if err != nil {
			return err
		}
		mgr := venue.NewManager(venue.ID(name), sess, config.Credentials(name), venue.WithLogger(log))

		symbols := make([]string, 0, len(vc.Symbols))
		for sym := range vc.Symbols {
			symbols = append(symbols, sym)
		}
		coord.Register(mgr, tr, symbols...)

		if err := mgr.Connect(ctx); err != nil {
			// The manager keeps retrying from its health loop.
			log.Warn("initial connect failed",
				slog.String("venue", name), slog.Any("error", err))
		}
		interval := vc.HealthInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		go mgr.Run(ctx, interval)
		defer mgr.Disconnect()

		feeds = append(feeds, feed{src: sess.(tickSource), symbols: symbols})
	}

	engOpts := []strategy.EngineOption{
		strategy.WithNotifier(notifier),
		strategy.WithActiveCount(gate.SetActiveStrategies),
		strategy.WithEngineLogger(log),
	}
	if runSignalsPath != "" {
		src, err := signals.NewFileSource(runSignalsPath)
		if err != nil {
			return err
		}
		defer src.Close()
		engOpts = append(engOpts, strategy.WithSignalSource(src))
	}
	engine := strategy.NewEngine(coord, engOpts...)
	for _, sc := range cfg.Strategies {
		instID, err := engine.Add(sc)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", sc.Name, err)
		}
		log.Info("strategy added",
			slog.String("instance", instID),
			slog.String("name", sc.Name),
			slog.String("type", sc.Type),
			slog.String("symbol", sc.Symbol))
	}

	for _, f := range feeds {
		for _, sym := range f.symbols {
			go pollTicks(ctx, f.src, sym, runTickInterval, engine, log)
		}
	}

	log.Info("executor running", slog.Int("venues", len(cfg.Venues)),
		slog.Int("strategies", len(cfg.Strategies)))
	engine.Run(ctx)

	for _, r := range coord.Reconcile() {
		log.Warn("unresolved ambiguous order",
			slog.String("key", r.IdempotencyKey),
			slog.String("venue_order_id", r.VenueOrderID))
	}
	log.Info("executor stopped")
	return nil
}

// buildVenue wires one venue adapter from its config stanza.
func buildVenue(name string, vc config.VenueConfig, log *slog.Logger) (venue.Session, venue.Translator, error) {
	v := venue.ID(name)
	switch vc.Kind {
	case "okx":
		opts := []okx.Option{
			okx.WithSimulated(vc.Simulated),
			okx.WithSessionLogger(log),
		}
		if vc.Endpoint != "" {
			opts = append(opts, okx.WithBaseURL(vc.Endpoint))
		}
		if vc.TradeMode != "" {
			opts = append(opts, okx.WithTradeMode(vc.TradeMode))
		}
		sess := okx.NewSession(v, vc.Symbols, opts...)
		tr := okx.NewTranslator(v, vc.Instruments, vc.Symbols, vc.AccountCurrency)
		return sess, tr, nil
	case "bridge":
		sess := bridge.NewSession(v, vc.Endpoint, vc.Symbols, bridge.WithSessionLogger(log))
		tr := bridge.NewTranslator(v, vc.Instruments, vc.Symbols, vc.AccountCurrency)
		return sess, tr, nil
	default:
		return nil, nil, fmt.Errorf("venue %s: unknown kind %q", name, vc.Kind)
	}
}

// pollTicks drives one symbol's market feed into the engine.
func pollTicks(ctx context.Context, src tickSource, symbol string, every time.Duration, engine *strategy.Engine, log *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			bid, ask, err := src.MarketTick(ctx, symbol)
			if err != nil {
				log.Debug("tick poll failed",
					slog.String("symbol", symbol), slog.Any("error", err))
				continue
			}
			engine.Dispatch(strategy.MarketView{
				Symbol: symbol,
				Bid:    bid,
				Ask:    ask,
				Time:   time.Now().UTC(),
			})
		}
	}
}
