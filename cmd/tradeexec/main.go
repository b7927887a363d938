// Package main is the entry point for the trade execution core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/adapter"
	"github.com/hoangle/tradeexec/internal/adapter/paper"
	"github.com/hoangle/tradeexec/internal/adapter/venue"
	"github.com/hoangle/tradeexec/internal/alerting"
	"github.com/hoangle/tradeexec/internal/api"
	"github.com/hoangle/tradeexec/internal/config"
	"github.com/hoangle/tradeexec/internal/gate"
	"github.com/hoangle/tradeexec/internal/ledger"
	"github.com/hoangle/tradeexec/internal/marketdata"
	"github.com/hoangle/tradeexec/internal/metrics"
	"github.com/hoangle/tradeexec/internal/orchestrator"
	"github.com/hoangle/tradeexec/internal/persistence"
	"github.com/hoangle/tradeexec/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Trade Execution Core - Paper/Real Order Execution and Risk Accounting

Usage:
  tradeexec <command> [options]

Commands:
  run        Start the execution core
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  tradeexec run --config config.yaml
  tradeexec validate --config config.yaml

Use "tradeexec <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("tradeexec version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Paper balance: %.2f\n", cfg.Capital.PaperBalance)
	fmt.Printf("  Real balance: %.2f\n", cfg.Capital.RealBalance)
	fmt.Printf("  Venue: %s\n", cfg.Venue.Type)
	fmt.Printf("  Stop loss: %.1f%%\n", cfg.Execution.StopLossPct*100)
	fmt.Printf("  Take profit: %.1f%%\n", cfg.Execution.TakeProfitPct*100)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	// Secrets come from the environment; .env is a local convenience.
	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("tradeexec starting",
		"version", Version,
		"venue", cfg.Venue.Type,
		"paper_balance", cfg.Capital.PaperBalance,
		"real_balance", cfg.Capital.RealBalance,
	)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tradeexec exited with error", "err", err)
		os.Exit(1)
	}

	logger.Info("tradeexec shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sessionStart := time.Now().UTC()

	// Persistence.
	repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	// Alerting.
	alerter, telegram := buildAlerter(cfg, logger)

	// Market data and exchange adapter.
	feed, adapterVenue, err := buildVenue(cfg, logger)
	if err != nil {
		return err
	}
	defer feed.Close()
	defer adapterVenue.Close()

	// Capital ledger and confirmation gate.
	led := ledger.New(cfg.ToLedgerConfig(), logger)
	g := gate.New(cfg.ToGateConfig(), alerter, logger)

	// Metrics.
	var recorder *metrics.Recorder
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		serverCfg := metrics.DefaultServerConfig()
		serverCfg.Addr = cfg.Metrics.Addr
		metricsServer = metrics.NewServer(serverCfg, logger)
		metricsServer.RegisterHealthCheck("repository", func() metrics.Check {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := repo.Ping(pingCtx); err != nil {
				return metrics.Check{Status: "unhealthy", Message: err.Error()}
			}
			return metrics.Check{Status: "healthy"}
		})
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	// Orchestrator.
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Lifecycle = cfg.ToLifecycleConfig()
	orchCfg.ConfirmationTimeout = cfg.AwaitTimeout()
	orch := orchestrator.New(orchCfg, adapterVenue, feed, led, g, repo, recorder, alerter, logger)

	// Settle whatever the previous run left behind before accepting
	// new intents.
	if err := orch.Recover(ctx); err != nil {
		logger.Error("recovery failed", "err", err)
		return fmt.Errorf("recover: %w", err)
	}
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	// HTTP API.
	apiServer := api.NewServer(orch, logger)
	apiServer.Start(cfg.API.Addr)

	alertEvent(ctx, alerter, alerting.EventCoreStarted, "Execution core started",
		"version", Version,
		"venue", cfg.Venue.Type,
	)

	// Periodic capital snapshots for restart visibility.
	snapshotDone := make(chan struct{})
	go snapshotLoop(ctx, cfg.SnapshotInterval(), led, repo, logger, snapshotDone)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	// Stop the outer surface first so no new intents arrive, then the
	// orchestrator, then persist the final ledger state.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", "err", err)
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Warn("orchestrator shutdown", "err", err)
	}
	<-snapshotDone

	persistSnapshots(shutdownCtx, led, repo, logger)
	sendSessionSummary(shutdownCtx, telegram, repo, led, sessionStart, logger)

	alertEvent(shutdownCtx, alerter, alerting.EventCoreStopped, "Execution core stopped")

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", "err", err)
		}
	}
	return nil
}

// buildVenue constructs the price feed and exchange adapter for the
// configured venue type.
func buildVenue(cfg *config.Config, logger *slog.Logger) (marketdata.Feed, adapter.Adapter, error) {
	switch cfg.Venue.Type {
	case "live":
		feed := marketdata.NewWSFeed(cfg.Venue.WebsocketURL, logger)
		client := venue.NewClient(venue.Config{
			BaseURL:              cfg.Venue.BaseURL,
			WSURL:                cfg.Venue.WebsocketURL,
			APIKey:               cfg.Venue.APIKey,
			APISecret:            cfg.Venue.APISecret,
			MaxRequestsPerSecond: cfg.Venue.RateLimitPerSecond,
		}, logger)
		return feed, client, nil
	case "paper":
		var feed marketdata.Feed
		if cfg.Venue.WebsocketURL != "" {
			feed = marketdata.NewWSFeed(cfg.Venue.WebsocketURL, logger)
		} else {
			feed = marketdata.NewSimFeed()
		}
		paperCfg := paper.DefaultConfig()
		if cfg.Venue.PaperSlippagePct > 0 {
			paperCfg.SlippagePct = decimal.NewFromFloat(cfg.Venue.PaperSlippagePct)
		}
		return feed, paper.New(paperCfg, feed, logger), nil
	default:
		return nil, nil, fmt.Errorf("unsupported venue type %q", cfg.Venue.Type)
	}
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) (alerting.Alerter, *alerting.TelegramAlerter) {
	alerters := []alerting.Alerter{alerting.NewConsoleAlerter(logger)}
	var telegram *alerting.TelegramAlerter
	if cfg.Alerting.Enabled {
		telegram = alerting.NewTelegramAlerter(alerting.TelegramConfig{
			BotToken: cfg.Alerting.BotToken,
			ChatID:   cfg.Alerting.ChatID,
		})
		alerters = append(alerters, telegram)
	}
	return alerting.NewMultiAlerter(logger, alerters...), telegram
}

func alertEvent(ctx context.Context, alerter alerting.Alerter, event alerting.AlertEvent, msg string, fields ...any) {
	if err := alerter.Alert(ctx, alerting.EventSeverity(event), msg, fields...); err != nil {
		slog.Warn("alert failed", "event", event, "err", err)
	}
}

// snapshotLoop persists capital snapshots at the configured interval.
func snapshotLoop(ctx context.Context, interval time.Duration, led *ledger.Ledger, repo persistence.Repository, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			persistSnapshots(ctx, led, repo, logger)
		}
	}
}

func persistSnapshots(ctx context.Context, led *ledger.Ledger, repo persistence.Repository, logger *slog.Logger) {
	for _, mode := range []types.Mode{types.ModePaper, types.ModeReal} {
		if err := repo.SaveCapitalSnapshot(ctx, led.Snapshot(mode)); err != nil {
			logger.Warn("persist capital snapshot", "mode", mode.String(), "err", err)
		}
	}
}

func sendSessionSummary(
	ctx context.Context,
	telegram *alerting.TelegramAlerter,
	repo persistence.Repository,
	led *ledger.Ledger,
	sessionStart time.Time,
	logger *slog.Logger,
) {
	positions, err := repo.GetPositionsSince(ctx, sessionStart)
	if err != nil {
		logger.Warn("session summary: load positions", "err", err)
		return
	}

	summary := alerting.NewSessionSummary(
		sessionStart, time.Now().UTC(), positions,
		led.Snapshot(types.ModePaper), led.Snapshot(types.ModeReal),
	)
	logger.Info("session summary",
		"closed", summary.ClosedPositions,
		"wins", summary.WinningPositions,
		"losses", summary.LosingPositions,
		"realized_pl", summary.RealizedPL,
		"failed", summary.FailedPositions,
		"open", summary.OpenPositions,
	)

	if telegram == nil {
		return
	}
	if err := telegram.SendSessionSummary(ctx, summary); err != nil {
		logger.Warn("session summary alert", "err", err)
	}
}
