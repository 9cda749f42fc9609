package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tathienbao/signal-trader/internal/alerting"
	"github.com/tathienbao/signal-trader/internal/broker"
	"github.com/tathienbao/signal-trader/internal/broker/paper"
	"github.com/tathienbao/signal-trader/internal/broker/rest"
	"github.com/tathienbao/signal-trader/internal/config"
	"github.com/tathienbao/signal-trader/internal/engine"
	"github.com/tathienbao/signal-trader/internal/ledger"
	"github.com/tathienbao/signal-trader/internal/metrics"
	"github.com/tathienbao/signal-trader/internal/monitor"
	"github.com/tathienbao/signal-trader/internal/persistence"
	"github.com/tathienbao/signal-trader/internal/risk"
	"github.com/tathienbao/signal-trader/internal/source"
	"github.com/tathienbao/signal-trader/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start listening for signals and trading",
	RunE:  runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// signalBuffer bounds how many parsed signals may wait for the dispatcher.
const signalBuffer = 64

// connectedBroker is a brokerage with a session to open.
type connectedBroker interface {
	broker.Brokerage
	Connect(ctx context.Context) error
	IsConnected() bool
}

func newBroker(cfg *config.Config, logger *slog.Logger) connectedBroker {
	if cfg.Broker.Type == "rest" {
		return rest.NewClient(cfg.ToRESTConfig(), logger)
	}
	return paper.NewBroker(cfg.ToPaperConfig(), logger)
}

func newAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	var alerters []alerting.Alerter
	for _, ch := range cfg.Alerting.Channels {
		if ch.Type == "console" {
			alerters = append(alerters, alerting.NewConsoleAlerter(logger))
		}
	}
	for _, tg := range cfg.TelegramConfigs() {
		alerters = append(alerters, alerting.NewTelegramAlerter(tg))
	}

	switch len(alerters) {
	case 0:
		return alerting.NewConsoleAlerter(logger)
	case 1:
		return alerters[0]
	default:
		return alerting.NewMultiAlerter(logger, alerters...)
	}
}

func newSources(cfg *config.Config, logger *slog.Logger) []source.Source {
	var sources []source.Source
	if cfg.Discord.Token != "" {
		sources = append(sources, source.NewDiscordGateway(cfg.ToDiscordConfig(), logger))
	}
	if cfg.Redis.Enabled {
		sources = append(sources, source.NewRedisSource(cfg.ToRedisConfig(), logger))
	}
	return sources
}

func runBot(cmd *cobra.Command, args []string) error {
	logger := newLogger(true)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("signal-trader starting",
		"version", Version,
		"broker", cfg.Broker.Type,
		"mode", cfg.Broker.Mode,
		"dry_run", cfg.Execution.DryRun,
		"persistence", cfg.Persistence.Type,
	)

	store, journal, err := persistence.Open(ctx, cfg.ToPersistenceConfig())
	if err != nil {
		return fmt.Errorf("open persistence: %w", err)
	}
	defer store.Close()

	book := ledger.Open(ctx, store, logger)

	brk := newBroker(cfg, logger)
	if err := brk.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	notifier := alerting.NewNotifier(newAlerter(cfg, logger), cfg.Alerting.Events, logger)

	var monJournal monitor.Journal
	if journal != nil {
		monJournal = journal
	}

	mon := monitor.NewMonitor(cfg.ToMonitorConfig(), brk, book, monJournal, notifier, logger)
	eng := engine.NewEngine(
		cfg.ToEngineConfig(),
		brk,
		risk.NewEngine(cfg.ToRiskConfig(), logger),
		book,
		mon,
		monJournal,
		notifier,
		logger,
	)

	signals := make(chan types.SignalEnvelope, signalBuffer)
	router := source.NewRouter(cfg.Filter(), signals, logger)
	sources := newSources(cfg, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.ToServerConfig(), logger)
		server.RegisterHealthCheck("broker", func() metrics.Check {
			if brk.IsConnected() {
				return metrics.Healthy("connected")
			}
			return metrics.Unhealthy("disconnected")
		})
		g.Go(func() error { return server.Run(gctx) })
	}

	for _, src := range sources {
		g.Go(func() error {
			if err := src.Run(gctx, router); err != nil {
				notifier.Notify(gctx, alerting.EventSourceDisconnected, "Message source stopped",
					"source", src.Name(), "error", err.Error())
				return fmt.Errorf("%s source: %w", src.Name(), err)
			}
			return nil
		})
	}

	g.Go(func() error { return eng.Run(gctx, signals) })

	notifier.Notify(ctx, alerting.EventBotStarted, "Signal trader started",
		"broker", cfg.Broker.Type, "dry_run", cfg.Execution.DryRun)

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("bot stopped with error", "err", runErr)
	} else {
		logger.Info("shutdown signal received")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
	defer cancel()

	if err := shutdown(shutdownCtx, cfg, eng, book, sources, brk, notifier, logger); err != nil {
		logger.Error("shutdown error", "err", err)
	}

	logger.Info("signal-trader shutdown complete")
	return runErr
}

func shutdown(
	ctx context.Context,
	cfg *config.Config,
	eng *engine.Engine,
	book *ledger.Book,
	sources []source.Source,
	brk connectedBroker,
	notifier *alerting.Notifier,
	logger *slog.Logger,
) error {
	logger.Info("starting graceful shutdown",
		"timeout", cfg.ShutdownTimeout(),
	)

	// Shutdown steps with timeout check
	steps := []struct {
		name string
		fn   func() error
	}{
		{"wait for order monitors", func() error {
			return eng.Wait(ctx)
		}},
		{"save ledger", func() error {
			return book.Flush(ctx)
		}},
		{"send daily summary", func() error {
			eng.SendDailySummary(ctx)
			return nil
		}},
		{"close connections", func() error {
			for _, src := range sources {
				if c, ok := src.(interface{ Close() error }); ok {
					_ = c.Close()
				}
			}
			if d, ok := brk.(interface{ Disconnect() error }); ok {
				return d.Disconnect()
			}
			return nil
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			logger.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				logger.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}

	notifier.Notify(ctx, alerting.EventBotStopped, "Signal trader stopped")

	// Small delay to allow final log messages
	time.Sleep(100 * time.Millisecond)

	return nil
}
