package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/racebot/config"
	"github.com/alejandrodnm/racebot/internal/adapters/exchange"
	"github.com/alejandrodnm/racebot/internal/adapters/metrics"
	"github.com/alejandrodnm/racebot/internal/adapters/notify"
	"github.com/alejandrodnm/racebot/internal/adapters/paper"
	"github.com/alejandrodnm/racebot/internal/adapters/storage"
	"github.com/alejandrodnm/racebot/internal/application/decision"
	"github.com/alejandrodnm/racebot/internal/application/execution"
	"github.com/alejandrodnm/racebot/internal/application/reconcile"
	"github.com/alejandrodnm/racebot/internal/application/trading"
	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle and exit")
	dryRun := flag.Bool("dry-run", false, "place orders on the in-memory paper exchange, reading live prices")
	report := flag.Bool("report", false, "print the bet log and pending orders, then exit")
	selectionsPath := flag.String("selections", "", "YAML file of selections to load before trading")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	quiet := flag.Bool("quiet", false, "skip cycle lines for ticks that did nothing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("racebot starting",
		"config", *configPath,
		"storage", cfg.Storage.Driver,
		"dry_run", *dryRun,
		"once", *once,
		"report", *report,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "driver", cfg.Storage.Driver)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole(*quiet)

	if *report {
		if err := printReport(ctx, store, notifier); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if *selectionsPath != "" {
		n, err := loadSelections(ctx, *selectionsPath, store)
		if err != nil {
			slog.Error("failed to load selections", "err", err, "path", *selectionsPath)
			os.Exit(1)
		}
		slog.Info("selections loaded", "count", n, "path", *selectionsPath)
	}

	var metricsSink ports.Metrics = ports.NopMetrics{}
	if cfg.Metrics.Listen != "" {
		prom := metrics.New()
		metricsSink = prom
		go func() {
			if err := prom.Serve(ctx, cfg.Metrics.Listen); err != nil {
				slog.Error("metrics server failed", "err", err)
			}
		}()
	}

	client := exchange.NewClient(exchange.Config{
		BaseURL:       cfg.Exchange.BaseURL,
		AppKey:        cfg.Exchange.AppKey,
		Username:      cfg.Exchange.Username,
		Password:      cfg.Exchange.Password,
		RatePerSecond: cfg.Exchange.RatePerSecond,
		Timeout:       cfg.ExchangeTimeout(),
	})

	var (
		ex      ports.Exchange = client
		session ports.Session  = client
	)
	if *dryRun {
		if err := client.Login(ctx); err != nil {
			slog.Warn("dry-run: price feed login failed, books will be empty until it recovers", "err", err)
		}
		paperEx := paper.New(paper.WithPriceSource(client))
		ex, session = paperEx, paperEx
		slog.Info("dry-run: orders go to the paper exchange")
	}

	loop, err := buildLoop(cfg, ex, session, store, notifier, metricsSink, *once)
	if err != nil {
		slog.Error("failed to build trading loop", "err", err)
		os.Exit(1)
	}

	if err := loop.Run(ctx); err != nil {
		slog.Error("trader exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("racebot stopped cleanly")
}

func buildLoop(
	cfg *config.Config,
	ex ports.Exchange,
	session ports.Session,
	store ports.Storage,
	notifier ports.Notifier,
	metricsSink ports.Metrics,
	once bool,
) (*trading.Loop, error) {
	schedule, err := cfg.StakingSchedule()
	if err != nil {
		return nil, err
	}
	sizer := domain.Sizer{MinStake: cfg.Sizing.MinStake, Tolerance: cfg.Sizing.FullyMatchedTolerance}
	failsafe := domain.Failsafe{
		MaxStakePerSelection:     cfg.Failsafe.MaxStakePerSelection,
		MaxLiabilityPerSelection: cfg.Failsafe.MaxLiabilityPerSelection,
	}

	snapshots := trading.NewSnapshotBuilder(ex, store, trading.SnapshotConfig{
		Staking:             schedule,
		Sizer:               sizer,
		ShortPriceThreshold: cfg.Invalidation.ShortPriceThreshold,
		EarlyBirdCutoff:     cfg.EarlyBirdCutoff(),
		PriceConcurrency:    cfg.Loop.PriceConcurrency,
	})

	engine := decision.New(decision.Config{
		Sizer:    sizer,
		Ladder:   domain.StandardLadder,
		Failsafe: failsafe,
		EarlyBird: decision.EarlyBirdConfig{
			Enabled:           cfg.EarlyBird.Enabled,
			MinHorizonMinutes: cfg.EarlyBird.MinHorizonMinutes,
			TickOffsets:       cfg.EarlyBird.TickOffsets,
			Stake:             cfg.EarlyBird.Stake,
		},
		Invalidation: decision.InvalidationConfig{
			PlaceRunnerThreshold: cfg.Invalidation.PlaceRunnerThreshold,
		},
		MinLiquidity: cfg.Sizing.MinLiquidity,
	})

	executor := execution.NewExecutor(ex, store, metricsSink, failsafe,
		domain.CashOutCalculator{MinStake: cfg.Sizing.MinStake, Ladder: domain.StandardLadder})

	cleanup := execution.NewCleanup(ex, store, metricsSink, execution.CleanupConfig{
		StaleAfter:       cfg.StaleAfter(),
		Imminent:         cfg.ImminentThreshold(),
		EarlyBirdHorizon: cfg.EarlyBirdHorizon(),
	})

	return trading.NewLoop(trading.Deps{
		Session:    session,
		Store:      store,
		Snapshots:  snapshots,
		Engine:     engine,
		Executor:   executor,
		Cleanup:    cleanup,
		Reconciler: reconcile.New(ex, store, store),
		Notifier:   notifier,
		Metrics:    metricsSink,
	}, trading.LoopConfig{
		MaxConsecutiveErrors: cfg.Loop.MaxConsecutiveErrors,
		MaxBackoff:           time.Duration(cfg.Loop.MaxBackoffSeconds) * time.Second,
		ConnectivityTimeout:  time.Duration(cfg.Loop.ConnectivityTimeoutMinutes) * time.Minute,
		ConnectivityPoll:     time.Duration(cfg.Loop.ConnectivityPollSeconds) * time.Second,
		Once:                 once,
	}), nil
}

func printReport(ctx context.Context, store ports.Ledger, notifier ports.Notifier) error {
	betLog, err := store.BetLog(ctx, time.Time{})
	if err != nil {
		return err
	}
	pending, err := store.PendingOrders(ctx)
	if err != nil {
		return err
	}
	return notifier.Report(ctx, betLog, pending)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
