package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rotation-trader/internal/analyzer"
	"rotation-trader/internal/events"
	"rotation-trader/internal/monitor"
	"rotation-trader/internal/order"
	"rotation-trader/internal/reconciliation"
	"rotation-trader/internal/scheduler"
	"rotation-trader/internal/state"
	"rotation-trader/internal/strategy"
	"rotation-trader/pkg/config"
	"rotation-trader/pkg/db"
	"rotation-trader/pkg/exchanges/kraken"
	market "rotation-trader/pkg/market/kraken"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	settingsStore := &strategy.SettingsStore{DB: database}
	if err := settingsStore.EnsureSeed(ctx); err != nil {
		log.Fatalf("seed settings: %v", err)
	}
	settings, err := settingsStore.Load(ctx)
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}

	gateway := kraken.New(kraken.Config{
		APIKey:    cfg.KrakenAPIKey,
		APISecret: cfg.KrakenAPISecret,
		BaseURL:   cfg.KrakenBaseURL,
	})

	positions := state.NewManager(database)
	if err := positions.Load(ctx); err != nil {
		log.Fatalf("load positions: %v", err)
	}

	bus := events.NewBus()
	monitor.NewRelay(monitor.LogSink{}).Start(bus)

	var feed *market.Feed
	if cfg.EnableLiveFeed {
		feed = market.NewFeed()
		go feed.Run(ctx, settings.Universe)
	}

	executor := order.NewManager(gateway, database, positions, bus, order.Config{
		MakerOffset:  cfg.MakerOffset,
		PollInterval: cfg.OrderPollInterval,
		StaleAfter:   cfg.OrderStaleAfter,
		MarketWait:   cfg.MarketFillWait,
	})

	evaluator := strategy.NewEvaluator(gateway, database, positions, settingsStore)
	evaluator.Pending = executor
	if feed != nil {
		evaluator.Prices = feed
	}

	reconciler := reconciliation.NewService(gateway, database, positions, bus, reconciliation.DefaultConfig())

	tuner := analyzer.New(database, settingsStore, bus)
	tuner.WindowDays = cfg.AnalysisWindowDays

	sched := scheduler.New(ctx)

	strategyJob := func(ctx context.Context) error {
		intents, err := evaluator.Evaluate(ctx)
		if err != nil {
			return err
		}
		if len(intents) == 0 {
			return nil
		}
		if cfg.DryRun {
			for _, in := range intents {
				log.Printf("dry-run: would %s %s qty=%v @ %v (%s)", in.Side, in.Symbol, in.Qty, in.Price, in.Reason)
			}
			return nil
		}
		executor.ExecuteAll(ctx, intents)
		return nil
	}

	reconcileJob := func(ctx context.Context) error {
		current, err := settingsStore.Load(ctx)
		if err != nil {
			return err
		}
		_, err = reconciler.Run(ctx, current.Universe)
		return err
	}

	analyzerJob := func(ctx context.Context) error {
		_, err := tuner.Run(ctx)
		return err
	}

	if err := sched.AddJob("strategy", scheduler.CadenceSpec(settings.CadenceHours), strategyJob); err != nil {
		log.Fatalf("schedule strategy: %v", err)
	}
	if err := sched.AddJob("reconciliation", scheduler.CadenceSpec(cfg.ReconcileEveryHours), reconcileJob); err != nil {
		log.Fatalf("schedule reconciliation: %v", err)
	}
	if err := sched.AddJob("analyzer", cfg.AnalyzerCronSpec, analyzerJob); err != nil {
		log.Fatalf("schedule analyzer: %v", err)
	}

	// Reconcile once at startup so the first cycle sees a trued-up ledger.
	if err := reconcileJob(ctx); err != nil {
		log.Printf("startup reconciliation: %v", err)
	}

	sched.Start()
	log.Printf("rotation trader running: %d symbols, cadence %dh, dry-run=%v",
		len(settings.Universe), settings.CadenceHours, cfg.DryRun)

	<-ctx.Done()
	log.Printf("shutting down")
	sched.Stop()
}
