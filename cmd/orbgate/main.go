package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantbelt/orbgate/internal/broker"
	"github.com/quantbelt/orbgate/internal/config"
	"github.com/quantbelt/orbgate/internal/dashboard"
	"github.com/quantbelt/orbgate/internal/database"
	"github.com/quantbelt/orbgate/internal/engine"
	"github.com/quantbelt/orbgate/internal/market"
	"github.com/quantbelt/orbgate/internal/notify"
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	// Setup logging: console plus the ring buffer the dashboard serves
	logBuffer := dashboard.NewLogBuffer()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, logBuffer))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}

	if cfg.Logging.Debug || os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              ORBGATE - OPENING RANGE BREAKOUT ENGINE")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	if cfg.Broker.Sandbox {
		log.Info().Msg("🧪 Sandbox mode: orders go to the mock exchange")
	} else {
		log.Warn().Msg("💰 LIVE mode: orders go to the real exchange")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	loc := cfg.Location()
	strategyStore := config.NewStrategyStore(cfg.Strategy)

	// 1. Storage
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Warn().Err(err).Msg("Database connection failed, continuing without persistence")
		db = nil
	} else {
		log.Info().Msg("✅ Storage layer initialized")
	}

	// 2. Broker client and realtime stream
	client := broker.NewClient(cfg.Broker, loc)
	stream := broker.NewStream(client, loc)
	log.Info().Msg("✅ Broker layer initialized")

	// 3. Market state
	frames := market.NewFrameStore()
	aggregator := market.NewAggregator()
	flow := market.NewFlowCounters()
	halts := market.NewHaltTracker()
	books := market.NewBookCache()
	candidates := engine.NewCandidateSet()
	log.Info().Msg("✅ Market state initialized")

	// 4. Journal and notifications
	journal, err := engine.NewJournal(cfg.Journal.Path, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trade journal")
	}
	notifier := notify.New(cfg.Telegram)

	// 5. Trading core
	ledger := engine.NewLedger()
	evaluator := engine.NewEvaluator(
		ledger, frames, flow, halts, books,
		strategyStore, client, candidates,
		loc,
		func(day time.Time) time.Time { return cfg.SessionOpen(day.In(loc), loc) },
	)
	reconciler := engine.NewReconciler(ledger, journal, db, strategyStore, notifier)
	screener := engine.NewScreener(client, cfg.Screener)
	subs := engine.NewSubscriptionManager(stream, client, frames, aggregator, flow, halts, books)
	log.Info().Msg("✅ Trading core initialized")

	// 6. Engine
	eng := engine.New(engine.Deps{
		Config:     cfg,
		Strategy:   strategyStore,
		Stream:     stream,
		Gateway:    client,
		Ledger:     ledger,
		Frames:     frames,
		Aggregator: aggregator,
		Flow:       flow,
		Halts:      halts,
		Books:      books,
		Candidates: candidates,
		Evaluator:  evaluator,
		Reconciler: reconciler,
		Screener:   screener,
		Subs:       subs,
		Journal:    journal,
		Notifier:   notifier,
	})
	log.Info().Msg("✅ Engine initialized")

	// 7. Dashboard
	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(cfg.Dashboard, eng, db, logBuffer)
		dash.Start()
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	eng.Start()
	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	eng.Stop()
	if dash != nil {
		dash.Stop()
	}
	journal.Close()
	if db != nil {
		db.Close()
	}

	log.Info().Msg("👋 Goodbye!")
}
