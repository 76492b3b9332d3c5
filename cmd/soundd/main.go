package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"soundd/internal/archive"
	"soundd/internal/config"
	"soundd/internal/httpapi"
	"soundd/internal/ledger"
	"soundd/internal/quota"
	"soundd/internal/scheduler"
	"soundd/internal/synth"
	"soundd/internal/tier"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8080"
	if v := os.Getenv("SOUNDD_ADDR"); v != "" {
		defaultAddr = v
	}
	defaultEngine := "http://127.0.0.1:9090"
	if v := os.Getenv("SOUNDD_ENGINE_URL"); v != "" {
		defaultEngine = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", "", "Optional config file (.yaml/.json/.toml)")
	engineURL := flag.String("engine-url", defaultEngine, "Synth runtime base URL")
	memBudgetMB := flag.Int("mem-budget-mb", 0, "Accelerator memory budget in MB (0=unlimited)")
	memMarginMB := flag.Int("mem-margin-mb", 0, "Reserved memory margin in MB to keep free")
	queueCap := flag.Int("queue-cap", 0, "Global pending job cap (0=default)")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	flag.Parse()

	var cfg config.Config
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			l := zerolog.New(os.Stderr)
			l.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = c
	}
	// Flags win over file values when set.
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}
	if cfg.EngineURL == "" {
		cfg.EngineURL = *engineURL
	}
	if *memBudgetMB > 0 {
		cfg.MemBudgetMB = *memBudgetMB
	}
	if *memMarginMB > 0 {
		cfg.MemMarginMB = *memMarginMB
	}
	if *queueCap > 0 {
		cfg.QueueCap = *queueCap
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = *logLevel
	}
	if len(cfg.Models) == 0 {
		cfg.Models = config.DefaultModels()
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()

	engine := synth.NewClient(cfg.EngineURL, cfg.EngineAPIKey, 10*time.Second)
	tiers := tier.NewResolver(tier.NewPolicy(append(tier.Defaults(), cfg.Tiers...)), nil)
	counter := quota.NewWindow()
	credits := ledger.NewMemory()

	var archiver scheduler.Archiver = scheduler.DiscardArchiver{}
	if cfg.ArchivePath != "" {
		archiver = archive.NewFileArchiver(cfg.ArchivePath)
	}

	sched := scheduler.New(engine, tiers, counter, credits, archiver, scheduler.Config{
		Catalog:         cfg.Models,
		BudgetMB:        cfg.MemBudgetMB,
		MarginMB:        cfg.MemMarginMB,
		QueueCap:        cfg.QueueCap,
		MaxRetries:      cfg.MaxRetries,
		GenerateTimeout: time.Duration(cfg.GenerateTimeoutSec) * time.Second,
		IdleUnloadTTL:   time.Duration(cfg.IdleUnloadTTLSec) * time.Second,
		Logger:          log.With().Str("component", "scheduler").Logger(),
	})
	sched.Start()

	mux := httpapi.NewMux(sched, httpapi.Options{
		Logger:      log.With().Str("component", "http").Logger(),
		CORSEnabled: cfg.CORSEnabled,
		CORSOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("engine", cfg.EngineURL).Msg("soundd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful HTTP shutdown error")
	}
	if err := sched.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("scheduler stop timed out")
	}
}
