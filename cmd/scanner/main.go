package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"divergence-scanner-go/internal/binance"
	"divergence-scanner-go/internal/config"
	"divergence-scanner-go/internal/database"
	"divergence-scanner-go/internal/export"
	"divergence-scanner-go/internal/logger"
	"divergence-scanner-go/internal/scanner"
	"divergence-scanner-go/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// The limiter is the single shared request budget for the whole run.
	limiter := rate.NewLimiter(rate.Limit(cfg.Binance.RateLimit), cfg.Binance.RateLimitBurst)
	client := binance.NewRestClient(&cfg.Binance, limiter, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, stopping after in-flight calls drain...")
		cancel()
	}()

	symbols, err := client.ListPerpetualSymbols(ctx)
	if err != nil {
		log.Fatal("Failed to list perpetual symbols", zap.Error(err))
	}
	log.Info("Resolved instrument universe", zap.Int("symbols", len(symbols)))

	runStore := store.NewRunStore(db)
	scan := scanner.New(log, &cfg.Scan, client, runStore)

	summary, err := scan.Run(ctx, symbols)
	if err != nil {
		log.Fatal("Scan failed", zap.Error(err))
	}

	if summary.Recorded == 0 {
		log.Warn("No signals found, skipping CSV export")
		return
	}

	signals, err := runStore.SignalsOf(summary.RunID)
	if err != nil {
		log.Fatal("Failed to load recorded signals", zap.Error(err))
	}
	if err := export.WriteSignalsCSV(cfg.Export.SignalsCSV, signals, cfg.Scan.FundingConfirmPct); err != nil {
		log.Fatal("Failed to export signals", zap.Error(err))
	}
	log.Info("Signals exported",
		zap.String("path", cfg.Export.SignalsCSV),
		zap.Int("signals", len(signals)),
	)
}
