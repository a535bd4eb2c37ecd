package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"divergence-scanner-go/internal/binance"
	"divergence-scanner-go/internal/config"
	"divergence-scanner-go/internal/database"
	"divergence-scanner-go/internal/export"
	"divergence-scanner-go/internal/grader"
	"divergence-scanner-go/internal/logger"
	"divergence-scanner-go/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
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

	runStore := store.NewRunStore(db)
	run, err := runStore.LatestRun()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Fatal("No scan runs found; run the scanner first")
		}
		log.Fatal("Failed to load latest run", zap.Error(err))
	}

	signals, err := runStore.SignalsOf(run.RunID)
	if err != nil {
		log.Fatal("Failed to load signals", zap.Error(err))
	}
	log.Info("Loaded latest scan run",
		zap.Uint("run_id", run.RunID),
		zap.String("trace_id", run.TraceID),
		zap.Int("signals", len(signals)),
	)
	if len(signals) == 0 {
		log.Warn("Latest run has no signals, nothing to grade")
		return
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, stopping after in-flight calls drain...")
		cancel()
	}()

	limiter := rate.NewLimiter(rate.Limit(cfg.Binance.RateLimit), cfg.Binance.RateLimitBurst)
	client := binance.NewRestClient(&cfg.Binance, limiter, log)

	engine := grader.NewEngine(log, &cfg.Grade, client)
	reports := engine.GradeRun(ctx, signals)
	if len(reports) == 0 {
		log.Warn("No signals cleared the grading OI floor")
		return
	}

	if err := export.WriteGradesCSV(cfg.Export.GradesCSV, reports); err != nil {
		log.Fatal("Failed to export grades CSV", zap.Error(err))
	}
	if err := export.WriteGradesJSON(cfg.Export.GradesJSON, reports); err != nil {
		log.Fatal("Failed to export grades JSON", zap.Error(err))
	}
	log.Info("Grades exported",
		zap.String("csv", cfg.Export.GradesCSV),
		zap.String("json", cfg.Export.GradesJSON),
		zap.Int("reports", len(reports)),
	)

	if cfg.Export.Table {
		export.PrintSummaryTable(os.Stdout, reports)
	}
}
