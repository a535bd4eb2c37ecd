package scanner

import (
	"context"
	"fmt"
	"sync"

	"divergence-scanner-go/internal/binance"
	"divergence-scanner-go/internal/config"
	"divergence-scanner-go/internal/models"
	"divergence-scanner-go/internal/store"
	"go.uber.org/zap"
)

// Summary aggregates the outcome of one scan run. Per-symbol failures are
// contained and counted here instead of being raised individually.
type Summary struct {
	RunID              uint
	Scanned            int
	Matched            int
	Recorded           int
	DroppedNoSetup     int
	DroppedUnavailable int
	DroppedBelowFloor  int
	Failed             int
}

// Scanner is the stage-1 batch job: it walks the instrument universe,
// applies the crowd/top-trader divergence test, and persists surviving
// candidates as signals of a single run.
type Scanner struct {
	logger *zap.Logger
	cfg    *config.Scan
	client binance.MarketDataAPI
	store  *store.RunStore
}

// New creates a scanner.
func New(logger *zap.Logger, cfg *config.Scan, client binance.MarketDataAPI, st *store.RunStore) *Scanner {
	return &Scanner{
		logger: logger,
		cfg:    cfg,
		client: client,
		store:  st,
	}
}

// outcome classifies what happened to one symbol during the scan.
type outcome int

const (
	outcomeRecorded outcome = iota
	outcomeNoSetup
	outcomeUnavailable
	outcomeBelowFloor
	outcomeFailed
)

// Run executes one full scan over the given symbols and returns the run
// summary. Cancelling the context stops the scan after in-flight symbols
// drain; signals recorded up to that point stay attributed to this run.
func (s *Scanner) Run(ctx context.Context, symbols []string) (*Summary, error) {
	run, err := s.store.BeginRun(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("could not begin run: %w", err)
	}

	s.logger.Info("Starting divergence scan",
		zap.Uint("run_id", run.RunID),
		zap.String("trace_id", run.TraceID),
		zap.Int("symbols", len(symbols)),
		zap.Float64("min_oi_usdt", s.cfg.MinOIUSDT),
	)

	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan outcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				results <- s.scanSymbol(ctx, run.RunID, symbol)
			}
		}()
	}

	// Feed symbols until done or cancelled. Workers drain whatever is
	// already in flight; nothing is interrupted mid-instrument.
	fed := 0
feed:
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			s.logger.Warn("Scan interrupted, draining in-flight symbols", zap.Uint("run_id", run.RunID))
			break feed
		}
		select {
		case jobs <- symbol:
			fed++
		case <-ctx.Done():
			s.logger.Warn("Scan interrupted, draining in-flight symbols", zap.Uint("run_id", run.RunID))
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	summary := &Summary{RunID: run.RunID, Scanned: fed}
	for res := range results {
		switch res {
		case outcomeRecorded:
			summary.Matched++
			summary.Recorded++
		case outcomeNoSetup:
			summary.DroppedNoSetup++
		case outcomeUnavailable:
			summary.DroppedUnavailable++
		case outcomeBelowFloor:
			summary.Matched++
			summary.DroppedBelowFloor++
		case outcomeFailed:
			summary.Failed++
		}
	}

	s.logger.Info("Scan complete",
		zap.Uint("run_id", run.RunID),
		zap.Int("scanned", summary.Scanned),
		zap.Int("matched", summary.Matched),
		zap.Int("recorded", summary.Recorded),
		zap.Int("dropped_no_setup", summary.DroppedNoSetup),
		zap.Int("dropped_unavailable", summary.DroppedUnavailable),
		zap.Int("dropped_below_floor", summary.DroppedBelowFloor),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// scanSymbol runs the gated pipeline for one symbol. The cheap ratio check
// comes first and gates every more expensive call.
func (s *Scanner) scanSymbol(ctx context.Context, runID uint, symbol string) outcome {
	ratios, err := s.client.LongShortRatios(ctx, symbol, s.cfg.Period)
	if err != nil {
		s.logger.Debug("Ratios unavailable", zap.String("symbol", symbol), zap.Error(err))
		return outcomeUnavailable
	}

	setup := s.detectSetup(ratios)
	if setup == "" {
		return outcomeNoSetup
	}

	oi, err := s.client.OpenInterest(ctx, symbol, s.cfg.Period)
	if err != nil {
		s.logger.Debug("Open interest unavailable", zap.String("symbol", symbol), zap.Error(err))
		return outcomeUnavailable
	}
	if oi < s.cfg.MinOIUSDT {
		return outcomeBelowFloor
	}

	signal := &models.Signal{
		RunID:               runID,
		Symbol:              symbol,
		Setup:               setup,
		TimestampMs:         ratios.TimestampMs,
		OpenInterestUSDT:    oi,
		CrowdLongPct:        ratios.CrowdLongPct,
		CrowdShortPct:       ratios.CrowdShortPct,
		TopAccountLongPct:   ratios.TopAccountLongPct,
		TopAccountShortPct:  ratios.TopAccountShortPct,
		TopPositionLongPct:  ratios.TopPositionLongPct,
		TopPositionShortPct: ratios.TopPositionShortPct,
	}

	// Funding, price and volumes are soft enrichments: if their calls fail
	// the signal is still recorded, with the fields left unset. Ratios and
	// open interest above are the hard gates.
	if premium, err := s.client.PremiumIndex(ctx, symbol); err == nil {
		funding := premium.FundingRate
		price := premium.MarkPrice
		signal.FundingRate = &funding
		signal.CurrentPrice = &price
	} else {
		s.logger.Debug("Premium index unavailable", zap.String("symbol", symbol), zap.Error(err))
	}

	if volumes, err := s.client.Volumes(ctx, symbol); err == nil {
		signal.Volume24h = volumes.Volume24h
		signal.Volume2h = volumes.Volume2h
	}

	if err := s.store.RecordSignal(signal); err != nil {
		s.logger.Error("Failed to record signal", zap.String("symbol", symbol), zap.Error(err))
		return outcomeFailed
	}

	s.logger.Info("Signal recorded",
		zap.String("symbol", symbol),
		zap.String("setup", setup),
		zap.Float64("oi_usdt", oi),
	)
	return outcomeRecorded
}

// detectSetup applies the divergence test. A setup exists when the crowd
// leans hard one way while top-trader positioning leans the other.
func (s *Scanner) detectSetup(ratios *binance.RatioSet) string {
	if ratios.CrowdShortPct > s.cfg.CrowdRatioMin && ratios.TopPositionLongPct > s.cfg.TopPositionMin {
		return models.SetupCrowdShortTopLong
	}
	if ratios.CrowdLongPct > s.cfg.CrowdRatioMin && ratios.TopPositionShortPct > s.cfg.TopPositionMin {
		return models.SetupCrowdLongTopShort
	}
	return ""
}
