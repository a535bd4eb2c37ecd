package grader

import (
	"context"
	"errors"
	"sync"

	"divergence-scanner-go/internal/binance"
	"divergence-scanner-go/internal/config"
	"divergence-scanner-go/internal/models"
	"go.uber.org/zap"
)

// Engine is the stage-2 batch job. It consumes the persisted signals of one
// run and grades each on four liquidity/volatility/pattern metrics.
//
// Two freshness tiers: setup and open interest come from the stored signal;
// candles and order-book depth are always fetched live at grading time,
// never read back from stage 1.
type Engine struct {
	logger *zap.Logger
	cfg    *config.Grade
	client binance.MarketDataAPI
}

// NewEngine creates a grading engine.
func NewEngine(logger *zap.Logger, cfg *config.Grade, client binance.MarketDataAPI) *Engine {
	return &Engine{
		logger: logger,
		cfg:    cfg,
		client: client,
	}
}

// GradeRun grades every signal of a run that clears the grading OI floor.
// Reports come back in the input order. A failed metric fetch never aborts
// the batch; it degrades that sub-grade to D.
func (e *Engine) GradeRun(ctx context.Context, signals []models.Signal) []*GradeReport {
	eligible := make([]models.Signal, 0, len(signals))
	for _, sig := range signals {
		if sig.OpenInterestUSDT >= e.cfg.MinOIUSDT {
			eligible = append(eligible, sig)
		}
	}
	if skipped := len(signals) - len(eligible); skipped > 0 {
		e.logger.Info("Skipping signals below grading OI floor",
			zap.Int("skipped", skipped),
			zap.Float64("min_oi_usdt", e.cfg.MinOIUSDT),
		)
	}

	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	reports := make([]*GradeReport, len(eligible))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				reports[idx] = e.GradeSignal(ctx, &eligible[idx])
			}
		}()
	}

	for idx := range eligible {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			e.logger.Warn("Grading interrupted, draining in-flight signals")
			close(jobs)
			wg.Wait()
			return compactReports(reports)
		}
	}
	close(jobs)
	wg.Wait()

	return compactReports(reports)
}

// compactReports drops slots left nil by an interrupted run.
func compactReports(reports []*GradeReport) []*GradeReport {
	out := make([]*GradeReport, 0, len(reports))
	for _, r := range reports {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// GradeSignal computes the full grade report for one signal. Each of the
// four sub-metrics is independent; an unavailable one scores D and is still
// averaged, since missing data is itself a risk signal.
func (e *Engine) GradeSignal(ctx context.Context, signal *models.Signal) *GradeReport {
	report := &GradeReport{
		Symbol:           signal.Symbol,
		Setup:            signal.Setup,
		OpenInterestUSDT: signal.OpenInterestUSDT,
		StopHuntRisk:     StopHuntUnknown,
		FundingRate:      signal.FundingRate,
		CurrentPrice:     signal.CurrentPrice,
		Volume24h:        signal.Volume24h,
		Volume2h:         signal.Volume2h,
	}

	e.gradeVolatilityMetric(ctx, report)
	e.gradeOrderBookMetric(ctx, report)
	report.OIGrade = gradeOpenInterest(signal.OpenInterestUSDT)
	e.gradeDrawdownMetric(ctx, report)

	report.Score, report.FinalGrade = aggregate(
		report.VolGrade, report.OBGrade, report.OIGrade, report.DrawdownGrade)
	report.RiskLevel = riskLevel(report.FinalGrade)
	report.HasAnyD = report.VolGrade == GradeD || report.OBGrade == GradeD ||
		report.OIGrade == GradeD || report.DrawdownGrade == GradeD

	e.logger.Info("Signal graded",
		zap.String("symbol", report.Symbol),
		zap.String("final_grade", string(report.FinalGrade)),
		zap.String("risk_level", string(report.RiskLevel)),
		zap.Float64("score", report.Score),
	)
	return report
}

func (e *Engine) gradeVolatilityMetric(ctx context.Context, report *GradeReport) {
	report.VolGrade = GradeD

	candles, err := e.client.Klines(ctx, report.Symbol, "1m", e.cfg.ATRPeriods+1)
	if err != nil {
		e.logger.Warn("Volatility data unavailable", zap.String("symbol", report.Symbol), zap.Error(err))
		return
	}

	atrPct, err := computeATRPct(candles, e.cfg.ATRPeriods)
	if err != nil {
		if errors.Is(err, ErrInsufficientHistory) {
			report.InsufficientHistory = true
			e.logger.Warn("Insufficient candle history for ATR",
				zap.String("symbol", report.Symbol),
				zap.Int("candles", len(candles)),
			)
		}
		return
	}

	report.VolatilityPct = &atrPct
	report.VolGrade = gradeVolatility(atrPct)
}

func (e *Engine) gradeOrderBookMetric(ctx context.Context, report *GradeReport) {
	report.OBGrade = GradeD

	book, err := e.client.Depth(ctx, report.Symbol, e.cfg.DepthLimit)
	if err != nil {
		e.logger.Warn("Order book unavailable", zap.String("symbol", report.Symbol), zap.Error(err))
		return
	}

	spreadPct, imbalancePct := analyzeOrderBook(book, 5)
	report.SpreadPct = &spreadPct
	report.ImbalancePct = &imbalancePct
	report.OBGrade = gradeSpread(spreadPct)
}

func (e *Engine) gradeDrawdownMetric(ctx context.Context, report *GradeReport) {
	report.DrawdownGrade = GradeD

	candles, err := e.client.Klines(ctx, report.Symbol, "1m", e.cfg.DrawdownLookback)
	if err != nil {
		e.logger.Warn("Drawdown data unavailable", zap.String("symbol", report.Symbol), zap.Error(err))
		return
	}
	if len(candles) < minDrawdownCandles {
		report.InsufficientHistory = true
		e.logger.Warn("Insufficient candle history for drawdown",
			zap.String("symbol", report.Symbol),
			zap.Int("candles", len(candles)),
		)
		return
	}

	heavyDownPct, maxConsecutive := analyzeDrawdown(candles)
	report.HeavyDownPct = &heavyDownPct
	report.MaxConsecutiveDown = &maxConsecutive
	report.DrawdownGrade = gradeDrawdown(heavyDownPct, maxConsecutive)
	report.StopHuntRisk = stopHuntLabel(maxConsecutive)
}
