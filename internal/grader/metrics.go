package grader

import (
	"errors"
	"math"

	"divergence-scanner-go/internal/binance"
)

// ErrInsufficientHistory signals that fewer candles were returned than a
// metric requires. The affected sub-grade is forced to D with an explicit
// flag, never silently averaged over a short window.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// Grade is one member of the ordered grade set, A best.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// weight maps a grade to its numeric aggregation weight.
func (g Grade) weight() float64 {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	default:
		return 1
	}
}

// RiskLevel is the risk classification derived from the final grade.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY_HIGH"
)

// StopHuntRisk labels the stop-hunt pattern strength.
type StopHuntRisk string

const (
	StopHuntNo      StopHuntRisk = "NO"
	StopHuntCaution StopHuntRisk = "CAUTION"
	StopHuntYes     StopHuntRisk = "YES"
	StopHuntUnknown StopHuntRisk = "UNKNOWN"
)

// heavyDownThresholdPct is the open-to-close decline, in percent, past which
// a candle counts as heavy-down.
const heavyDownThresholdPct = 0.5

// minDrawdownCandles is the least history the drawdown metric accepts.
const minDrawdownCandles = 20

// computeATRPct computes the Average True Range over the trailing `periods`
// bars, expressed as a percentage of the last close. Requires periods+1
// candles, oldest first.
func computeATRPct(candles []binance.Candle, periods int) (float64, error) {
	if len(candles) < periods+1 {
		return 0, ErrInsufficientHistory
	}

	trueRanges := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}

	sum := 0.0
	for _, tr := range trueRanges[len(trueRanges)-periods:] {
		sum += tr
	}
	atr := sum / float64(periods)

	lastClose := candles[len(candles)-1].Close
	if lastClose <= 0 {
		return 0, ErrInsufficientHistory
	}
	return (atr / lastClose) * 100, nil
}

// gradeVolatility buckets an ATR percentage.
func gradeVolatility(atrPct float64) Grade {
	switch {
	case atrPct < 2.0:
		return GradeA
	case atrPct < 5.0:
		return GradeB
	case atrPct < 10.0:
		return GradeC
	default:
		return GradeD
	}
}

// analyzeOrderBook computes the top-of-book spread percentage and the depth
// imbalance percentage over the top `window` levels per side.
func analyzeOrderBook(book *binance.OrderBook, window int) (spreadPct, imbalancePct float64) {
	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price
	mid := (bestBid + bestAsk) / 2
	spreadPct = ((bestAsk - bestBid) / mid) * 100

	sumSide := func(levels []binance.PriceLevel) float64 {
		total := 0.0
		for i, level := range levels {
			if i >= window {
				break
			}
			total += level.Quantity
		}
		return total
	}
	bidDepth := sumSide(book.Bids)
	askDepth := sumSide(book.Asks)
	if bidDepth+askDepth > 0 {
		imbalancePct = math.Abs(bidDepth-askDepth) / (bidDepth + askDepth) * 100
	}
	return spreadPct, imbalancePct
}

// gradeSpread buckets an order-book spread percentage.
func gradeSpread(spreadPct float64) Grade {
	switch {
	case spreadPct < 0.05:
		return GradeA
	case spreadPct < 0.15:
		return GradeB
	case spreadPct < 0.50:
		return GradeC
	default:
		return GradeD
	}
}

// gradeOpenInterest buckets a USDT open-interest value. Purely a threshold
// lookup over the signal's stored OI; no fresh fetch.
func gradeOpenInterest(oiUSDT float64) Grade {
	switch {
	case oiUSDT >= 10_000_000:
		return GradeA
	case oiUSDT >= 6_000_000:
		return GradeB
	case oiUSDT >= 4_000_000:
		return GradeC
	default:
		return GradeD
	}
}

// analyzeDrawdown scans a candle window for heavy-down candles and the
// longest streak of consecutive down candles of any size.
func analyzeDrawdown(candles []binance.Candle) (heavyDownPct float64, maxConsecutiveDown int) {
	heavyDowns := 0
	streak := 0
	for _, c := range candles {
		if c.Open > 0 {
			declinePct := ((c.Open - c.Close) / c.Open) * 100
			if declinePct > heavyDownThresholdPct {
				heavyDowns++
			}
		}
		if c.Close < c.Open {
			streak++
			if streak > maxConsecutiveDown {
				maxConsecutiveDown = streak
			}
		} else {
			streak = 0
		}
	}
	heavyDownPct = float64(heavyDowns) / float64(len(candles)) * 100
	return heavyDownPct, maxConsecutiveDown
}

// gradeDrawdown buckets the drawdown pattern. Both conditions must hold for
// a bucket; failing either pushes the grade down.
func gradeDrawdown(heavyDownPct float64, maxConsecutiveDown int) Grade {
	switch {
	case heavyDownPct < 5 && maxConsecutiveDown <= 1:
		return GradeA
	case heavyDownPct < 10 && maxConsecutiveDown <= 2:
		return GradeB
	case heavyDownPct < 20 && maxConsecutiveDown <= 3:
		return GradeC
	default:
		return GradeD
	}
}

// stopHuntLabel derives the stop-hunt risk from the down streak alone.
func stopHuntLabel(maxConsecutiveDown int) StopHuntRisk {
	switch {
	case maxConsecutiveDown >= 3:
		return StopHuntYes
	case maxConsecutiveDown == 2:
		return StopHuntCaution
	default:
		return StopHuntNo
	}
}

// aggregate folds the four sub-grades into the composite score and final
// grade. This is a pure function of its inputs: a single D does not force
// the final grade to D, only the average does.
func aggregate(vol, ob, oi, drawdown Grade) (score float64, final Grade) {
	score = (vol.weight() + ob.weight() + oi.weight() + drawdown.weight()) / 4

	switch {
	case score >= 3.5:
		final = GradeA
	case score >= 2.5:
		final = GradeB
	case score >= 1.5:
		final = GradeC
	default:
		final = GradeD
	}
	return score, final
}

// riskLevel maps a final grade to its risk classification.
func riskLevel(final Grade) RiskLevel {
	switch final {
	case GradeA:
		return RiskLow
	case GradeB:
		return RiskMedium
	case GradeC:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}
