package grader

// GradeReport is the per-signal output of the grading engine. Numeric
// metrics are pointers so that "not available" stays distinguishable from
// zero all the way into the export layer.
//
// Sub-grades whose underlying fetch failed are D; the flags say why.
type GradeReport struct {
	Symbol           string  `json:"symbol"`
	Setup            string  `json:"setup"`
	OpenInterestUSDT float64 `json:"oi_usdt"`

	VolatilityPct       *float64 `json:"volatility_atr_pct"`
	VolGrade            Grade    `json:"vol_grade"`
	InsufficientHistory bool     `json:"insufficient_history,omitempty"`

	SpreadPct    *float64 `json:"spread_pct"`
	ImbalancePct *float64 `json:"imbalance_pct"`
	OBGrade      Grade    `json:"ob_grade"`

	OIGrade Grade `json:"oi_grade"`

	HeavyDownPct       *float64     `json:"heavy_down_pct"`
	MaxConsecutiveDown *int         `json:"max_consecutive_down"`
	DrawdownGrade      Grade        `json:"drawdown_grade"`
	StopHuntRisk       StopHuntRisk `json:"stop_hunt_risk"`

	Score      float64   `json:"score"`
	FinalGrade Grade     `json:"final_grade"`
	RiskLevel  RiskLevel `json:"risk_level"`

	// HasAnyD is the advisory "any D usually means skip" flag. It never
	// feeds into the score; the numeric average is authoritative.
	HasAnyD bool `json:"has_any_d"`

	// Carried through from the stored signal for export.
	FundingRate  *float64 `json:"funding_rate"`
	CurrentPrice *float64 `json:"current_price"`
	Volume24h    *float64 `json:"volume_24h"`
	Volume2h     *float64 `json:"volume_2h"`
}

// Distribution counts final grades and risk levels across one graded run.
type Distribution struct {
	Grades map[Grade]int
	Risks  map[RiskLevel]int
}

// Distribute tallies the grade and risk distribution of a report set.
func Distribute(reports []*GradeReport) Distribution {
	dist := Distribution{
		Grades: make(map[Grade]int),
		Risks:  make(map[RiskLevel]int),
	}
	for _, r := range reports {
		dist.Grades[r.FinalGrade]++
		dist.Risks[r.RiskLevel]++
	}
	return dist
}
