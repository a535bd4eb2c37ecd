package models

// Setup identifies which side of the crowd/top-trader divergence fired.
const (
	SetupCrowdShortTopLong = "CROWD_SHORT_TOP_LONG"
	SetupCrowdLongTopShort = "CROWD_LONG_TOP_SHORT"
)

// Signal is one detected divergence for one symbol within one run.
// The composite primary key (run_id, symbol) enforces at most one signal
// per symbol per run. Signals are immutable once recorded; later runs
// supersede them by inserting new rows under a new run_id.
//
// Funding rate, price and volumes are pointers: they are soft
// enrichments that may legitimately be missing, and a missing value must
// stay distinguishable from zero. Ratios and open interest are hard gates
// and are always present.
type Signal struct {
	RunID  uint   `gorm:"primaryKey;autoIncrement:false" json:"run_id"`
	Symbol string `gorm:"primaryKey;size:32" json:"symbol"`
	Setup  string `gorm:"not null" json:"setup"`

	TimestampMs      int64   `gorm:"not null" json:"timestamp_ms"`
	OpenInterestUSDT float64 `gorm:"not null" json:"open_interest_usdt"`

	// All percentages, 0-100.
	CrowdLongPct        float64 `json:"crowd_long_pct"`
	CrowdShortPct       float64 `json:"crowd_short_pct"`
	TopAccountLongPct   float64 `json:"top_account_long_pct"`
	TopAccountShortPct  float64 `json:"top_account_short_pct"`
	TopPositionLongPct  float64 `json:"top_position_long_pct"`
	TopPositionShortPct float64 `json:"top_position_short_pct"`

	FundingRate  *float64 `json:"funding_rate"`
	CurrentPrice *float64 `json:"current_price"`
	Volume24h    *float64 `json:"volume_24h"`
	Volume2h     *float64 `json:"volume_2h"`
}

// TableName keeps the table name aligned with the historical schema.
func (Signal) TableName() string {
	return "signals"
}

// FundingConfirms reports whether the funding rate leans the same way as
// the crowd: shorts paying on a crowd-short setup, longs paying on a
// crowd-long setup. Used for export highlighting only.
func (s *Signal) FundingConfirms(thresholdPct float64) bool {
	if s.FundingRate == nil {
		return false
	}
	fundingPct := *s.FundingRate * 100
	switch s.Setup {
	case SetupCrowdShortTopLong:
		return fundingPct < -thresholdPct
	case SetupCrowdLongTopShort:
		return fundingPct > thresholdPct
	}
	return false
}
