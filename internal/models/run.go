package models

// ScanRun represents one execution of the divergence scanner.
// Rows are append-only: a run is never updated or deleted after completion,
// and an interrupted run keeps the signals recorded up to that point.
type ScanRun struct {
	RunID     uint    `gorm:"primaryKey;autoIncrement" json:"run_id"`
	TraceID   string  `gorm:"size:36;not null" json:"trace_id"`
	RunTs     int64   `gorm:"not null" json:"run_ts"`
	Period    string  `gorm:"not null" json:"period"`
	MinOIUSDT float64 `gorm:"not null" json:"min_oi_usdt"`
}

// TableName keeps the table name aligned with the historical schema.
func (ScanRun) TableName() string {
	return "scan_runs"
}
