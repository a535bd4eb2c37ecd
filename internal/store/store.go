package store

import (
	"fmt"
	"sync"
	"time"

	"divergence-scanner-go/internal/config"
	"divergence-scanner-go/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunStore is the append-only persistence layer for scan runs and their
// signals. It exposes no update or delete: past runs are superseded by new
// ones, never rewritten, and trend queries are read-only derivations.
type RunStore struct {
	db *gorm.DB

	// Serializes writes: sqlite allows a single writer, and RecordSignal
	// is called concurrently from scanner workers.
	writeMu sync.Mutex
}

// NewRunStore creates a store over an already-migrated database handle.
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// BeginRun opens a new scan run and returns it with its assigned run id.
// Run ids are monotonically assigned by the database.
func (s *RunStore) BeginRun(cfg *config.Scan) (*models.ScanRun, error) {
	run := &models.ScanRun{
		TraceID:   uuid.NewString(),
		RunTs:     time.Now().Unix(),
		Period:    cfg.Period,
		MinOIUSDT: cfg.MinOIUSDT,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create scan run: %w", err)
	}
	return run, nil
}

// RecordSignal durably records one signal. Inserting a duplicate
// (run_id, symbol) is an idempotent no-op, so concurrent workers racing on
// the same symbol cannot fail the batch or produce duplicate rows.
func (s *RunStore) RecordSignal(signal *models.Signal) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(signal).Error
	if err != nil {
		return fmt.Errorf("failed to record signal %s for run %d: %w", signal.Symbol, signal.RunID, err)
	}
	return nil
}

// LatestRun returns the most recent scan run, or gorm.ErrRecordNotFound when
// no run exists yet.
func (s *RunStore) LatestRun() (*models.ScanRun, error) {
	var run models.ScanRun
	if err := s.db.Order("run_id DESC").First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// SignalsOf returns all signals of a run, largest open interest first.
func (s *RunStore) SignalsOf(runID uint) ([]models.Signal, error) {
	var signals []models.Signal
	err := s.db.
		Where("run_id = ?", runID).
		Order("open_interest_usdt DESC").
		Find(&signals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load signals of run %d: %w", runID, err)
	}
	return signals, nil
}

// HistoryEntry pairs a signal with the run that produced it.
type HistoryEntry struct {
	RunID  uint
	RunTs  int64
	Signal models.Signal
}

// History returns every recorded signal for a symbol across all runs,
// oldest run first. Used for recurrence and open-interest trend analysis.
func (s *RunStore) History(symbol string) ([]HistoryEntry, error) {
	var signals []models.Signal
	err := s.db.
		Where("symbol = ?", symbol).
		Order("run_id ASC").
		Find(&signals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", symbol, err)
	}
	if len(signals) == 0 {
		return nil, nil
	}

	runIDs := make([]uint, 0, len(signals))
	for _, sig := range signals {
		runIDs = append(runIDs, sig.RunID)
	}
	var runs []models.ScanRun
	if err := s.db.Where("run_id IN ?", runIDs).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to load runs for %s history: %w", symbol, err)
	}
	runTs := make(map[uint]int64, len(runs))
	for _, r := range runs {
		runTs[r.RunID] = r.RunTs
	}

	entries := make([]HistoryEntry, 0, len(signals))
	for _, sig := range signals {
		entries = append(entries, HistoryEntry{
			RunID:  sig.RunID,
			RunTs:  runTs[sig.RunID],
			Signal: sig,
		})
	}
	return entries, nil
}

// RecurrenceCount returns how many runs since the given time have recorded a
// signal for the symbol.
func (s *RunStore) RecurrenceCount(symbol string, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.Signal{}).
		Joins("JOIN scan_runs ON scan_runs.run_id = signals.run_id").
		Where("signals.symbol = ? AND scan_runs.run_ts >= ?", symbol, since.Unix()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count recurrences for %s: %w", symbol, err)
	}
	return count, nil
}
