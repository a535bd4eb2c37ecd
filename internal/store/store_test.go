package store

import (
	"testing"
	"time"

	"divergence-scanner-go/internal/config"
	"divergence-scanner-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupStore creates a store over a fresh in-memory database.
func setupStore(t *testing.T) *RunStore {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.ScanRun{}, &models.Signal{}))

	return NewRunStore(db)
}

func scanConfig() *config.Scan {
	return &config.Scan{Period: "5m", MinOIUSDT: 2_500_000}
}

func signalFor(runID uint, symbol string, oi float64) *models.Signal {
	return &models.Signal{
		RunID:            runID,
		Symbol:           symbol,
		Setup:            models.SetupCrowdShortTopLong,
		TimestampMs:      1700000000000,
		OpenInterestUSDT: oi,
		CrowdShortPct:    70,
		CrowdLongPct:     30,
	}
}

func TestBeginRunAssignsMonotonicIDs(t *testing.T) {
	s := setupStore(t)

	first, err := s.BeginRun(scanConfig())
	require.NoError(t, err)
	second, err := s.BeginRun(scanConfig())
	require.NoError(t, err)

	assert.Greater(t, second.RunID, first.RunID)
	assert.NotEmpty(t, first.TraceID)
	assert.NotEqual(t, first.TraceID, second.TraceID)
	assert.Equal(t, "5m", first.Period)
	assert.InDelta(t, 2_500_000, first.MinOIUSDT, 1e-9)
}

func TestRecordSignalIsIdempotent(t *testing.T) {
	s := setupStore(t)
	run, err := s.BeginRun(scanConfig())
	require.NoError(t, err)

	assert.NoError(t, s.RecordSignal(signalFor(run.RunID, "BTCUSDT", 9_000_000)))
	// Same (run_id, symbol) again: must be a no-op, not an error.
	assert.NoError(t, s.RecordSignal(signalFor(run.RunID, "BTCUSDT", 9_000_000)))

	signals, err := s.SignalsOf(run.RunID)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestSignalsOfOrdersByOpenInterest(t *testing.T) {
	s := setupStore(t)
	run, err := s.BeginRun(scanConfig())
	require.NoError(t, err)

	require.NoError(t, s.RecordSignal(signalFor(run.RunID, "AUSDT", 3_000_000)))
	require.NoError(t, s.RecordSignal(signalFor(run.RunID, "BUSDT", 12_000_000)))
	require.NoError(t, s.RecordSignal(signalFor(run.RunID, "CUSDT", 7_000_000)))

	signals, err := s.SignalsOf(run.RunID)
	require.NoError(t, err)
	require.Len(t, signals, 3)
	assert.Equal(t, "BUSDT", signals[0].Symbol)
	assert.Equal(t, "CUSDT", signals[1].Symbol)
	assert.Equal(t, "AUSDT", signals[2].Symbol)
}

func TestLatestRun(t *testing.T) {
	s := setupStore(t)

	_, err := s.LatestRun()
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = s.BeginRun(scanConfig())
	require.NoError(t, err)
	second, err := s.BeginRun(scanConfig())
	require.NoError(t, err)

	latest, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.RunID)
}

func TestHistoryAndRecurrence(t *testing.T) {
	s := setupStore(t)

	run1, err := s.BeginRun(scanConfig())
	require.NoError(t, err)
	run2, err := s.BeginRun(scanConfig())
	require.NoError(t, err)
	run3, err := s.BeginRun(scanConfig())
	require.NoError(t, err)

	require.NoError(t, s.RecordSignal(signalFor(run1.RunID, "BTCUSDT", 5_000_000)))
	require.NoError(t, s.RecordSignal(signalFor(run2.RunID, "ETHUSDT", 6_000_000)))
	require.NoError(t, s.RecordSignal(signalFor(run3.RunID, "BTCUSDT", 8_000_000)))

	history, err := s.History("BTCUSDT")
	require.NoError(t, err)
	require.Len(t, history, 2)
	// oldest run first, so the OI trend reads in chronological order
	assert.Equal(t, run1.RunID, history[0].RunID)
	assert.Equal(t, run3.RunID, history[1].RunID)
	assert.InDelta(t, 5_000_000, history[0].Signal.OpenInterestUSDT, 1e-9)
	assert.InDelta(t, 8_000_000, history[1].Signal.OpenInterestUSDT, 1e-9)

	count, err := s.RecurrenceCount("BTCUSDT", time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.RecurrenceCount("BTCUSDT", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	none, err := s.History("XRPUSDT")
	require.NoError(t, err)
	assert.Empty(t, none)
}
