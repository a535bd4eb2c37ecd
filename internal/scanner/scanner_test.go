package scanner

import (
	"context"
	"testing"

	"divergence-scanner-go/internal/binance"
	"divergence-scanner-go/internal/config"
	"divergence-scanner-go/internal/models"
	"divergence-scanner-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockMarketData is a mock implementation of binance.MarketDataAPI.
type MockMarketData struct {
	mock.Mock
}

func (m *MockMarketData) ListPerpetualSymbols(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMarketData) LongShortRatios(ctx context.Context, symbol, period string) (*binance.RatioSet, error) {
	args := m.Called(ctx, symbol, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.RatioSet), args.Error(1)
}

func (m *MockMarketData) OpenInterest(ctx context.Context, symbol, period string) (float64, error) {
	args := m.Called(ctx, symbol, period)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockMarketData) PremiumIndex(ctx context.Context, symbol string) (*binance.PremiumIndex, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.PremiumIndex), args.Error(1)
}

func (m *MockMarketData) Volumes(ctx context.Context, symbol string) (*binance.VolumeSet, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.VolumeSet), args.Error(1)
}

func (m *MockMarketData) Klines(ctx context.Context, symbol, interval string, limit int) ([]binance.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]binance.Candle), args.Error(1)
}

func (m *MockMarketData) Depth(ctx context.Context, symbol string, limit int) (*binance.OrderBook, error) {
	args := m.Called(ctx, symbol, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.OrderBook), args.Error(1)
}

// setupTest creates a scanner over a mock client and an in-memory store.
func setupTest(t *testing.T) (*Scanner, *MockMarketData, *store.RunStore) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ScanRun{}, &models.Signal{}))

	mockClient := new(MockMarketData)
	runStore := store.NewRunStore(db)

	cfg := &config.Scan{
		Period:         "5m",
		MinOIUSDT:      2_500_000,
		CrowdRatioMin:  65,
		TopPositionMin: 45,
		Workers:        1,
	}
	return New(zap.NewNop(), cfg, mockClient, runStore), mockClient, runStore
}

func crowdShortRatios() *binance.RatioSet {
	return &binance.RatioSet{
		CrowdLongPct:        30,
		CrowdShortPct:       70,
		TopAccountLongPct:   40,
		TopAccountShortPct:  60,
		TopPositionLongPct:  50,
		TopPositionShortPct: 50,
		TimestampMs:         1700000000000,
	}
}

func crowdLongRatios() *binance.RatioSet {
	return &binance.RatioSet{
		CrowdLongPct:        72,
		CrowdShortPct:       28,
		TopPositionLongPct:  48,
		TopPositionShortPct: 52,
		TimestampMs:         1700000000000,
	}
}

func balancedRatios() *binance.RatioSet {
	return &binance.RatioSet{
		CrowdLongPct:        52,
		CrowdShortPct:       48,
		TopPositionLongPct:  51,
		TopPositionShortPct: 49,
	}
}

func TestScanRecordsCrowdShortSignal(t *testing.T) {
	s, mockClient, runStore := setupTest(t)

	funding := -0.0005
	mockClient.On("LongShortRatios", mock.Anything, "BTCUSDT", "5m").Return(crowdShortRatios(), nil)
	mockClient.On("OpenInterest", mock.Anything, "BTCUSDT", "5m").Return(8_500_000.0, nil)
	mockClient.On("PremiumIndex", mock.Anything, "BTCUSDT").Return(&binance.PremiumIndex{FundingRate: funding, MarkPrice: 64000}, nil)
	vol24 := 120_000.0
	mockClient.On("Volumes", mock.Anything, "BTCUSDT").Return(&binance.VolumeSet{Volume24h: &vol24}, nil)

	summary, err := s.Run(context.Background(), []string{"BTCUSDT"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Recorded)

	signals, err := runStore.SignalsOf(summary.RunID)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, models.SetupCrowdShortTopLong, sig.Setup)
	assert.InDelta(t, 8_500_000, sig.OpenInterestUSDT, 1e-9)
	require.NotNil(t, sig.FundingRate)
	assert.InDelta(t, funding, *sig.FundingRate, 1e-12)
	require.NotNil(t, sig.CurrentPrice)
	assert.InDelta(t, 64000, *sig.CurrentPrice, 1e-9)
	require.NotNil(t, sig.Volume24h)
	assert.Nil(t, sig.Volume2h)
	mockClient.AssertExpectations(t)
}

func TestScanDetectsCrowdLongSetup(t *testing.T) {
	s, mockClient, runStore := setupTest(t)

	mockClient.On("LongShortRatios", mock.Anything, "DOGEUSDT", "5m").Return(crowdLongRatios(), nil)
	mockClient.On("OpenInterest", mock.Anything, "DOGEUSDT", "5m").Return(3_000_000.0, nil)
	mockClient.On("PremiumIndex", mock.Anything, "DOGEUSDT").Return(&binance.PremiumIndex{FundingRate: 0.0003, MarkPrice: 0.12}, nil)
	mockClient.On("Volumes", mock.Anything, "DOGEUSDT").Return(&binance.VolumeSet{}, nil)

	summary, err := s.Run(context.Background(), []string{"DOGEUSDT"})

	require.NoError(t, err)
	signals, err := runStore.SignalsOf(summary.RunID)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, models.SetupCrowdLongTopShort, signals[0].Setup)
}

func TestScanSkipsExpensiveCallsWithoutDivergence(t *testing.T) {
	s, mockClient, _ := setupTest(t)

	mockClient.On("LongShortRatios", mock.Anything, "BTCUSDT", "5m").Return(balancedRatios(), nil)

	summary, err := s.Run(context.Background(), []string{"BTCUSDT"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.DroppedNoSetup)
	assert.Equal(t, 0, summary.Recorded)
	// The cheap ratio check gates everything else.
	mockClient.AssertNotCalled(t, "OpenInterest", mock.Anything, mock.Anything, mock.Anything)
	mockClient.AssertNotCalled(t, "PremiumIndex", mock.Anything, mock.Anything)
	mockClient.AssertNotCalled(t, "Volumes", mock.Anything, mock.Anything)
}

func TestScanDropsBelowOpenInterestFloor(t *testing.T) {
	s, mockClient, runStore := setupTest(t)

	mockClient.On("LongShortRatios", mock.Anything, "BTCUSDT", "5m").Return(crowdShortRatios(), nil)
	mockClient.On("OpenInterest", mock.Anything, "BTCUSDT", "5m").Return(2_000_000.0, nil)

	summary, err := s.Run(context.Background(), []string{"BTCUSDT"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.DroppedBelowFloor)
	assert.Equal(t, 0, summary.Recorded)
	signals, err := runStore.SignalsOf(summary.RunID)
	require.NoError(t, err)
	assert.Empty(t, signals)
	mockClient.AssertNotCalled(t, "PremiumIndex", mock.Anything, mock.Anything)
}

func TestScanDropsSymbolWithUnavailableRatios(t *testing.T) {
	s, mockClient, _ := setupTest(t)

	mockClient.On("LongShortRatios", mock.Anything, "BTCUSDT", "5m").Return(nil, binance.ErrUnavailable)
	mockClient.On("LongShortRatios", mock.Anything, "ETHUSDT", "5m").Return(balancedRatios(), nil)

	summary, err := s.Run(context.Background(), []string{"BTCUSDT", "ETHUSDT"})

	// One symbol's failure never aborts the batch.
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.DroppedUnavailable)
	assert.Equal(t, 1, summary.DroppedNoSetup)
}

func TestScanRecordsSignalWithMissingFunding(t *testing.T) {
	s, mockClient, runStore := setupTest(t)

	mockClient.On("LongShortRatios", mock.Anything, "BTCUSDT", "5m").Return(crowdShortRatios(), nil)
	mockClient.On("OpenInterest", mock.Anything, "BTCUSDT", "5m").Return(8_500_000.0, nil)
	mockClient.On("PremiumIndex", mock.Anything, "BTCUSDT").Return(nil, binance.ErrUnavailable)
	mockClient.On("Volumes", mock.Anything, "BTCUSDT").Return(nil, binance.ErrUnavailable)

	summary, err := s.Run(context.Background(), []string{"BTCUSDT"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recorded)

	signals, err := runStore.SignalsOf(summary.RunID)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	// Soft fields stay nil, never zero.
	assert.Nil(t, signals[0].FundingRate)
	assert.Nil(t, signals[0].CurrentPrice)
	assert.Nil(t, signals[0].Volume24h)
	assert.Nil(t, signals[0].Volume2h)
}

func TestScanConcurrentWorkers(t *testing.T) {
	s, mockClient, runStore := setupTest(t)
	s.cfg.Workers = 4

	symbols := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT", "FUSDT"}
	for _, symbol := range symbols {
		mockClient.On("LongShortRatios", mock.Anything, symbol, "5m").Return(crowdShortRatios(), nil)
		mockClient.On("OpenInterest", mock.Anything, symbol, "5m").Return(5_000_000.0, nil)
		mockClient.On("PremiumIndex", mock.Anything, symbol).Return(&binance.PremiumIndex{FundingRate: 0.0001, MarkPrice: 1}, nil)
		mockClient.On("Volumes", mock.Anything, symbol).Return(&binance.VolumeSet{}, nil)
	}

	summary, err := s.Run(context.Background(), symbols)

	require.NoError(t, err)
	assert.Equal(t, len(symbols), summary.Recorded)
	signals, err := runStore.SignalsOf(summary.RunID)
	require.NoError(t, err)
	assert.Len(t, signals, len(symbols))
}

func TestScanStopsOnCancelledContext(t *testing.T) {
	s, mockClient, _ := setupTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.Run(ctx, []string{"AUSDT", "BUSDT"})

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Scanned)
	mockClient.AssertNotCalled(t, "LongShortRatios", mock.Anything, mock.Anything, mock.Anything)
}
