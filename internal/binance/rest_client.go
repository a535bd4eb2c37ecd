package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"divergence-scanner-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ratioPeriodLimit = "1" // we only ever need the latest sample per ratio endpoint

	topAccountRatioPath   = "/futures/data/topLongShortAccountRatio"
	crowdAccountRatioPath = "/futures/data/globalLongShortAccountRatio"
	topPositionRatioPath  = "/futures/data/topLongShortPositionRatio"
	openInterestHistPath  = "/futures/data/openInterestHist"
	premiumIndexPath      = "/fapi/v1/premiumIndex"
	ticker24hPath         = "/fapi/v1/ticker/24hr"
	klinesPath            = "/fapi/v1/klines"
	depthPath             = "/fapi/v1/depth"
	exchangeInfoPath      = "/fapi/v1/exchangeInfo"
)

// MarketDataAPI defines the interface for the futures market-data client.
// Every call is independently fallible: a terminal failure surfaces as
// ErrUnavailable and must never abort calls for other symbols.
type MarketDataAPI interface {
	ListPerpetualSymbols(ctx context.Context) ([]string, error)
	LongShortRatios(ctx context.Context, symbol, period string) (*RatioSet, error)
	OpenInterest(ctx context.Context, symbol, period string) (float64, error)
	PremiumIndex(ctx context.Context, symbol string) (*PremiumIndex, error)
	Volumes(ctx context.Context, symbol string) (*VolumeSet, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	Depth(ctx context.Context, symbol string, limit int) (*OrderBook, error)
}

// RestClient is a client for the Binance USDT-M futures REST API.
// It implements MarketDataAPI.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure RestClient implements the interface
var _ MarketDataAPI = (*RestClient)(nil)

// NewRestClient creates a new futures REST client. The rate limiter is the
// single shared request budget for the whole process: every worker on every
// endpoint waits on it, so the aggregate request rate never exceeds the
// exchange's published limit.
func NewRestClient(cfg *config.Binance, limiter *rate.Limiter, logger *zap.Logger) *RestClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	return &RestClient{
		client:  client,
		logger:  logger,
		limiter: limiter,
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// Transient failures (transport errors, 5xx, 429/418) are retried with backoff;
// anything else, and retry exhaustion, degrades to ErrUnavailable.
func (c *RestClient) doRequest(ctx context.Context, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	req.SetContext(ctx)

	for i := 0; i < maxRetries; i++ {
		// Wait for the shared rate limiter. Budget exhaustion pauses the
		// request; it is never dropped.
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(http.MethodGet, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request rejected with status %s: %w", resp.Status(), ErrUnavailable)
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("url", url),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, ErrUnavailable)
}

// exchangeInfoResponse is the subset of /fapi/v1/exchangeInfo we consume.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		ContractType string `json:"contractType"`
		QuoteAsset   string `json:"quoteAsset"`
		Status       string `json:"status"`
	} `json:"symbols"`
}

// ListPerpetualSymbols returns all actively trading USDT-margined perpetual symbols.
func (c *RestClient) ListPerpetualSymbols(ctx context.Context) ([]string, error) {
	var info exchangeInfoResponse
	req := c.client.R().SetResult(&info)

	if _, err := c.doRequest(ctx, exchangeInfoPath, req); err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	var symbols []string
	for _, s := range info.Symbols {
		if s.ContractType == "PERPETUAL" && s.QuoteAsset == "USDT" && s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

// ratioEntry is one sample from the /futures/data ratio endpoints.
// Numeric fields arrive as strings.
type ratioEntry struct {
	Symbol       string `json:"symbol"`
	LongAccount  string `json:"longAccount"`
	ShortAccount string `json:"shortAccount"`
	Timestamp    int64  `json:"timestamp"`
}

// latestRatio fetches the most recent sample from one ratio endpoint.
func (c *RestClient) latestRatio(ctx context.Context, path, symbol, period string) (*ratioEntry, error) {
	var entries []ratioEntry
	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"period": period,
			"limit":  ratioPeriodLimit,
		}).
		SetResult(&entries)

	if _, err := c.doRequest(ctx, path, req); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty ratio response for %s: %w", symbol, ErrUnavailable)
	}
	return &entries[0], nil
}

// LongShortRatios returns the crowd account ratio, top-trader account ratio
// and top-trader position ratio for a symbol, as percentages.
func (c *RestClient) LongShortRatios(ctx context.Context, symbol, period string) (*RatioSet, error) {
	topAcc, err := c.latestRatio(ctx, topAccountRatioPath, symbol, period)
	if err != nil {
		return nil, err
	}
	crowdAcc, err := c.latestRatio(ctx, crowdAccountRatioPath, symbol, period)
	if err != nil {
		return nil, err
	}
	topPos, err := c.latestRatio(ctx, topPositionRatioPath, symbol, period)
	if err != nil {
		return nil, err
	}

	set := &RatioSet{TimestampMs: topAcc.Timestamp}
	for _, leg := range []struct {
		entry       *ratioEntry
		long, short *float64
	}{
		{crowdAcc, &set.CrowdLongPct, &set.CrowdShortPct},
		{topAcc, &set.TopAccountLongPct, &set.TopAccountShortPct},
		{topPos, &set.TopPositionLongPct, &set.TopPositionShortPct},
	} {
		l, err1 := strconv.ParseFloat(leg.entry.LongAccount, 64)
		s, err2 := strconv.ParseFloat(leg.entry.ShortAccount, 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("malformed ratio payload for %s: %w", symbol, ErrUnavailable)
		}
		*leg.long = l * 100
		*leg.short = s * 100
	}
	return set, nil
}

// openInterestEntry is one sample from /futures/data/openInterestHist.
type openInterestEntry struct {
	SumOpenInterestValue string `json:"sumOpenInterestValue"`
	Timestamp            int64  `json:"timestamp"`
}

// OpenInterest returns the latest USDT-denominated open interest for a symbol.
func (c *RestClient) OpenInterest(ctx context.Context, symbol, period string) (float64, error) {
	var entries []openInterestEntry
	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"period": period,
			"limit":  ratioPeriodLimit,
		}).
		SetResult(&entries)

	if _, err := c.doRequest(ctx, openInterestHistPath, req); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("empty open interest response for %s: %w", symbol, ErrUnavailable)
	}

	value, err := strconv.ParseFloat(entries[0].SumOpenInterestValue, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed open interest payload for %s: %w", symbol, ErrUnavailable)
	}
	return value, nil
}

// premiumIndexResponse is the subset of /fapi/v1/premiumIndex we consume.
type premiumIndexResponse struct {
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
}

// PremiumIndex returns the funding rate and mark price in a single call.
func (c *RestClient) PremiumIndex(ctx context.Context, symbol string) (*PremiumIndex, error) {
	var result premiumIndexResponse
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&result)

	if _, err := c.doRequest(ctx, premiumIndexPath, req); err != nil {
		return nil, err
	}

	funding, err1 := strconv.ParseFloat(result.LastFundingRate, 64)
	price, err2 := strconv.ParseFloat(result.MarkPrice, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("malformed premium index payload for %s: %w", symbol, ErrUnavailable)
	}
	return &PremiumIndex{FundingRate: funding, MarkPrice: price}, nil
}

// ticker24hResponse is the subset of /fapi/v1/ticker/24hr we consume.
type ticker24hResponse struct {
	Volume string `json:"volume"`
}

// Volumes returns the 24h ticker volume and the latest 2h candle quote
// volume. The two legs are independent: one may be nil while the other is
// populated.
func (c *RestClient) Volumes(ctx context.Context, symbol string) (*VolumeSet, error) {
	set := &VolumeSet{}

	var ticker ticker24hResponse
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&ticker)
	if _, err := c.doRequest(ctx, ticker24hPath, req); err == nil {
		if v, perr := strconv.ParseFloat(ticker.Volume, 64); perr == nil {
			set.Volume24h = &v
		}
	}

	if candles, err := c.Klines(ctx, symbol, "2h", 1); err == nil && len(candles) > 0 {
		v := candles[len(candles)-1].QuoteVolume
		set.Volume2h = &v
	}

	return set, nil
}

// Klines returns up to limit OHLC bars for the interval, oldest first.
func (c *RestClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	var raw [][]interface{}
	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw)

	if _, err := c.doRequest(ctx, klinesPath, req); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		// kline rows: [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...]
		if len(row) < 8 {
			return nil, fmt.Errorf("malformed kline payload for %s: %w", symbol, ErrUnavailable)
		}
		openTime, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("malformed kline payload for %s: %w", symbol, ErrUnavailable)
		}
		fields := make([]float64, 0, 5)
		for _, idx := range []int{1, 2, 3, 4, 5} {
			s, ok := row[idx].(string)
			if !ok {
				return nil, fmt.Errorf("malformed kline payload for %s: %w", symbol, ErrUnavailable)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed kline payload for %s: %w", symbol, ErrUnavailable)
			}
			fields = append(fields, v)
		}
		quoteStr, ok := row[7].(string)
		if !ok {
			return nil, fmt.Errorf("malformed kline payload for %s: %w", symbol, ErrUnavailable)
		}
		quote, err := strconv.ParseFloat(quoteStr, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed kline payload for %s: %w", symbol, ErrUnavailable)
		}

		candles = append(candles, Candle{
			OpenTime:    int64(openTime),
			Open:        fields[0],
			High:        fields[1],
			Low:         fields[2],
			Close:       fields[3],
			Volume:      fields[4],
			QuoteVolume: quote,
		})
	}
	return candles, nil
}

// depthResponse is the raw /fapi/v1/depth payload; levels are [price, qty] string pairs.
type depthResponse struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// Depth returns the order book up to limit levels per side, best price first.
func (c *RestClient) Depth(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	var raw depthResponse
	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"limit":  strconv.Itoa(limit),
		}).
		SetResult(&raw)

	if _, err := c.doRequest(ctx, depthPath, req); err != nil {
		return nil, err
	}

	parseSide := func(rows [][]string) ([]PriceLevel, error) {
		levels := make([]PriceLevel, 0, len(rows))
		for _, row := range rows {
			if len(row) < 2 {
				return nil, fmt.Errorf("malformed depth payload for %s: %w", symbol, ErrUnavailable)
			}
			price, err1 := strconv.ParseFloat(row[0], 64)
			qty, err2 := strconv.ParseFloat(row[1], 64)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("malformed depth payload for %s: %w", symbol, ErrUnavailable)
			}
			levels = append(levels, PriceLevel{Price: price, Quantity: qty})
		}
		return levels, nil
	}

	bids, err := parseSide(raw.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseSide(raw.Asks)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("empty depth response for %s: %w", symbol, ErrUnavailable)
	}
	return &OrderBook{Bids: bids, Asks: asks}, nil
}
