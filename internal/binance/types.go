package binance

// RatioSet holds the crowd and top-trader positioning for one symbol at one
// sample timestamp. All values are percentages in 0-100.
type RatioSet struct {
	CrowdLongPct        float64
	CrowdShortPct       float64
	TopAccountLongPct   float64
	TopAccountShortPct  float64
	TopPositionLongPct  float64
	TopPositionShortPct float64
	TimestampMs         int64
}

// PremiumIndex carries the funding rate and mark price returned by a single
// premium-index call.
type PremiumIndex struct {
	FundingRate float64
	MarkPrice   float64
}

// VolumeSet carries 24h ticker volume and the latest 2h candle quote volume.
// Either leg may be nil when its endpoint was unavailable; volumes are soft
// enrichments and a partial result is still usable.
type VolumeSet struct {
	Volume24h *float64
	Volume2h  *float64
}

// Candle is one OHLC bar. Sequences are always ordered oldest first.
type Candle struct {
	OpenTime    int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume float64
}

// PriceLevel is one order-book level.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook holds bid and ask levels, best price first.
type OrderBook struct {
	Bids []PriceLevel
	Asks []PriceLevel
}
