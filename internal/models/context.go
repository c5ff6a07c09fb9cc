package models

import "fmt"

// Trend buckets.
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral"
)

// Volatility buckets.
const (
	VolatilityHigh   = "high"
	VolatilityMedium = "medium"
	VolatilityLow    = "low"
)

// RSI extreme buckets.
const (
	RSIOverbought = "overbought"
	RSIOversold   = "oversold"
	RSINormal     = "normal"
)

// Volume buckets.
const (
	VolumeHigh   = "high"
	VolumeNormal = "normal"
)

// Unknown marks a bucket that could not be computed from the available history.
const Unknown = "unknown"

// MarketContext is the bucketed snapshot of recent market behaviour used as the
// similarity key for experience lookups. An empty field is treated as absent.
type MarketContext struct {
	Trend      string `json:"trend,omitempty"`
	Volatility string `json:"volatility,omitempty"`
	RSIExtreme string `json:"rsiExtreme,omitempty"`
	Volume     string `json:"volume,omitempty"`
}

// Fields returns the populated fields keyed by their JSON names.
func (c MarketContext) Fields() map[string]string {
	fields := make(map[string]string, 4)
	if c.Trend != "" {
		fields["trend"] = c.Trend
	}
	if c.Volatility != "" {
		fields["volatility"] = c.Volatility
	}
	if c.RSIExtreme != "" {
		fields["rsiExtreme"] = c.RSIExtreme
	}
	if c.Volume != "" {
		fields["volume"] = c.Volume
	}
	return fields
}

// IsZero reports whether no field is populated.
func (c MarketContext) IsZero() bool {
	return c == MarketContext{}
}

// Key is a stable string form used for per-condition statistics.
func (c MarketContext) Key() string {
	return fmt.Sprintf("trend=%s|volatility=%s|rsi=%s|volume=%s", c.Trend, c.Volatility, c.RSIExtreme, c.Volume)
}
