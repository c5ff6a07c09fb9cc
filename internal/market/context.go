// Package market classifies recent candles into the bucketed market context
// used as the similarity key of the experience memory.
package market

import (
	"github.com/rewired-gh/neurotrader/internal/indicators"
	"github.com/rewired-gh/neurotrader/internal/models"
	"gonum.org/v1/gonum/stat"
)

const (
	Window     = 50
	MinCandles = 20
	TrendBand  = 0.001
	HighVol    = 0.02
	LowVol     = 0.005
	Overbought = 70.0
	Oversold   = 30.0
	HighVolume = 1_000_000.0
)

// Unknown is returned when there is not enough history to classify.
var Unknown = models.MarketContext{
	Trend:      models.Unknown,
	Volatility: models.Unknown,
	RSIExtreme: models.RSINormal,
	Volume:     models.VolumeNormal,
}

// Analyze classifies the last Window candles. Boundary values fall to the
// non-extreme bucket.
func Analyze(candles []models.Candle) models.MarketContext {
	if len(candles) < MinCandles {
		return Unknown
	}
	recent := candles
	if len(recent) > Window {
		recent = recent[len(recent)-Window:]
	}

	avgChange, volatility := stat.PopMeanStdDev(indicators.Returns(recent), nil)
	last := recent[len(recent)-1]

	ctx := models.MarketContext{
		Trend:      models.TrendNeutral,
		Volatility: models.VolatilityMedium,
		RSIExtreme: models.RSINormal,
		Volume:     models.VolumeNormal,
	}

	switch {
	case avgChange > TrendBand:
		ctx.Trend = models.TrendBullish
	case avgChange < -TrendBand:
		ctx.Trend = models.TrendBearish
	}

	switch {
	case volatility > HighVol:
		ctx.Volatility = models.VolatilityHigh
	case volatility < LowVol:
		ctx.Volatility = models.VolatilityLow
	}

	if last.RSI != nil {
		switch {
		case *last.RSI > Overbought:
			ctx.RSIExtreme = models.RSIOverbought
		case *last.RSI < Oversold:
			ctx.RSIExtreme = models.RSIOversold
		}
	}

	if last.Volume > HighVolume {
		ctx.Volume = models.VolumeHigh
	}

	return ctx
}
