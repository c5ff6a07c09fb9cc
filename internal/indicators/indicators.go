// Package indicators computes rolling technical features over candle sequences.
package indicators

import (
	"math"

	"github.com/rewired-gh/neurotrader/internal/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	MinCandles       = 20
	SMAPeriod        = 7
	RSIPeriod        = 14
	VolatilityPeriod = 10
)

// Compute returns a copy of candles with SMA7, RSI, Change and Volatility filled
// wherever the trailing window is complete and cleared elsewhere. Sequences
// shorter than MinCandles come back unchanged. The input is never modified.
func Compute(candles []models.Candle) []models.Candle {
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	if len(out) < MinCandles {
		return out
	}

	closes := make([]float64, len(out))
	ranges := make([]float64, len(out))
	for i, c := range out {
		closes[i] = c.Close
		ranges[i] = c.High - c.Low
	}

	for i := range out {
		out[i].SMA7 = nil
		out[i].RSI = nil
		out[i].Change = nil
		out[i].Volatility = nil

		if i >= SMAPeriod-1 {
			out[i].SMA7 = models.Float(floats.Sum(closes[i-SMAPeriod+1:i+1]) / SMAPeriod)
		}
		if i >= RSIPeriod {
			out[i].RSI = models.Float(RSI(closes[i-RSIPeriod : i+1]))
		}
		if i >= 1 {
			out[i].Change = models.Float((closes[i] - closes[i-1]) / closes[i-1] * 100)
		}
		if i >= VolatilityPeriod-1 {
			out[i].Volatility = models.Float(floats.Sum(ranges[i-VolatilityPeriod+1:i+1]) / VolatilityPeriod)
		}
	}
	return out
}

// RSI computes the simple-average relative strength index over the deltas of
// closes. len(closes) must be period+1.
func RSI(closes []float64) float64 {
	period := float64(len(closes) - 1)
	var gains, losses float64
	for j := 1; j < len(closes); j++ {
		d := closes[j] - closes[j-1]
		if d > 0 {
			gains += d
		} else {
			losses += math.Abs(d)
		}
	}
	avgGain := gains / period
	avgLoss := losses / period
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// Returns computes per-step fractional close changes.
func Returns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	changes := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		changes = append(changes, (candles[i].Close-candles[i-1].Close)/candles[i-1].Close)
	}
	return changes
}

// SMA is the mean close of the last period candles, nil if there are fewer.
func SMA(candles []models.Candle, period int) *float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	var sum float64
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return models.Float(sum / float64(period))
}

// BollingerPosition places the last close relative to 2-sigma bands over 20 closes.
func BollingerPosition(candles []models.Candle) string {
	if len(candles) < 20 {
		return "middle"
	}
	recent := candles[len(candles)-20:]
	closes := make([]float64, len(recent))
	for i, c := range recent {
		closes[i] = c.Close
	}
	mean, std := stat.PopMeanStdDev(closes, nil)
	last := closes[len(closes)-1]
	switch {
	case last > mean+2*std:
		return "upper"
	case last < mean-2*std:
		return "lower"
	default:
		return "middle"
	}
}

// MarketPhase classifies the last 50 candles.
func MarketPhase(candles []models.Candle) string {
	if len(candles) < 50 {
		return models.Unknown
	}
	changes := Returns(candles[len(candles)-50:])
	avg, vol := stat.PopMeanStdDev(changes, nil)

	switch {
	case math.Abs(avg) < 0.001 && vol < 0.01:
		return "consolidation"
	case avg > 0.002:
		return "uptrend"
	case avg < -0.002:
		return "downtrend"
	case vol > 0.02:
		return "volatile"
	default:
		return "normal"
	}
}

// Snapshot captures the indicator readings of the last candle.
func Snapshot(candles []models.Candle) models.IndicatorSnapshot {
	if len(candles) == 0 {
		return models.IndicatorSnapshot{}
	}
	last := candles[len(candles)-1]
	return models.IndicatorSnapshot{
		RSI:               last.RSI,
		SMA7:              last.SMA7,
		SMA20:             SMA(candles, 20),
		PriceChange:       last.Change,
		Volume:            last.Volume,
		Volatility:        last.Volatility,
		BollingerPosition: BollingerPosition(candles),
		MarketPhase:       MarketPhase(candles),
	}
}
