package market

import (
	"testing"
	"time"

	"github.com/rewired-gh/neurotrader/internal/indicators"
	"github.com/rewired-gh/neurotrader/internal/models"
)

func candlesFromCloses(closes []float64, volume float64) []models.Candle {
	start := time.Unix(1_700_000_000, 0)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Time: start.Add(time.Duration(i) * time.Minute), Open: c, High: c * 1.001, Low: c * 0.999, Close: c, Volume: volume}
	}
	return out
}

func geometric(n int, start, rate float64) []float64 {
	closes := make([]float64, n)
	price := start
	for i := range closes {
		closes[i] = price
		price *= 1 + rate
	}
	return closes
}

func TestAnalyze_InsufficientHistory(t *testing.T) {
	got := Analyze(candlesFromCloses(geometric(19, 100, 0.01), 10))
	if got != Unknown {
		t.Errorf("got %+v, want unknown sentinel", got)
	}
	if got.RSIExtreme != models.RSINormal || got.Volume != models.VolumeNormal {
		t.Errorf("sentinel should default rsi/volume to normal, got %+v", got)
	}
}

func TestAnalyze_NoNetMovementIsNeutral(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 100.01
		}
	}
	got := Analyze(indicators.Compute(candlesFromCloses(closes, 1000)))
	if got.Trend != models.TrendNeutral {
		t.Errorf("trend = %s, want neutral", got.Trend)
	}
	if got.Volatility != models.VolatilityLow {
		t.Errorf("volatility = %s, want low", got.Volatility)
	}
	if got.RSIExtreme != models.RSINormal {
		t.Errorf("rsiExtreme = %s, want normal", got.RSIExtreme)
	}
}

func TestAnalyze_Trends(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"bullish", 0.003, models.TrendBullish},
		{"bearish", -0.003, models.TrendBearish},
		{"just inside band", 0.0005, models.TrendNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(candlesFromCloses(geometric(40, 100, tt.rate), 10))
			if got.Trend != tt.want {
				t.Errorf("trend = %s, want %s", got.Trend, tt.want)
			}
		})
	}
}

func TestAnalyze_HighVolatility(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 110
		}
	}
	got := Analyze(candlesFromCloses(closes, 10))
	if got.Volatility != models.VolatilityHigh {
		t.Errorf("volatility = %s, want high", got.Volatility)
	}
}

func TestAnalyze_RSIExtremesAndBoundaries(t *testing.T) {
	tests := []struct {
		name string
		rsi  *float64
		want string
	}{
		{"overbought", models.Float(71), models.RSIOverbought},
		{"exactly 70 is normal", models.Float(70), models.RSINormal},
		{"oversold", models.Float(29.9), models.RSIOversold},
		{"exactly 30 is normal", models.Float(30), models.RSINormal},
		{"missing rsi", nil, models.RSINormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candles := candlesFromCloses(geometric(25, 100, 0), 10)
			candles[len(candles)-1].RSI = tt.rsi
			if got := Analyze(candles).RSIExtreme; got != tt.want {
				t.Errorf("rsiExtreme = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAnalyze_Volume(t *testing.T) {
	candles := candlesFromCloses(geometric(25, 100, 0), 10)
	candles[len(candles)-1].Volume = 1_000_000
	if got := Analyze(candles).Volume; got != models.VolumeNormal {
		t.Errorf("volume at boundary = %s, want normal", got)
	}
	candles[len(candles)-1].Volume = 1_000_001
	if got := Analyze(candles).Volume; got != models.VolumeHigh {
		t.Errorf("volume = %s, want high", got)
	}
}

func TestAnalyze_UsesTrailingWindow(t *testing.T) {
	// 100 falling candles followed by 50 rising ones: only the rising tail counts.
	closes := append(geometric(100, 200, -0.003), geometric(50, 100, 0.003)...)
	got := Analyze(candlesFromCloses(closes, 10))
	if got.Trend != models.TrendBullish {
		t.Errorf("trend = %s, want bullish from trailing window", got.Trend)
	}
}
