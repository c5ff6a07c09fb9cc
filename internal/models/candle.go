// Package models defines the core domain entities: candles, market contexts,
// decisions and the experience records derived from them.
package models

import (
	"errors"
	"time"
)

// Candle is one OHLCV observation for a time bucket. The derived indicator
// fields are nil until the indicator engine has enough history to fill them.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`

	SMA7       *float64 `json:"sma7,omitempty"`
	RSI        *float64 `json:"rsi,omitempty"`
	Change     *float64 `json:"change,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`
}

// Validate checks candle field constraints.
func (c *Candle) Validate() error {
	if c.Time.IsZero() {
		return errors.New("candle time must be set")
	}
	if c.Close <= 0 {
		return errors.New("close price must be positive")
	}
	if c.High < c.Low {
		return errors.New("high must be >= low")
	}
	if c.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	return nil
}

// Float returns a pointer to v, for filling optional indicator fields.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences an optional field, falling back to def when absent.
func Value(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
