package models

import (
	"errors"
	"time"
)

// Side is the direction of a trading call.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ClassBalanceAudit records what the class-balance stage did.
type ClassBalanceAudit struct {
	OriginalProbability float64 `json:"originalProbability"`
	Imbalance           float64 `json:"imbalance"`
	BuyCount            int     `json:"buyCount"`
	SellCount           int     `json:"sellCount"`
}

// Stages lists which pipeline stages changed the decision.
type Stages struct {
	ClassBalanced    bool `json:"classBalanced"`
	MarketAdjusted   bool `json:"marketAdjusted"`
	ThresholdApplied bool `json:"thresholdApplied"`
	RiskManaged      bool `json:"riskManaged"`
	DecisionFlipped  bool `json:"decisionFlipped"`
}

// Decision is a directional call produced by the decision pipeline (or forced by
// an operator). Result stays nil until the decision is evaluated, then never changes.
type Decision struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol,omitempty"`
	Price  float64   `json:"price"`

	RawProbability float64 `json:"rawProbability"`
	Probability    float64 `json:"probability"`
	Side           Side    `json:"decision"`

	ClassBalance     *ClassBalanceAudit `json:"classBalance,omitempty"`
	MarketAdjustment float64            `json:"marketAdjustment"`
	DynamicThreshold float64            `json:"dynamicThreshold"`
	RecentAccuracy   float64            `json:"recentAccuracy"`
	ThresholdMargin  float64            `json:"thresholdMargin"`

	BaseBet            float64 `json:"baseBet"`
	AdjustedBetSize    float64 `json:"adjustedBetSize"`
	RiskFactor         float64 `json:"riskFactor"`
	AdjustedConfidence float64 `json:"adjustedConfidence"`

	Stages        Stages        `json:"stages"`
	MarketContext MarketContext `json:"marketContext"`

	ExperienceBased      bool    `json:"experienceBased"`
	ExperienceConfidence float64 `json:"experienceConfidence,omitempty"`
	PatternID            string  `json:"patternId,omitempty"`

	Forced bool   `json:"forced,omitempty"`
	Reason string `json:"reason,omitempty"`

	Result *Result `json:"result"`
}

// Validate rejects decisions that cannot be evaluated.
func (d *Decision) Validate() error {
	if d == nil {
		return errors.New("decision is nil")
	}
	if !d.Side.Valid() {
		return errors.New("decision side must be BUY or SELL")
	}
	if d.Price <= 0 {
		return errors.New("decision price must be positive")
	}
	if d.Probability < 0 || d.Probability > 1 {
		return errors.New("decision probability must be between 0.0 and 1.0")
	}
	return nil
}

// Evaluated reports whether a result has been attached.
func (d *Decision) Evaluated() bool {
	return d.Result != nil
}

// Result is the realized outcome of a decision.
type Result struct {
	ActualPrice        float64   `json:"actualPrice"`
	IsCorrect          bool      `json:"isCorrect"`
	Profit             float64   `json:"profit"`
	BetSize            float64   `json:"betSize"`
	RiskFactor         float64   `json:"riskFactor"`
	PriceChange        float64   `json:"priceChange"`
	PriceChangePercent float64   `json:"priceChangePercent"`
	Time               time.Time `json:"time"`
}
