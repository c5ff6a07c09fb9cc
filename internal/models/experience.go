package models

import "time"

// Outcome of an experience record.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomePending   Outcome = "pending"
	// OutcomeCancelled marks a record whose evaluation was dropped by pause,
	// reset or shutdown. It is left out of side counts, accuracy and patterns.
	OutcomeCancelled Outcome = "cancelled"
)

// Pattern types, derived from side and outcome.
const (
	PatternSuccessfulBuy  = "successful_buy"
	PatternFailedBuy      = "failed_buy"
	PatternSuccessfulSell = "successful_sell"
	PatternFailedSell     = "failed_sell"
	PatternPending        = "pending"
	PatternCancelled      = "cancelled"
)

// PatternType classifies a side/outcome pair.
func PatternType(side Side, outcome Outcome) string {
	switch {
	case outcome == OutcomePending:
		return PatternPending
	case outcome == OutcomeCancelled:
		return PatternCancelled
	case side == Buy && outcome == OutcomeSuccess:
		return PatternSuccessfulBuy
	case side == Buy:
		return PatternFailedBuy
	case outcome == OutcomeSuccess:
		return PatternSuccessfulSell
	default:
		return PatternFailedSell
	}
}

// IndicatorSnapshot captures the indicator readings at decision time.
type IndicatorSnapshot struct {
	RSI               *float64 `json:"rsi,omitempty"`
	SMA7              *float64 `json:"sma7,omitempty"`
	SMA20             *float64 `json:"sma20,omitempty"`
	PriceChange       *float64 `json:"priceChange,omitempty"`
	Volume            float64  `json:"volume"`
	Volatility        *float64 `json:"volatility,omitempty"`
	BollingerPosition string   `json:"bollingerPosition,omitempty"`
	MarketPhase       string   `json:"marketPhase,omitempty"`
}

// ExperienceRecord is one entry of the decision log.
type ExperienceRecord struct {
	ID              string            `json:"id"`
	DecisionID      string            `json:"decisionId,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Decision        Side              `json:"decision"`
	Confidence      float64           `json:"confidence"`
	PriceAtDecision float64           `json:"priceAtDecision"`
	PriceAfter      *float64          `json:"priceAfter"`
	Result          Outcome           `json:"result"`
	ProfitLoss      float64           `json:"profitLoss"`
	BetSize         float64           `json:"betSize"`
	PatternType     string            `json:"patternType"`
	MarketContext   MarketContext     `json:"marketContext"`
	Indicators      IndicatorSnapshot `json:"indicators"`
}

// Resolved reports whether the record carries a final outcome.
func (r *ExperienceRecord) Resolved() bool {
	return r.Result == OutcomeSuccess || r.Result == OutcomeFailure
}

// Pattern is a recurring (decision, context) combination with a high success rate.
type Pattern struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Decision      Side          `json:"decision"`
	MarketContext MarketContext `json:"marketContext"`
	SuccessRate   float64       `json:"successRate"`
	Occurrences   int           `json:"occurrences"`
	LastSeen      time.Time     `json:"lastSeen"`
}

// ConditionAccuracy counts outcomes for one exact market context.
type ConditionAccuracy struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// Statistics aggregates counters over everything ever recorded, including
// records that have since been evicted.
type Statistics struct {
	TotalDecisions            int                           `json:"totalDecisions"`
	SuccessfulBuys            int                           `json:"successfulBuys"`
	FailedBuys                int                           `json:"failedBuys"`
	SuccessfulSells           int                           `json:"successfulSells"`
	FailedSells               int                           `json:"failedSells"`
	AccuracyByMarketCondition map[string]*ConditionAccuracy `json:"accuracyByMarketCondition"`
}

// Recommendation is advisory output of the experience recall.
type Recommendation struct {
	Decision    Side    `json:"decision"`
	Confidence  float64 `json:"confidence"`
	Occurrences int     `json:"occurrences"`
	PatternID   string  `json:"patternId"`
}
