// Package strategy turns a raw model probability into a bias-corrected,
// risk-sized trading decision.
package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/models"
)

// ForcedProbability is the probability attached to operator-forced decisions.
const ForcedProbability = 0.8

const (
	probMin = 0.1
	probMax = 0.9
	riskMin = 0.1
	riskMax = 2.0

	imbalanceTrigger = 0.2
	accuracyWindow   = 20
	successWindow    = 10
)

// History is what the pipeline reads from past decisions.
type History interface {
	BuySellCounts() (buys, sells int)
	RecentAccuracy(n int) float64
	RecentSuccessRate(side models.Side, n int) float64
	Recommend(mc models.MarketContext) *models.Recommendation
}

// Config tunes the pipeline stages.
type Config struct {
	ClassBalanceMin  int
	CorrectionFactor float64
	ThresholdBase    float64
	ThresholdStep    float64
	ThresholdMin     float64
	ThresholdMax     float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		ClassBalanceMin:  10,
		CorrectionFactor: 0.05,
		ThresholdBase:    0.5,
		ThresholdStep:    0.1,
		ThresholdMin:     0.3,
		ThresholdMax:     0.7,
	}
}

// Input is one raw model output with the market state it was produced in.
type Input struct {
	Time        time.Time
	Symbol      string
	Price       float64
	Probability float64
	BaseBet     float64
	Context     models.MarketContext
}

// Pipeline runs class balance, market adjustment, dynamic threshold and risk
// sizing, in that order.
type Pipeline struct {
	cfg     Config
	history History
}

func New(cfg Config, history History) *Pipeline {
	return &Pipeline{cfg: cfg, history: history}
}

// Decide never fails: stages without enough history pass their input through.
func (p *Pipeline) Decide(in Input) *models.Decision {
	d := &models.Decision{
		ID:             uuid.New().String(),
		Time:           in.Time,
		Symbol:         in.Symbol,
		Price:          in.Price,
		RawProbability: in.Probability,
		Probability:    in.Probability,
		Side:           sideFor(in.Probability, 0.5),
		BaseBet:        in.BaseBet,
		MarketContext:  in.Context,
	}
	rawSide := d.Side

	p.classBalance(d)
	p.marketAdjust(d)
	p.dynamicThreshold(d, rawSide)
	p.riskSize(d)

	if rec := p.history.Recommend(in.Context); rec != nil {
		d.ExperienceBased = true
		d.ExperienceConfidence = rec.Confidence
		d.PatternID = rec.PatternID
	}

	logger.Debug("Pipeline: raw %.3f -> %.3f, threshold %.2f, %s, risk %.2f, bet %.2f",
		d.RawProbability, d.Probability, d.DynamicThreshold, d.Side, d.RiskFactor, d.AdjustedBetSize)
	return d
}

// Force builds an operator decision that bypasses every stage.
func Force(side models.Side, reason string, in Input) *models.Decision {
	return &models.Decision{
		ID:                 uuid.New().String(),
		Time:               in.Time,
		Symbol:             in.Symbol,
		Price:              in.Price,
		RawProbability:     ForcedProbability,
		Probability:        ForcedProbability,
		Side:               side,
		DynamicThreshold:   0.5,
		BaseBet:            in.BaseBet,
		AdjustedBetSize:    in.BaseBet,
		RiskFactor:         1,
		AdjustedConfidence: ForcedProbability,
		MarketContext:      in.Context,
		Forced:             true,
		Reason:             reason,
	}
}

func (p *Pipeline) classBalance(d *models.Decision) {
	buys, sells := p.history.BuySellCounts()
	total := buys + sells
	if total < p.cfg.ClassBalanceMin || total == 0 {
		return
	}
	imbalance := float64(buys)/float64(total) - 0.5
	audit := &models.ClassBalanceAudit{
		OriginalProbability: d.Probability,
		Imbalance:           imbalance,
		BuyCount:            buys,
		SellCount:           sells,
	}

	prob := d.Probability
	switch {
	case imbalance > imbalanceTrigger:
		prob -= imbalance * p.cfg.CorrectionFactor
		d.Stages.ClassBalanced = true
	case imbalance < -imbalanceTrigger:
		prob += -imbalance * p.cfg.CorrectionFactor
		d.Stages.ClassBalanced = true
	}
	d.Probability = clamp(prob, probMin, probMax)
	d.ClassBalance = audit
	if d.Stages.ClassBalanced {
		logger.Debug("Class balance: %d BUY / %d SELL, imbalance %.2f, probability %.3f -> %.3f",
			buys, sells, imbalance, audit.OriginalProbability, d.Probability)
	}
}

func (p *Pipeline) marketAdjust(d *models.Decision) {
	mc := d.MarketContext
	var adj float64
	switch mc.RSIExtreme {
	case models.RSIOverbought:
		if d.Side == models.Buy {
			adj -= 0.15
		} else {
			adj += 0.1
		}
	case models.RSIOversold:
		if d.Side == models.Sell {
			adj -= 0.15
		} else {
			adj += 0.1
		}
	}
	if mc.Volatility == models.VolatilityHigh {
		adj -= 0.05
	}
	if (mc.Trend == models.TrendBullish && d.Side == models.Sell) || (mc.Trend == models.TrendBearish && d.Side == models.Buy) {
		adj -= 0.1
	}

	d.MarketAdjustment = adj
	d.Stages.MarketAdjusted = adj != 0
	d.Probability = clamp(d.Probability+adj, probMin, probMax)
	if adj != 0 {
		logger.Debug("Market adjustment %+.2f for %s in %s", adj, d.Side, mc.Key())
	}
}

func (p *Pipeline) dynamicThreshold(d *models.Decision, rawSide models.Side) {
	acc := p.history.RecentAccuracy(accuracyWindow)
	threshold := p.cfg.ThresholdBase
	switch {
	case acc < 0.4:
		threshold += p.cfg.ThresholdStep
	case acc > 0.7:
		threshold -= p.cfg.ThresholdStep
	}
	threshold = clamp(threshold, p.cfg.ThresholdMin, p.cfg.ThresholdMax)

	d.RecentAccuracy = acc
	d.DynamicThreshold = threshold
	d.ThresholdMargin = d.Probability - threshold
	d.Side = sideFor(d.Probability, threshold)
	d.Stages.ThresholdApplied = threshold != p.cfg.ThresholdBase
	d.Stages.DecisionFlipped = d.Side != rawSide
	if d.Stages.DecisionFlipped {
		logger.Debug("Threshold %.2f flipped %s to %s (probability %.3f)", threshold, rawSide, d.Side, d.Probability)
	}
}

func (p *Pipeline) riskSize(d *models.Decision) {
	risk := 1.0
	if d.MarketContext.Volatility == models.VolatilityHigh {
		risk *= 0.5
	}
	if d.Probability < 0.6 {
		risk *= 0.7
	}
	rate := p.history.RecentSuccessRate(d.Side, successWindow)
	switch {
	case rate > 0.7:
		risk *= 1.2
	case rate < 0.3:
		risk *= 0.5
	}
	risk = clamp(risk, riskMin, riskMax)

	d.RiskFactor = risk
	d.AdjustedBetSize = d.BaseBet * risk
	d.AdjustedConfidence = d.Probability * risk
	d.Stages.RiskManaged = risk != 1
}

// Explain renders a one-line human summary of how d was reached.
func Explain(d *models.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %.2f, confidence %.1f%% (%s)", d.Side, d.Price, d.Probability*100, ConfidenceLevel(d.Probability))
	if d.Forced {
		fmt.Fprintf(&b, ", forced: %s", d.Reason)
		return b.String()
	}
	fmt.Fprintf(&b, ", raw %.1f%%", d.RawProbability*100)
	if d.ClassBalance != nil && d.Stages.ClassBalanced {
		fmt.Fprintf(&b, ", class balance %d/%d (imbalance %+.2f)", d.ClassBalance.BuyCount, d.ClassBalance.SellCount, d.ClassBalance.Imbalance)
	}
	if d.Stages.MarketAdjusted {
		fmt.Fprintf(&b, ", market %+.2f", d.MarketAdjustment)
	}
	fmt.Fprintf(&b, ", threshold %.2f (recent accuracy %.0f%%)", d.DynamicThreshold, d.RecentAccuracy*100)
	if d.Stages.DecisionFlipped {
		b.WriteString(", flipped")
	}
	fmt.Fprintf(&b, ", risk x%.2f, bet %.2f", d.RiskFactor, d.AdjustedBetSize)
	if d.ExperienceBased {
		fmt.Fprintf(&b, ", experience %.0f%%", d.ExperienceConfidence*100)
	}
	return b.String()
}

// ConfidenceLevel buckets a probability into high, medium or low.
func ConfidenceLevel(p float64) string {
	switch {
	case p > 0.7:
		return "high"
	case p > 0.6:
		return "medium"
	default:
		return "low"
	}
}

func sideFor(prob, threshold float64) models.Side {
	if prob > threshold {
		return models.Buy
	}
	return models.Sell
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
