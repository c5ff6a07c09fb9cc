package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/rewired-gh/neurotrader/internal/models"
)

// Learning stages.
const (
	StageDataGathering      = "data_gathering"
	StageInitialLearning    = "initial_learning"
	StagePatternRecognition = "pattern_recognition"
	StageImproving          = "improving"
	StageAdjusting          = "adjusting"
)

const (
	reportRecentWindow  = 20
	metricsRecentWindow = 50
)

// LearningMetrics summarises how far along the agent is.
type LearningMetrics struct {
	Stage         string  `json:"stage"`
	Understanding int     `json:"understanding"`
	Efficiency    float64 `json:"efficiency"`
	MemoryUsed    int     `json:"memoryUsed"`
}

// Metrics derives the learning stage and market understanding score.
func (l *Ledger) Metrics() LearningMetrics {
	total := len(l.predictions)
	recent := l.trailingAccuracy(metricsRecentWindow)
	overall := l.trailingAccuracy(-1)

	stage := StageAdjusting
	switch {
	case total < 10:
		stage = StageDataGathering
	case total < 30:
		stage = StageInitialLearning
	case recent > 55:
		stage = StagePatternRecognition
	case recent > overall:
		stage = StageImproving
	}

	var understanding int
	switch {
	case total >= 100:
		understanding = 75
	case total >= 30:
		understanding = 50
	case total >= 10:
		understanding = 25
	}
	if recent > 60 {
		understanding += 15
	}
	if recent > 70 {
		understanding += 10
	}

	return LearningMetrics{
		Stage:         stage,
		Understanding: min(understanding, 100),
		Efficiency:    recent,
		MemoryUsed:    total,
	}
}

// Report is the full learning report.
type Report struct {
	Total             int      `json:"total"`
	TotalAccuracy     float64  `json:"totalAccuracy"`
	RecentAccuracy    float64  `json:"recentAccuracy"`
	BuyAccuracy       float64  `json:"buyAccuracy"`
	SellAccuracy      float64  `json:"sellAccuracy"`
	BuyCount          int      `json:"buyCount"`
	SellCount         int      `json:"sellCount"`
	ConfidenceCorrect float64  `json:"confidenceCorrect"`
	ConfidenceWrong   float64  `json:"confidenceWrong"`
	Balance           float64  `json:"balance"`
	Profit            float64  `json:"profit"`
	PatternsFound     int      `json:"patternsFound"`
	MemoryUsage       int      `json:"memoryUsage"`
	MemoryDecisions   int      `json:"memoryDecisions"`
	Stage             string   `json:"stage"`
	Analysis          []string `json:"analysis"`
	Recommendations   []string `json:"recommendations"`
}

// Report computes the learning report over the held predictions. Accuracies
// are percentages; mean confidences are probabilities over the recent window.
func (l *Ledger) Report() Report {
	r := Report{
		Total:   len(l.predictions),
		Balance: l.balance,
		Profit:  l.Profit(),
		Stage:   l.Metrics().Stage,
	}
	if l.experience != nil {
		r.PatternsFound = len(l.experience.Patterns())
		r.MemoryUsage = l.experience.MemoryUsage()
		r.MemoryDecisions = l.experience.Len()
	}
	if r.Total == 0 {
		r.Analysis = []string{"No predictions yet."}
		return r
	}

	r.TotalAccuracy = l.trailingAccuracy(-1)
	r.RecentAccuracy = l.trailingAccuracy(reportRecentWindow)

	var buyCorrect, sellCorrect int
	for i := range l.predictions {
		p := &l.predictions[i]
		correct := p.Result != nil && p.Result.IsCorrect
		if p.Side == models.Buy {
			r.BuyCount++
			if correct {
				buyCorrect++
			}
		} else {
			r.SellCount++
			if correct {
				sellCorrect++
			}
		}
	}
	r.BuyAccuracy = percent(buyCorrect, r.BuyCount)
	r.SellAccuracy = percent(sellCorrect, r.SellCount)

	var sumCorrect, sumWrong float64
	var nCorrect, nWrong int
	for _, p := range lastN(l.predictions, reportRecentWindow) {
		if p.Result == nil {
			continue
		}
		if p.Result.IsCorrect {
			sumCorrect += p.Probability
			nCorrect++
		} else {
			sumWrong += p.Probability
			nWrong++
		}
	}
	if nCorrect > 0 {
		r.ConfidenceCorrect = sumCorrect / float64(nCorrect)
	}
	if nWrong > 0 {
		r.ConfidenceWrong = sumWrong / float64(nWrong)
	}

	switch {
	case r.RecentAccuracy > 60:
		r.Analysis = append(r.Analysis, "Learning effectively and finding market regularities.")
	case r.RecentAccuracy > 55:
		r.Analysis = append(r.Analysis, "Learning, but needs more data to stabilise.")
	case r.RecentAccuracy > 50:
		r.Analysis = append(r.Analysis, "Still learning; accuracy slightly above chance.")
	default:
		r.Analysis = append(r.Analysis, "Exploring the market; no clear regularities yet.")
	}
	gap := math.Abs(r.BuyAccuracy - r.SellAccuracy)
	if gap > 20 {
		better := models.Sell
		if r.BuyAccuracy > r.SellAccuracy {
			better = models.Buy
		}
		r.Analysis = append(r.Analysis, fmt.Sprintf("Performs better on %s signals.", better))
	}
	if r.ConfidenceCorrect > 0.7 && r.ConfidenceWrong < 0.5 {
		r.Analysis = append(r.Analysis, "Confident when right and hesitant when wrong.")
	}

	if r.RecentAccuracy < 55 {
		r.Recommendations = append(r.Recommendations, "Increase the lookback window.")
	} else {
		r.Recommendations = append(r.Recommendations, "Current settings are effective.")
	}
	if gap > 30 {
		r.Recommendations = append(r.Recommendations, "Signals are biased; consider class balancing.")
	} else {
		r.Recommendations = append(r.Recommendations, "Signal balance is fine.")
	}
	return r
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// String renders the report as plain text.
func (r Report) String() string {
	var b strings.Builder
	b.WriteString("LEARNING REPORT\n")
	fmt.Fprintf(&b, "Predictions: %d\n", r.Total)
	fmt.Fprintf(&b, "Accuracy (all time): %.1f%%\n", r.TotalAccuracy)
	fmt.Fprintf(&b, "Accuracy (last %d): %.1f%%\n", reportRecentWindow, r.RecentAccuracy)
	fmt.Fprintf(&b, "Balance: %.2f USDT (%+.2f)\n", r.Balance, r.Profit)
	fmt.Fprintf(&b, "BUY accuracy: %.1f%% (%d)\n", r.BuyAccuracy, r.BuyCount)
	fmt.Fprintf(&b, "SELL accuracy: %.1f%% (%d)\n", r.SellAccuracy, r.SellCount)
	fmt.Fprintf(&b, "Mean confidence, correct: %.1f%%\n", r.ConfidenceCorrect*100)
	fmt.Fprintf(&b, "Mean confidence, wrong: %.1f%%\n", r.ConfidenceWrong*100)
	fmt.Fprintf(&b, "Patterns: %d, memory: %.1fKB over %d decisions\n", r.PatternsFound, float64(r.MemoryUsage)/1024, r.MemoryDecisions)
	fmt.Fprintf(&b, "Stage: %s\n", r.Stage)
	for _, a := range r.Analysis {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "* %s\n", rec)
	}
	return b.String()
}

// AutoReport is the short summary logged every few evaluations.
func (l *Ledger) AutoReport() string {
	var buys, sells int
	for i := range l.predictions {
		if l.predictions[i].Side == models.Buy {
			buys++
		} else {
			sells++
		}
	}
	return fmt.Sprintf("Auto report (%d evaluations): last %d accuracy %.1f%%, balance %.2f USDT, profit %+.2f USDT, BUY/SELL %d/%d",
		l.evaluations, autoReportWindow, l.trailingAccuracy(autoReportWindow), l.balance, l.Profit(), buys, sells)
}
