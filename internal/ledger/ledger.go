// Package ledger settles decisions against realized prices and keeps the
// simulated account: balance, rolling histories and the learning report.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/models"
)

// WinRate is the share of the bet paid out on a correct call.
const WinRate = 0.95

const (
	accuracyWindow   = 100
	autoReportEvery  = 10
	autoReportWindow = 10
)

var (
	// ErrInvalidDecision is returned for decisions that cannot be settled.
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrAlreadyEvaluated is returned when a decision already carries a result.
	ErrAlreadyEvaluated = errors.New("decision already evaluated")
)

// Experience receives every settled decision and answers the memory questions
// asked by the report.
type Experience interface {
	Record(ctx context.Context, d *models.Decision, result *models.Result, mc models.MarketContext, snap models.IndicatorSnapshot) models.ExperienceRecord
	Patterns() []models.Pattern
	MemoryUsage() int
	Len() int
}

// Config holds account parameters.
type Config struct {
	InitialBalance  float64
	BaseBet         float64
	HistoryLimit    int
	PredictionLimit int
}

// BalancePoint is one entry of the balance history.
type BalancePoint struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
}

// AccuracyPoint is the trailing accuracy, in percent, after an evaluation.
type AccuracyPoint struct {
	Time     time.Time `json:"time"`
	Accuracy float64   `json:"accuracy"`
}

// ConfidencePoint pairs the confidence of a call with its outcome.
type ConfidencePoint struct {
	Time               time.Time   `json:"time"`
	Confidence         float64     `json:"confidence"`
	AdjustedConfidence float64     `json:"adjustedConfidence"`
	IsCorrect          bool        `json:"isCorrect"`
	Decision           models.Side `json:"decision"`
}

// Ledger is not safe for concurrent use; the agent serializes access.
type Ledger struct {
	cfg        Config
	experience Experience

	balance           float64
	evaluations       int
	predictions       []models.Decision
	balanceHistory    []BalancePoint
	accuracyHistory   []AccuracyPoint
	confidenceHistory []ConfidencePoint

	now func() time.Time
}

// New creates a ledger at the initial balance. exp may be nil.
func New(cfg Config, exp Experience) *Ledger {
	l := &Ledger{cfg: cfg, experience: exp, now: time.Now}
	l.Reset()
	return l
}

// Reset returns the account to its initial balance with empty histories.
func (l *Ledger) Reset() {
	l.balance = l.cfg.InitialBalance
	l.evaluations = 0
	l.predictions = nil
	l.balanceHistory = []BalancePoint{{Time: l.now(), Balance: l.balance}}
	l.accuracyHistory = nil
	l.confidenceHistory = nil
}

// Evaluate settles d against actualPrice, attaches the result to d and forwards
// both to the experience store. A decision can be settled only once.
func (l *Ledger) Evaluate(ctx context.Context, d *models.Decision, actualPrice float64) (*models.Result, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	if d.Evaluated() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEvaluated, d.ID)
	}
	if actualPrice <= 0 {
		return nil, fmt.Errorf("%w: actual price must be positive", ErrInvalidDecision)
	}

	bet := d.AdjustedBetSize
	if bet <= 0 {
		bet = l.cfg.BaseBet
	}
	risk := d.RiskFactor
	if risk == 0 {
		risk = 1
	}

	change := actualPrice - d.Price
	correct := (d.Side == models.Buy && change > 0) || (d.Side == models.Sell && change < 0)
	profit := -bet
	if correct {
		profit = bet * WinRate
	}
	l.balance += profit

	now := l.now()
	result := &models.Result{
		ActualPrice:        actualPrice,
		IsCorrect:          correct,
		Profit:             profit,
		BetSize:            bet,
		RiskFactor:         risk,
		PriceChange:        change,
		PriceChangePercent: change / d.Price * 100,
		Time:               now,
	}
	d.Result = result
	l.evaluations++

	l.predictions = append(l.predictions, *d)
	l.balanceHistory = append(l.balanceHistory, BalancePoint{Time: now, Balance: l.balance})
	l.accuracyHistory = append(l.accuracyHistory, AccuracyPoint{Time: now, Accuracy: l.trailingAccuracy(accuracyWindow)})
	adjusted := d.AdjustedConfidence
	if adjusted == 0 {
		adjusted = d.Probability
	}
	l.confidenceHistory = append(l.confidenceHistory, ConfidencePoint{
		Time:               now,
		Confidence:         d.Probability * 100,
		AdjustedConfidence: adjusted * 100,
		IsCorrect:          correct,
		Decision:           d.Side,
	})
	l.trim()

	mark := "WRONG"
	if correct {
		mark = "CORRECT"
	}
	logger.Info("%s %s: %.2f -> %.2f (%+.2f%%), confidence %.1f%%, profit %+.2f, balance %.2f",
		mark, d.Side, d.Price, actualPrice, result.PriceChangePercent, d.Probability*100, profit, l.balance)

	if l.experience != nil {
		l.experience.Record(ctx, d, result, d.MarketContext, models.IndicatorSnapshot{})
	}

	if l.evaluations%autoReportEvery == 0 {
		logger.Info("%s", l.AutoReport())
	}
	return result, nil
}

// trim keeps the newest entries of every rolling history.
func (l *Ledger) trim() {
	l.predictions = keepLast(l.predictions, l.cfg.PredictionLimit)
	l.balanceHistory = keepLast(l.balanceHistory, l.cfg.HistoryLimit)
	l.accuracyHistory = keepLast(l.accuracyHistory, l.cfg.HistoryLimit)
	l.confidenceHistory = keepLast(l.confidenceHistory, l.cfg.HistoryLimit)
}

func keepLast[T any](xs []T, n int) []T {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	out := make([]T, n)
	copy(out, xs[len(xs)-n:])
	return out
}

func lastN[T any](xs []T, n int) []T {
	if n < 0 || len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// trailingAccuracy is the percent of correct calls among the last n settled ones.
func (l *Ledger) trailingAccuracy(n int) float64 {
	recent := lastN(l.predictions, n)
	if len(recent) == 0 {
		return 0
	}
	return float64(countCorrect(recent)) / float64(len(recent)) * 100
}

func countCorrect(ds []models.Decision) int {
	var n int
	for i := range ds {
		if ds[i].Result != nil && ds[i].Result.IsCorrect {
			n++
		}
	}
	return n
}

// Balance is the current simulated balance.
func (l *Ledger) Balance() float64 {
	return l.balance
}

// Profit is the balance relative to the initial balance.
func (l *Ledger) Profit() float64 {
	return l.balance - l.cfg.InitialBalance
}

// Evaluations counts settlements since the last reset, including trimmed ones.
func (l *Ledger) Evaluations() int {
	return l.evaluations
}

// Accuracy is the trailing accuracy in percent over the last 100 settled calls.
func (l *Ledger) Accuracy() float64 {
	return l.trailingAccuracy(accuracyWindow)
}

// Predictions returns up to n of the most recent settled decisions, oldest
// first. n < 0 returns everything held.
func (l *Ledger) Predictions(n int) []models.Decision {
	return cloneSlice(lastN(l.predictions, n))
}

func (l *Ledger) BalanceHistory() []BalancePoint {
	return cloneSlice(l.balanceHistory)
}

func (l *Ledger) AccuracyHistory() []AccuracyPoint {
	return cloneSlice(l.accuracyHistory)
}

func (l *Ledger) ConfidenceHistory() []ConfidencePoint {
	return cloneSlice(l.confidenceHistory)
}

func cloneSlice[T any](xs []T) []T {
	out := make([]T, len(xs))
	copy(out, xs)
	return out
}
