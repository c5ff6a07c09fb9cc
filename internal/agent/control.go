package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/neurotrader/internal/ledger"
	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/models"
	"github.com/rewired-gh/neurotrader/internal/predictor"
	"github.com/rewired-gh/neurotrader/internal/strategy"
)

// Status is a point-in-time view of the agent.
type Status struct {
	Symbol       string                 `json:"symbol"`
	Interval     string                 `json:"interval"`
	Paused       bool                   `json:"paused"`
	Cycles       int                    `json:"cycles"`
	Candles      int                    `json:"candles"`
	LastPrice    float64                `json:"lastPrice"`
	Context      models.MarketContext   `json:"marketContext"`
	Balance      float64                `json:"balance"`
	Profit       float64                `json:"profit"`
	Accuracy     float64                `json:"accuracy"`
	Evaluations  int                    `json:"evaluations"`
	Pending      int                    `json:"pendingEvaluations"`
	BaseBet      float64                `json:"baseBet"`
	ForcedSide   models.Side            `json:"forcedSide,omitempty"`
	Patterns     int                    `json:"patterns"`
	MemoryUsage  int                    `json:"memoryUsage"`
	Learning     ledger.LearningMetrics `json:"learning"`
	LastDecision *models.Decision       `json:"lastDecision,omitempty"`
	Explanation  string                 `json:"explanation,omitempty"`
}

// Status returns a snapshot of the agent state.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	var s Status
	err := a.do(ctx, func() {
		s = Status{
			Symbol:      a.cfg.Symbol,
			Interval:    a.cfg.Interval,
			Paused:      a.paused.Load(),
			Cycles:      a.cycles,
			Candles:     len(a.window),
			Context:     a.context,
			Balance:     a.ledger.Balance(),
			Profit:      a.ledger.Profit(),
			Accuracy:    a.ledger.Accuracy(),
			Evaluations: a.ledger.Evaluations(),
			Pending:     len(a.pending),
			BaseBet:     a.baseBet,
			Patterns:    len(a.experience.Patterns()),
			MemoryUsage: a.experience.MemoryUsage(),
			Learning:    a.ledger.Metrics(),
		}
		if n := len(a.window); n > 0 {
			s.LastPrice = a.window[n-1].Close
		}
		if a.forced != nil {
			s.ForcedSide = a.forced.side
		}
		if a.lastDecision != nil {
			d := *a.lastDecision
			if d.Result != nil {
				r := *d.Result
				d.Result = &r
			}
			s.LastDecision = &d
			s.Explanation = strategy.Explain(&d)
		}
	})
	return s, err
}

// Force makes the next cycle emit a decision for side, bypassing the pipeline.
func (a *Agent) Force(ctx context.Context, side models.Side, reason string) error {
	if !side.Valid() {
		return fmt.Errorf("invalid side %q", side)
	}
	return a.do(ctx, func() {
		a.forced = &forcedDecision{side: side, reason: reason}
		logger.Info("Next decision forced to %s: %s", side, reason)
	})
}

// SetBaseBet changes the stake used for subsequent decisions.
func (a *Agent) SetBaseBet(ctx context.Context, bet float64) error {
	if bet <= 0 {
		return errors.New("base bet must be positive")
	}
	return a.do(ctx, func() {
		a.baseBet = bet
		logger.Info("Base bet set to %.2f", bet)
	})
}

// Pause stops decision making and cancels every scheduled evaluation.
func (a *Agent) Pause(ctx context.Context) error {
	return a.do(ctx, func() {
		a.paused.Store(true)
		n := a.cancelPending(ctx)
		logger.Info("Agent paused, %d pending evaluations cancelled", n)
	})
}

// Resume restarts decision making after Pause.
func (a *Agent) Resume(ctx context.Context) error {
	return a.do(ctx, func() {
		a.paused.Store(false)
		logger.Info("Agent resumed")
	})
}

// Reset forgets everything learned: account, experience, trade journal and
// model weights. The candle window is kept.
func (a *Agent) Reset(ctx context.Context) error {
	return a.do(ctx, func() {
		n := a.cancelPending(ctx)
		a.forced = nil
		a.lastDecision = nil
		a.ledger.Reset()
		a.experience.Reset(ctx)
		if _, ok := a.predictor.Model().(*predictor.Logistic); ok {
			a.predictor.SetModel(predictor.NewLogistic(a.cfg.ModelSeed))
		}
		if err := a.store.ClearTrades(ctx); err != nil {
			logger.Warn("Failed to clear trade journal: %v", err)
		}
		a.persist(ctx)
		a.metrics.RecordBalance(a.ledger.Balance())
		a.metrics.RecordExperience(0, a.experience.MemoryUsage())
		logger.Info("Agent reset, %d pending evaluations cancelled", n)
	})
}

// Report returns the learning report.
func (a *Agent) Report(ctx context.Context) (ledger.Report, error) {
	var r ledger.Report
	err := a.do(ctx, func() { r = a.ledger.Report() })
	return r, err
}

// Decisions returns up to n of the most recent settled decisions, oldest first.
func (a *Agent) Decisions(ctx context.Context, n int) ([]models.Decision, error) {
	var out []models.Decision
	err := a.do(ctx, func() { out = a.ledger.Predictions(n) })
	return out, err
}

// Patterns returns the discovered experience patterns.
func (a *Agent) Patterns(ctx context.Context) ([]models.Pattern, error) {
	var out []models.Pattern
	err := a.do(ctx, func() { out = a.experience.Patterns() })
	return out, err
}

// Statistics returns the experience counters.
func (a *Agent) Statistics(ctx context.Context) (models.Statistics, error) {
	var out models.Statistics
	err := a.do(ctx, func() { out = a.experience.Statistics() })
	return out, err
}

// Trades reads the trade journal, newest first. It does not go through the
// agent goroutine; the store is safe for concurrent use.
func (a *Agent) Trades(ctx context.Context, n int) ([]models.Decision, error) {
	return a.store.RecentTrades(ctx, n)
}
