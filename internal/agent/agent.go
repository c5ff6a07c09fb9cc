// Package agent runs the trading loop. All mutable state (candle window,
// account, experience, model, forced decision) belongs to one goroutine that
// drains a task queue; pollers, timers and callers only enqueue closures.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/neurotrader/internal/experience"
	"github.com/rewired-gh/neurotrader/internal/indicators"
	"github.com/rewired-gh/neurotrader/internal/ledger"
	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/market"
	"github.com/rewired-gh/neurotrader/internal/metrics"
	"github.com/rewired-gh/neurotrader/internal/models"
	"github.com/rewired-gh/neurotrader/internal/predictor"
	"github.com/rewired-gh/neurotrader/internal/storage"
	"github.com/rewired-gh/neurotrader/internal/strategy"
)

// ErrStopped is returned by calls made after Run has returned.
var ErrStopped = errors.New("agent stopped")

// DataSource supplies candles. It never fails; synthetic reports a fallback.
type DataSource interface {
	Fetch(ctx context.Context, symbol, interval string, limit int) (candles []models.Candle, synthetic bool)
}

// Notifier is told about decisions, results and loop health.
type Notifier interface {
	SendDecision(d models.Decision, explanation string) error
	SendResult(d models.Decision, balance float64) error
	SendError(err error) error
	SendRecovery(failures int) error
}

type Config struct {
	Symbol            string
	Interval          string
	PollInterval      time.Duration // zero disables the built-in poller
	EvaluationDelay   time.Duration
	FetchLimit        int
	InitialFetchLimit int
	WindowSize        int
	Lookback          int
	BaseBet           float64
	MaxMemory         int
	ModelKey          string
	ModelSeed         int64
	LearningRate      float64
	Strategy          strategy.Config
	Ledger            ledger.Config
}

type timer interface {
	Stop() bool
}

type scheduled struct {
	id       string
	decision *models.Decision
	features [][]float64
	timer    timer
}

type forcedDecision struct {
	side   models.Side
	reason string
}

type Agent struct {
	cfg      Config
	source   DataSource
	store    storage.Store
	metrics  *metrics.Recorder
	notifier Notifier

	tasks   chan func()
	ready   chan struct{}
	stopped chan struct{}
	paused  atomic.Bool
	runCtx  context.Context

	window       []models.Candle
	context      models.MarketContext
	experience   *experience.Store
	ledger       *ledger.Ledger
	pipeline     *strategy.Pipeline
	predictor    *predictor.Predictor
	pending      map[string]*scheduled
	forced       *forcedDecision
	lastDecision *models.Decision
	baseBet      float64
	cycles       int

	afterFunc func(d time.Duration, f func()) timer
}

// New wires an agent. Call Run to start it.
func New(cfg Config, source DataSource, store storage.Store, rec *metrics.Recorder) *Agent {
	exp := experience.New(store, experience.Key, cfg.MaxMemory)
	a := &Agent{
		cfg:        cfg,
		source:     source,
		store:      store,
		metrics:    rec,
		tasks:      make(chan func(), 64),
		ready:      make(chan struct{}),
		stopped:    make(chan struct{}),
		runCtx:     context.Background(),
		experience: exp,
		ledger:     ledger.New(cfg.Ledger, exp),
		pipeline:   strategy.New(cfg.Strategy, exp),
		predictor:  predictor.New(predictor.NewLogistic(cfg.ModelSeed), cfg.Lookback, cfg.ModelSeed),
		pending:    make(map[string]*scheduled),
		baseBet:    cfg.BaseBet,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	return a
}

// SetNotifier attaches a notifier. Must be called before Run.
func (a *Agent) SetNotifier(n Notifier) {
	a.notifier = n
}

// SetModel replaces the built-in classifier. Must be called before Run.
func (a *Agent) SetModel(m predictor.Model) {
	a.predictor.SetModel(m)
}

// Run restores persisted state, loads the initial window and then serves
// the task queue until ctx is cancelled, checkpointing on the way out.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.stopped)
	a.runCtx = ctx
	a.bootstrap(ctx)
	close(a.ready)

	if a.cfg.PollInterval > 0 {
		go a.poll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case task := <-a.tasks:
			task()
		}
	}
}

func (a *Agent) bootstrap(ctx context.Context) {
	if err := a.experience.Load(ctx); err != nil {
		logger.Warn("Starting with empty experience: %v", err)
	}
	// Scheduled evaluations do not survive a restart.
	if n := a.experience.CancelAllPending(ctx); n > 0 {
		logger.Info("Cancelled %d evaluations left pending by the previous run", n)
	}
	if err := a.ledger.Load(ctx, a.store, ledger.SessionKey); err != nil {
		logger.Warn("Starting with a fresh session: %v", err)
	}
	m, err := predictor.LoadLogistic(ctx, a.store, a.cfg.ModelKey)
	switch {
	case err == nil:
		if _, ok := a.predictor.Model().(*predictor.Logistic); ok {
			a.predictor.SetModel(m)
			logger.Info("Loaded model weights from %s", a.cfg.ModelKey)
		}
	case errors.Is(err, storage.ErrNotFound):
		logger.Info("No saved model weights, starting from seed %d", a.cfg.ModelSeed)
	default:
		logger.Warn("Failed to load model weights: %v", err)
	}

	if a.cfg.InitialFetchLimit > 0 {
		candles, synthetic := a.source.Fetch(ctx, a.cfg.Symbol, a.cfg.Interval, a.cfg.InitialFetchLimit)
		if synthetic {
			a.metrics.RecordFallback()
		}
		a.window = indicators.Compute(Merge(a.window, candles, a.cfg.WindowSize))
		a.context = market.Analyze(a.window)
	}
	a.metrics.RecordBalance(a.ledger.Balance())
	a.metrics.RecordExperience(len(a.experience.Patterns()), a.experience.MemoryUsage())
	logger.Info("Agent ready: %s %s, %d candles, balance %.2f", a.cfg.Symbol, a.cfg.Interval, len(a.window), a.ledger.Balance())
}

// poll runs a cycle every PollInterval and reports failure streaks.
func (a *Agent) poll(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
			return
		}
		if err != nil {
			consecutiveFailures++
			logger.Error("Trading cycle failed: %v", err)
			if consecutiveFailures == 1 && a.notifier != nil {
				if sendErr := a.notifier.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && a.notifier != nil {
			if sendErr := a.notifier.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	handleCycleResult(a.Cycle(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handleCycleResult(a.Cycle(ctx))
		}
	}
}

// waitReady blocks until Run has restored state and loaded the initial window.
func (a *Agent) waitReady(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrStopped
	}
}

// do runs f on the agent goroutine and waits for it.
func (a *Agent) do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	select {
	case a.tasks <- func() { f(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrStopped
	}
}

// enqueue hands f to the agent goroutine without waiting.
func (a *Agent) enqueue(f func()) {
	select {
	case a.tasks <- f:
	case <-a.stopped:
	}
}

// Cycle fetches fresh candles and runs one decision step. It is what the
// poller calls on every tick.
func (a *Agent) Cycle(ctx context.Context) error {
	if err := a.waitReady(ctx); err != nil {
		return err
	}
	if a.paused.Load() {
		logger.Debug("Agent paused, skipping cycle")
		return nil
	}
	start := time.Now()
	candles, synthetic := a.source.Fetch(ctx, a.cfg.Symbol, a.cfg.Interval, a.cfg.FetchLimit)
	if synthetic {
		a.metrics.RecordFallback()
	}

	var cycleErr error
	if err := a.do(ctx, func() { cycleErr = a.process(candles) }); err != nil {
		return err
	}
	a.metrics.ObserveCycle(time.Since(start).Seconds())
	return cycleErr
}

func (a *Agent) process(candles []models.Candle) error {
	if a.paused.Load() {
		return nil
	}
	ctx := a.runCtx
	a.cycles++
	a.window = indicators.Compute(Merge(a.window, candles, a.cfg.WindowSize))
	if len(a.window) == 0 {
		return nil
	}
	a.context = market.Analyze(a.window)
	last := a.window[len(a.window)-1]
	in := strategy.Input{
		Time:    time.Now(),
		Symbol:  a.cfg.Symbol,
		Price:   last.Close,
		BaseBet: a.baseBet,
		Context: a.context,
	}

	var d *models.Decision
	var features [][]float64
	if a.forced != nil {
		d = strategy.Force(a.forced.side, a.forced.reason, in)
		a.forced = nil
		logger.Info("Forced %s decision at %.2f: %s", d.Side, d.Price, d.Reason)
	} else {
		prob, rows, ok, err := a.predictor.PredictRows(a.window)
		if err != nil {
			a.metrics.RecordError("predict")
			return fmt.Errorf("prediction failed: %w", err)
		}
		if !ok {
			logger.Debug("Collecting history: %d/%d candles", len(a.window), a.cfg.Lookback)
			return nil
		}
		in.Probability = prob
		d = a.pipeline.Decide(in)
		features = rows
	}

	explanation := strategy.Explain(d)
	logger.Info("Decision: %s", explanation)
	a.experience.Record(ctx, d, nil, a.context, indicators.Snapshot(a.window))
	a.lastDecision = d
	a.metrics.RecordDecision(string(d.Side), d.Forced)
	a.metrics.RecordExperience(len(a.experience.Patterns()), a.experience.MemoryUsage())

	a.schedule(d, features)

	if a.notifier != nil {
		snap := *d
		go func() {
			if err := a.notifier.SendDecision(snap, explanation); err != nil {
				logger.Warn("Failed to send decision notification: %v", err)
			}
		}()
	}
	return nil
}

// schedule registers a deferred evaluation of d. The evaluation only runs if
// the entry is still registered when its task reaches the queue.
func (a *Agent) schedule(d *models.Decision, features [][]float64) {
	task := &scheduled{id: uuid.New().String(), decision: d, features: features}
	a.pending[task.id] = task
	task.timer = a.afterFunc(a.cfg.EvaluationDelay, func() { a.fire(task.id) })
	a.metrics.SetPending(len(a.pending))
	logger.Debug("Scheduled evaluation %s in %v", task.id, a.cfg.EvaluationDelay)
}

// fire runs on the timer goroutine: the price lookup happens here, the
// settlement on the agent goroutine.
func (a *Agent) fire(id string) {
	ctx := a.runCtx
	candles, synthetic := a.source.Fetch(ctx, a.cfg.Symbol, a.cfg.Interval, 1)
	if synthetic {
		a.metrics.RecordFallback()
	}
	a.enqueue(func() {
		if len(candles) == 0 {
			a.drop(id, "no price available")
			return
		}
		a.settle(ctx, id, candles[len(candles)-1].Close)
	})
}

func (a *Agent) drop(id, reason string) {
	task, ok := a.pending[id]
	if !ok {
		return
	}
	delete(a.pending, id)
	a.experience.Cancel(a.runCtx, task.decision.ID)
	a.metrics.SetPending(len(a.pending))
	logger.Warn("Dropped evaluation %s: %s", id, reason)
}

func (a *Agent) settle(ctx context.Context, id string, price float64) {
	task, ok := a.pending[id]
	if !ok {
		logger.Debug("Evaluation %s was cancelled", id)
		return
	}
	delete(a.pending, id)
	a.metrics.SetPending(len(a.pending))

	d := task.decision
	result, err := a.ledger.Evaluate(ctx, d, price)
	if err != nil {
		a.metrics.RecordError("evaluate")
		a.experience.Cancel(ctx, d.ID)
		logger.Warn("Evaluation of %s rejected: %v", d.ID, err)
		return
	}

	if lg, ok := a.predictor.Model().(*predictor.Logistic); ok && task.features != nil && a.cfg.LearningRate > 0 {
		label := 0.0
		if result.PriceChange > 0 {
			label = 1
		}
		if err := lg.Learn(task.features, label, a.cfg.LearningRate); err != nil {
			logger.Warn("Model update failed: %v", err)
		}
	}

	if err := a.store.AddTrade(ctx, d); err != nil {
		a.metrics.RecordError("journal")
		logger.Warn("Failed to journal trade %s: %v", d.ID, err)
	}
	a.metrics.RecordEvaluation(result.IsCorrect, a.ledger.Balance(), a.ledger.Accuracy())
	a.metrics.RecordExperience(len(a.experience.Patterns()), a.experience.MemoryUsage())
	a.persist(ctx)

	if a.notifier != nil {
		snap, balance := *d, a.ledger.Balance()
		go func() {
			if err := a.notifier.SendResult(snap, balance); err != nil {
				logger.Warn("Failed to send result notification: %v", err)
			}
		}()
	}
}

// cancelPending stops every timer, empties the registry and marks the
// matching experience records as cancelled.
func (a *Agent) cancelPending(ctx context.Context) int {
	n := len(a.pending)
	ids := make([]string, 0, n)
	for id, task := range a.pending {
		if task.timer != nil {
			task.timer.Stop()
		}
		ids = append(ids, task.decision.ID)
		delete(a.pending, id)
	}
	a.experience.Cancel(ctx, ids...)
	a.metrics.SetPending(0)
	return n
}

// persist saves the session summary and model weights. Failures are logged.
func (a *Agent) persist(ctx context.Context) {
	if err := a.ledger.Save(ctx, a.store, ledger.SessionKey); err != nil {
		a.metrics.RecordError("persist")
		logger.Warn("Failed to save session: %v", err)
	}
	if lg, ok := a.predictor.Model().(*predictor.Logistic); ok {
		if err := predictor.SaveLogistic(ctx, a.store, a.cfg.ModelKey, lg); err != nil {
			a.metrics.RecordError("persist")
			logger.Warn("Failed to save model weights: %v", err)
		}
	}
}

func (a *Agent) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n := a.cancelPending(ctx)
	a.persist(ctx)
	logger.Info("Agent stopped: %d pending evaluations cancelled, balance %.2f", n, a.ledger.Balance())
}

// Merge appends candles whose open time is not in window yet, keeps the
// result ordered by time and caps it to the newest size entries.
func Merge(window, incoming []models.Candle, size int) []models.Candle {
	seen := make(map[int64]struct{}, len(window)+len(incoming))
	out := make([]models.Candle, 0, len(window)+len(incoming))
	for _, c := range window {
		seen[c.Time.UnixMilli()] = struct{}{}
		out = append(out, c)
	}
	added := false
	for _, c := range incoming {
		key := c.Time.UnixMilli()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
		added = true
	}
	if added {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	}
	if size > 0 && len(out) > size {
		out = out[len(out)-size:]
	}
	return out
}
