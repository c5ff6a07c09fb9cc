// Package experience keeps the decision log the agent learns from: every call
// with its market context and outcome, aggregate counters, and the recurring
// high-success patterns distilled from them.
package experience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/models"
	"github.com/rewired-gh/neurotrader/internal/storage"
)

// Key is the default storage key of the serialized store.
const Key = "neuro_trader_experience_v1"

const (
	similarityThreshold = 0.8
	minPatternSuccesses = 3
	patternSuccessRate  = 0.7
)

// BlobStore is the key-value boundary the store is persisted through.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Store is not safe for concurrent use; the agent serializes access.
type Store struct {
	blobs     BlobStore
	key       string
	maxMemory int

	decisions   []models.ExperienceRecord
	patterns    []models.Pattern
	stats       models.Statistics
	memoryUsage int
	lastSaved   time.Time

	now func() time.Time
}

// New creates an empty store. blobs may be nil, in which case nothing is persisted.
func New(blobs BlobStore, key string, maxMemory int) *Store {
	if key == "" {
		key = Key
	}
	return &Store{
		blobs:     blobs,
		key:       key,
		maxMemory: maxMemory,
		stats:     emptyStatistics(),
		now:       time.Now,
	}
}

func emptyStatistics() models.Statistics {
	return models.Statistics{AccuracyByMarketCondition: map[string]*models.ConditionAccuracy{}}
}

// Record logs a decision. A nil result logs it as pending. When a pending record
// for the same decision id exists, the result resolves that record in place
// instead of appending a second one.
func (s *Store) Record(ctx context.Context, d *models.Decision, result *models.Result, mc models.MarketContext, snap models.IndicatorSnapshot) models.ExperienceRecord {
	outcome := models.OutcomePending
	if result != nil {
		outcome = models.OutcomeFailure
		if result.IsCorrect {
			outcome = models.OutcomeSuccess
		}
	}

	idx := -1
	if result != nil && d.ID != "" {
		idx = s.pendingIndex(d.ID)
	}

	if idx < 0 {
		rec := models.ExperienceRecord{
			ID:              uuid.New().String(),
			DecisionID:      d.ID,
			Timestamp:       s.now(),
			Decision:        d.Side,
			Confidence:      d.Probability,
			PriceAtDecision: d.Price,
			Result:          models.OutcomePending,
			PatternType:     models.PatternPending,
			BetSize:         d.AdjustedBetSize,
			MarketContext:   mc,
			Indicators:      snap,
		}
		s.decisions = append(s.decisions, rec)
		s.stats.TotalDecisions++
		idx = len(s.decisions) - 1
	}

	rec := &s.decisions[idx]
	if result != nil {
		rec.PriceAfter = models.Float(result.ActualPrice)
		rec.Result = outcome
		rec.ProfitLoss = result.Profit
		rec.BetSize = result.BetSize
		rec.PatternType = models.PatternType(rec.Decision, outcome)
		s.updateStatistics(rec)
		if outcome == models.OutcomeSuccess {
			s.extractPattern(rec)
		}
	}
	out := *rec

	s.evict()
	s.persist(ctx)
	return out
}

func (s *Store) pendingIndex(decisionID string) int {
	for i := len(s.decisions) - 1; i >= 0; i-- {
		if s.decisions[i].DecisionID == decisionID && s.decisions[i].Result == models.OutcomePending {
			return i
		}
	}
	return -1
}

func (s *Store) updateStatistics(rec *models.ExperienceRecord) {
	switch {
	case rec.Decision == models.Buy && rec.Result == models.OutcomeSuccess:
		s.stats.SuccessfulBuys++
	case rec.Decision == models.Buy:
		s.stats.FailedBuys++
	case rec.Result == models.OutcomeSuccess:
		s.stats.SuccessfulSells++
	default:
		s.stats.FailedSells++
	}

	key := rec.MarketContext.Key()
	acc, ok := s.stats.AccuracyByMarketCondition[key]
	if !ok {
		acc = &models.ConditionAccuracy{}
		s.stats.AccuracyByMarketCondition[key] = acc
	}
	acc.Total++
	if rec.Result == models.OutcomeSuccess {
		acc.Correct++
	}
}

// extractPattern looks for enough similar successes around rec to call it a pattern.
func (s *Store) extractPattern(rec *models.ExperienceRecord) {
	var successes, resolved int
	for i := range s.decisions {
		d := &s.decisions[i]
		if d.Decision != rec.Decision || !d.Resolved() || !Similar(d.MarketContext, rec.MarketContext) {
			continue
		}
		resolved++
		if d.Result == models.OutcomeSuccess {
			successes++
		}
	}
	if successes < minPatternSuccesses {
		return
	}
	rate := float64(successes) / float64(resolved)
	if rate <= patternSuccessRate {
		return
	}

	for i := range s.patterns {
		p := &s.patterns[i]
		if p.Decision == rec.Decision && p.MarketContext == rec.MarketContext {
			p.Occurrences = successes
			p.SuccessRate = rate
			p.LastSeen = rec.Timestamp
			return
		}
	}
	p := models.Pattern{
		ID:            uuid.New().String(),
		Type:          rec.PatternType,
		Decision:      rec.Decision,
		MarketContext: rec.MarketContext,
		SuccessRate:   rate,
		Occurrences:   successes,
		LastSeen:      rec.Timestamp,
	}
	s.patterns = append(s.patterns, p)
	logger.Info("New pattern: %s in %s (%.0f%% over %d successes)", p.Decision, p.MarketContext.Key(), rate*100, successes)
}

// evict drops the oldest records beyond maxMemory, keeping order.
func (s *Store) evict() {
	if s.maxMemory <= 0 || len(s.decisions) <= s.maxMemory {
		return
	}
	drop := len(s.decisions) - s.maxMemory
	kept := make([]models.ExperienceRecord, s.maxMemory)
	copy(kept, s.decisions[drop:])
	s.decisions = kept
	logger.Debug("Evicted %d experience records", drop)
}

// Similar reports whether at least 80% of the fields present in both contexts
// agree. An absent context is never similar to anything.
func Similar(a, b models.MarketContext) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	fa, fb := a.Fields(), b.Fields()
	var common, equal int
	for k, va := range fa {
		vb, ok := fb[k]
		if !ok {
			continue
		}
		common++
		if va == vb {
			equal++
		}
	}
	if common == 0 {
		return false
	}
	return float64(equal)/float64(common) >= similarityThreshold
}

// Recommend returns the best pattern similar to mc, or nil.
func (s *Store) Recommend(mc models.MarketContext) *models.Recommendation {
	var best *models.Pattern
	for i := range s.patterns {
		p := &s.patterns[i]
		if p.SuccessRate <= patternSuccessRate || !Similar(p.MarketContext, mc) {
			continue
		}
		if best == nil || p.SuccessRate > best.SuccessRate {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	return &models.Recommendation{
		Decision:    best.Decision,
		Confidence:  best.SuccessRate,
		Occurrences: best.Occurrences,
		PatternID:   best.ID,
	}
}

// Cancel marks the pending records of the given decisions as cancelled and
// persists once. It returns how many records changed.
func (s *Store) Cancel(ctx context.Context, decisionIDs ...string) int {
	n := 0
	for _, id := range decisionIDs {
		idx := s.pendingIndex(id)
		if idx < 0 {
			continue
		}
		s.decisions[idx].Result = models.OutcomeCancelled
		s.decisions[idx].PatternType = models.PatternCancelled
		n++
	}
	if n > 0 {
		s.persist(ctx)
		logger.Debug("Cancelled %d pending experience records", n)
	}
	return n
}

// CancelAllPending cancels every pending record.
func (s *Store) CancelAllPending(ctx context.Context) int {
	var ids []string
	for i := range s.decisions {
		if s.decisions[i].Result == models.OutcomePending {
			ids = append(ids, s.decisions[i].DecisionID)
		}
	}
	return s.Cancel(ctx, ids...)
}

// BuySellCounts counts logged decisions by side, pending ones included and
// cancelled ones left out.
func (s *Store) BuySellCounts() (buys, sells int) {
	for i := range s.decisions {
		if s.decisions[i].Result == models.OutcomeCancelled {
			continue
		}
		if s.decisions[i].Decision == models.Buy {
			buys++
		} else {
			sells++
		}
	}
	return buys, sells
}

// RecentAccuracy is the success share of resolved records among the last n
// records, or 0.5 when none of them is resolved.
func (s *Store) RecentAccuracy(n int) float64 {
	start := max(len(s.decisions)-n, 0)
	var resolved, successes int
	for _, d := range s.decisions[start:] {
		if !d.Resolved() {
			continue
		}
		resolved++
		if d.Result == models.OutcomeSuccess {
			successes++
		}
	}
	if resolved == 0 {
		return 0.5
	}
	return float64(successes) / float64(resolved)
}

// RecentSuccessRate is the success share of the last n resolved records for
// side, or 0.5 when there are none.
func (s *Store) RecentSuccessRate(side models.Side, n int) float64 {
	var seen, successes int
	for i := len(s.decisions) - 1; i >= 0 && seen < n; i-- {
		d := &s.decisions[i]
		if d.Decision != side || !d.Resolved() {
			continue
		}
		seen++
		if d.Result == models.OutcomeSuccess {
			successes++
		}
	}
	if seen == 0 {
		return 0.5
	}
	return float64(successes) / float64(seen)
}

// Decisions returns a copy of the log, oldest first.
func (s *Store) Decisions() []models.ExperienceRecord {
	out := make([]models.ExperienceRecord, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Patterns returns a copy of the discovered patterns.
func (s *Store) Patterns() []models.Pattern {
	out := make([]models.Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Statistics returns a deep copy of the counters.
func (s *Store) Statistics() models.Statistics {
	out := s.stats
	out.AccuracyByMarketCondition = make(map[string]*models.ConditionAccuracy, len(s.stats.AccuracyByMarketCondition))
	for k, v := range s.stats.AccuracyByMarketCondition {
		c := *v
		out.AccuracyByMarketCondition[k] = &c
	}
	return out
}

// Len is the number of records currently held.
func (s *Store) Len() int {
	return len(s.decisions)
}

// MemoryUsage is the size in bytes of the last serialized form.
func (s *Store) MemoryUsage() int {
	return s.memoryUsage
}

// LastSaved is when the store was last written successfully.
func (s *Store) LastSaved() time.Time {
	return s.lastSaved
}

// Reset clears everything and persists the empty state right away.
func (s *Store) Reset(ctx context.Context) {
	s.decisions = nil
	s.patterns = nil
	s.stats = emptyStatistics()
	s.persist(ctx)
	logger.Info("Experience store reset")
}

// persist writes the whole store. Failures are logged and the in-memory state
// is kept as is.
func (s *Store) persist(ctx context.Context) {
	data, err := s.marshal()
	if err != nil {
		logger.Warn("Failed to serialize experience: %v", err)
		return
	}
	s.memoryUsage = len(data)
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Set(ctx, s.key, data); err != nil {
		logger.Warn("Failed to persist experience: %v", err)
		return
	}
	s.lastSaved = s.now()
}

// Load replaces the in-memory state with the persisted one. A missing key
// leaves the store empty and is not an error.
func (s *Store) Load(ctx context.Context) error {
	if s.blobs == nil {
		return nil
	}
	data, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load experience: %w", err)
	}
	snap, err := decode(data)
	if err != nil {
		return fmt.Errorf("failed to decode experience: %w", err)
	}
	s.decisions = snap.Decisions
	s.patterns = snap.Patterns
	s.stats = snap.Statistics
	s.memoryUsage = len(data)
	s.evict()
	logger.Info("Loaded experience: %d decisions, %d patterns", len(s.decisions), len(s.patterns))
	return nil
}

func (s *Store) marshal() ([]byte, error) {
	return json.Marshal(snapshot{
		Version:     currentVersion,
		Decisions:   nonNil(s.decisions),
		Patterns:    nonNil(s.patterns),
		Statistics:  s.stats,
		MemoryUsage: s.memoryUsage,
		SavedAt:     s.now(),
	})
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
