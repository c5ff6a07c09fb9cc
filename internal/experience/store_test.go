package experience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rewired-gh/neurotrader/internal/models"
	"github.com/rewired-gh/neurotrader/internal/storage"
)

var bullCtx = models.MarketContext{
	Trend:      models.TrendBullish,
	Volatility: models.VolatilityLow,
	RSIExtreme: models.RSINormal,
	Volume:     models.VolumeNormal,
}

func newTestStore(t *testing.T, maxMemory int) (*Store, *storage.SQLite) {
	t.Helper()
	db, err := storage.NewSQLite(100, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Key, maxMemory), db
}

var seq int

func testDecision(side models.Side) *models.Decision {
	seq++
	return &models.Decision{
		ID:              fmt.Sprintf("dec-%d", seq),
		Side:            side,
		Price:           100,
		Probability:     0.7,
		AdjustedBetSize: 10,
	}
}

func result(correct bool) *models.Result {
	r := &models.Result{ActualPrice: 101, IsCorrect: correct, BetSize: 10, Profit: 9.5}
	if !correct {
		r.Profit = -10
	}
	return r
}

func TestSimilar(t *testing.T) {
	tests := []struct {
		name string
		a, b models.MarketContext
		want bool
	}{
		{"identical", bullCtx, bullCtx, true},
		{"three of four", bullCtx, models.MarketContext{Trend: models.TrendBearish, Volatility: models.VolatilityLow, RSIExtreme: models.RSINormal, Volume: models.VolumeNormal}, false},
		{"missing a", models.MarketContext{}, bullCtx, false},
		{"missing b", bullCtx, models.MarketContext{}, false},
		{"only common keys count", models.MarketContext{Trend: models.TrendBullish, Volatility: models.VolatilityLow}, bullCtx, true},
		{"no common keys", models.MarketContext{Trend: models.TrendBullish}, models.MarketContext{Volume: models.VolumeHigh}, false},
		{"unknown sentinel matches itself", models.MarketContext{Trend: models.Unknown, Volatility: models.Unknown, RSIExtreme: models.RSINormal, Volume: models.VolumeNormal}, models.MarketContext{Trend: models.Unknown, Volatility: models.Unknown, RSIExtreme: models.RSINormal, Volume: models.VolumeNormal}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similar(tt.a, tt.b); got != tt.want {
				t.Errorf("Similar() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecord_PendingThenResolvedInPlace(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()
	d := testDecision(models.Buy)

	rec := s.Record(ctx, d, nil, bullCtx, models.IndicatorSnapshot{})
	if rec.Result != models.OutcomePending || rec.PatternType != models.PatternPending {
		t.Fatalf("expected pending record, got %+v", rec)
	}
	if rec.PriceAfter != nil {
		t.Error("pending record should have no price after")
	}

	rec = s.Record(ctx, d, result(true), bullCtx, models.IndicatorSnapshot{})
	if s.Len() != 1 {
		t.Fatalf("expected 1 record after resolution, got %d", s.Len())
	}
	if rec.Result != models.OutcomeSuccess || rec.PatternType != models.PatternSuccessfulBuy {
		t.Errorf("unexpected resolved record %+v", rec)
	}
	if rec.PriceAfter == nil || *rec.PriceAfter != 101 || rec.ProfitLoss != 9.5 {
		t.Errorf("result fields not copied: %+v", rec)
	}

	st := s.Statistics()
	if st.TotalDecisions != 1 || st.SuccessfulBuys != 1 {
		t.Errorf("unexpected statistics %+v", st)
	}
	acc := st.AccuracyByMarketCondition[bullCtx.Key()]
	if acc == nil || acc.Total != 1 || acc.Correct != 1 {
		t.Errorf("unexpected condition accuracy %+v", acc)
	}
}

func TestRecord_Counters(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Buy), result(false), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Sell), result(true), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Sell), result(false), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Sell), nil, bullCtx, models.IndicatorSnapshot{})

	st := s.Statistics()
	if st.SuccessfulBuys != 1 || st.FailedBuys != 1 || st.SuccessfulSells != 1 || st.FailedSells != 1 {
		t.Errorf("unexpected counters %+v", st)
	}
	if st.TotalDecisions != 5 {
		t.Errorf("TotalDecisions = %d, want 5", st.TotalDecisions)
	}
	buys, sells := s.BuySellCounts()
	if buys != 2 || sells != 3 {
		t.Errorf("BuySellCounts = %d/%d, want 2/3", buys, sells)
	}
}

func TestPatternExtraction(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{})
	}
	if len(s.Patterns()) != 0 {
		t.Fatal("two successes must not form a pattern")
	}

	s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{})
	patterns := s.Patterns()
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if p.Decision != models.Buy || p.Occurrences != 3 || p.SuccessRate != 1 || p.ID == "" {
		t.Errorf("unexpected pattern %+v", p)
	}

	// Repeated qualifying successes update the same entry.
	s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{})
	patterns = s.Patterns()
	if len(patterns) != 1 {
		t.Fatalf("expected pattern to be updated, got %d patterns", len(patterns))
	}
	if patterns[0].Occurrences != 4 || patterns[0].ID != p.ID {
		t.Errorf("unexpected updated pattern %+v", patterns[0])
	}
}

func TestPatternExtraction_RequiresSuccessRate(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	// 3 successes over 5 resolved = 0.6
	s.Record(ctx, testDecision(models.Sell), result(false), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Sell), result(false), bullCtx, models.IndicatorSnapshot{})
	for i := 0; i < 3; i++ {
		s.Record(ctx, testDecision(models.Sell), result(true), bullCtx, models.IndicatorSnapshot{})
	}
	if len(s.Patterns()) != 0 {
		t.Errorf("expected no pattern at 60%% success, got %+v", s.Patterns())
	}

	// 3 of 4 = 0.75 qualifies
	s2, _ := newTestStore(t, 100)
	s2.Record(ctx, testDecision(models.Sell), result(false), bullCtx, models.IndicatorSnapshot{})
	for i := 0; i < 3; i++ {
		s2.Record(ctx, testDecision(models.Sell), result(true), bullCtx, models.IndicatorSnapshot{})
	}
	if len(s2.Patterns()) != 1 {
		t.Fatalf("expected a pattern at 75%% success, got %d", len(s2.Patterns()))
	}
	if got := s2.Patterns()[0].SuccessRate; got != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", got)
	}
}

func TestRecommend(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	if rec := s.Recommend(bullCtx); rec != nil {
		t.Fatalf("expected no recommendation from empty store, got %+v", rec)
	}

	for i := 0; i < 3; i++ {
		s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{})
	}
	rec := s.Recommend(bullCtx)
	if rec == nil {
		t.Fatal("expected a recommendation")
	}
	if rec.Decision != models.Buy || rec.Confidence != 1 || rec.Occurrences != 3 {
		t.Errorf("unexpected recommendation %+v", rec)
	}

	other := models.MarketContext{Trend: models.TrendBearish, Volatility: models.VolatilityHigh, RSIExtreme: models.RSIOversold, Volume: models.VolumeHigh}
	if rec := s.Recommend(other); rec != nil {
		t.Errorf("expected no recommendation for dissimilar context, got %+v", rec)
	}
}

func TestEviction_KeepsMostRecentInOrder(t *testing.T) {
	s, _ := newTestStore(t, 5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		d := testDecision(models.Buy)
		d.Price = float64(100 + i)
		s.Record(ctx, d, nil, bullCtx, models.IndicatorSnapshot{})
	}
	if s.Len() != 5 {
		t.Fatalf("Len = %d, want 5", s.Len())
	}
	for i, rec := range s.Decisions() {
		if want := float64(103 + i); rec.PriceAtDecision != want {
			t.Errorf("record %d price = %v, want %v", i, rec.PriceAtDecision, want)
		}
	}
	if got := s.Statistics().TotalDecisions; got != 8 {
		t.Errorf("TotalDecisions = %d, want 8 (counters survive eviction)", got)
	}
}

func TestRecentAccuracyAndSuccessRate(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	if got := s.RecentAccuracy(20); got != 0.5 {
		t.Errorf("empty RecentAccuracy = %v, want 0.5", got)
	}
	if got := s.RecentSuccessRate(models.Buy, 10); got != 0.5 {
		t.Errorf("empty RecentSuccessRate = %v, want 0.5", got)
	}

	s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Buy), result(false), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Buy), result(false), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Sell), result(true), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, testDecision(models.Sell), nil, bullCtx, models.IndicatorSnapshot{})

	if got := s.RecentAccuracy(20); got != 0.5 {
		t.Errorf("RecentAccuracy = %v, want 0.5", got)
	}
	if got := s.RecentAccuracy(2); got != 1 {
		t.Errorf("RecentAccuracy(2) = %v, want 1 (pending ignored)", got)
	}
	if got, want := s.RecentSuccessRate(models.Buy, 10), 1.0/3.0; got != want {
		t.Errorf("RecentSuccessRate(BUY) = %v, want %v", got, want)
	}
	if got := s.RecentSuccessRate(models.Sell, 10); got != 1 {
		t.Errorf("RecentSuccessRate(SELL) = %v, want 1", got)
	}
}

func TestCancel(t *testing.T) {
	s, db := newTestStore(t, 100)
	ctx := context.Background()

	buy := testDecision(models.Buy)
	sell := testDecision(models.Sell)
	s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, buy, nil, bullCtx, models.IndicatorSnapshot{})
	s.Record(ctx, sell, nil, bullCtx, models.IndicatorSnapshot{})

	if n := s.Cancel(ctx, buy.ID, "unknown"); n != 1 {
		t.Fatalf("Cancel() = %d, want 1", n)
	}
	if n := s.Cancel(ctx, buy.ID); n != 0 {
		t.Errorf("second Cancel() = %d, want 0", n)
	}
	recs := s.Decisions()
	if recs[1].Result != models.OutcomeCancelled || recs[1].PatternType != models.PatternCancelled {
		t.Errorf("cancelled record = %+v", recs[1])
	}
	if buys, sells := s.BuySellCounts(); buys != 1 || sells != 1 {
		t.Errorf("BuySellCounts() = %d/%d, want 1/1", buys, sells)
	}
	if got := s.RecentAccuracy(3); got != 1 {
		t.Errorf("RecentAccuracy(3) = %v, want 1 (cancelled ignored)", got)
	}

	if n := s.CancelAllPending(ctx); n != 1 {
		t.Errorf("CancelAllPending() = %d, want 1", n)
	}
	if buys, sells := s.BuySellCounts(); buys != 1 || sells != 0 {
		t.Errorf("BuySellCounts() = %d/%d, want 1/0", buys, sells)
	}
	if got := s.Statistics().TotalDecisions; got != 3 {
		t.Errorf("TotalDecisions = %d, want 3", got)
	}

	loaded := New(db, Key, 100)
	if err := loaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i, rec := range loaded.Decisions()[1:] {
		if rec.Result != models.OutcomeCancelled {
			t.Errorf("loaded record %d result = %q, want cancelled", i+1, rec.Result)
		}
	}
}

func TestPersistence_RoundTrip(t *testing.T) {
	s, db := newTestStore(t, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{RSI: models.Float(55)})
	}
	if s.MemoryUsage() == 0 {
		t.Error("MemoryUsage should track the serialized size")
	}
	if s.LastSaved().IsZero() {
		t.Error("LastSaved should be set after a successful write")
	}

	loaded := New(db, Key, 100)
	if err := loaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 3 || len(loaded.Patterns()) != 1 {
		t.Errorf("loaded %d records and %d patterns, want 3 and 1", loaded.Len(), len(loaded.Patterns()))
	}
	if got := loaded.Statistics().SuccessfulBuys; got != 3 {
		t.Errorf("SuccessfulBuys = %d, want 3", got)
	}
	if rsi := loaded.Decisions()[0].Indicators.RSI; rsi == nil || *rsi != 55 {
		t.Errorf("indicator snapshot not restored: %v", rsi)
	}
}

func TestLoad_MissingKeyIsEmpty(t *testing.T) {
	s, _ := newTestStore(t, 100)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestLoad_UnknownVersion(t *testing.T) {
	s, db := newTestStore(t, 100)
	ctx := context.Background()
	_ = db.Set(ctx, Key, []byte(`{"version":99}`))
	if err := s.Load(ctx); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestLoad_MigratesLegacy(t *testing.T) {
	s, db := newTestStore(t, 100)
	ctx := context.Background()

	legacy := `{
		"decisions": [
			{"id": 1700000000000, "timestamp": "2024-01-01T00:00:00.000Z", "decision": "BUY",
			 "confidence": 0.66, "priceAtDecision": 42000, "priceAfter": 42100,
			 "result": "success", "profitLoss": 9.5,
			 "marketContext": {"trend": "bullish", "volatility": "low", "volumeTrend": "up", "rsiExtreme": "normal"},
			 "indicators": {"rsi": 61.2, "volume": 1200}, "patternType": "successful_buy"},
			{"id": 1700000005000, "timestamp": "2024-01-01T00:00:05.000Z", "decision": "SELL",
			 "confidence": 0.4, "priceAtDecision": 42100, "priceAfter": null,
			 "result": "pending", "marketContext": "unknown", "indicators": {}}
		],
		"patterns": [
			{"type": "successful_buy", "decision": "BUY", "successRate": 0.8, "occurrences": 4,
			 "marketContext": {"trend": "bullish", "volatility": "low", "rsiExtreme": "normal"},
			 "lastSeen": "2024-01-01T00:00:00.000Z"}
		],
		"statistics": {
			"totalDecisions": 2, "successfulBuys": 1,
			"accuracyByMarketCondition": {"{\"trend\":\"bullish\",\"volatility\":\"low\",\"rsiExtreme\":\"normal\"}": {"total": 1, "correct": 1}}
		}
	}`
	_ = db.Set(ctx, Key, []byte(legacy))

	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	recs := s.Decisions()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].ID != "1700000000000" {
		t.Errorf("numeric id not converted: %q", recs[0].ID)
	}
	if recs[0].MarketContext.Trend != models.TrendBullish || recs[0].MarketContext.Volume != "" {
		t.Errorf("unexpected migrated context %+v", recs[0].MarketContext)
	}
	if !recs[1].MarketContext.IsZero() || recs[1].Result != models.OutcomePending {
		t.Errorf("unexpected second record %+v", recs[1])
	}

	patterns := s.Patterns()
	if len(patterns) != 1 || patterns[0].ID == "" {
		t.Errorf("pattern id not generated: %+v", patterns)
	}

	key := models.MarketContext{Trend: models.TrendBullish, Volatility: models.VolatilityLow, RSIExtreme: models.RSINormal}.Key()
	if acc := s.Statistics().AccuracyByMarketCondition[key]; acc == nil || acc.Correct != 1 {
		t.Errorf("legacy condition key not migrated: %+v", s.Statistics().AccuracyByMarketCondition)
	}
}

func TestReset_PersistsEmptyState(t *testing.T) {
	s, db := newTestStore(t, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Record(ctx, testDecision(models.Buy), result(true), bullCtx, models.IndicatorSnapshot{})
	}
	s.Reset(ctx)
	if s.Len() != 0 || len(s.Patterns()) != 0 || s.Statistics().TotalDecisions != 0 {
		t.Fatal("reset should clear everything")
	}

	reloaded := New(db, Key, 100)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Len() != 0 || len(reloaded.Patterns()) != 0 {
		t.Errorf("reset state not persisted: %d records, %d patterns", reloaded.Len(), len(reloaded.Patterns()))
	}
}

type failingBlobs struct{}

func (failingBlobs) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (failingBlobs) Set(context.Context, string, []byte) error { return errors.New("down") }

func TestPersistFailureIsSwallowed(t *testing.T) {
	s := New(failingBlobs{}, Key, 100)
	rec := s.Record(context.Background(), testDecision(models.Sell), result(true), bullCtx, models.IndicatorSnapshot{})
	if rec.Result != models.OutcomeSuccess || s.Len() != 1 {
		t.Errorf("in-memory state should survive a failed write: %+v", rec)
	}
	if !s.LastSaved().IsZero() {
		t.Error("LastSaved should stay zero when writes fail")
	}
	if err := s.Load(context.Background()); err == nil {
		t.Error("expected Load to report the backend error")
	}
}
