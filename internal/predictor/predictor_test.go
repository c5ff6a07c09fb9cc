package predictor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/neurotrader/internal/indicators"
	"github.com/rewired-gh/neurotrader/internal/models"
	"github.com/rewired-gh/neurotrader/internal/storage"
)

func flatCandles(n int, price float64) []models.Candle {
	base := time.Unix(1700000000, 0)
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   price,
			High:   price * 1.01,
			Low:    price * 0.99,
			Close:  price + float64(i%3),
			Volume: 1000,
		}
	}
	return candles
}

func TestRow_Defaults(t *testing.T) {
	c := models.Candle{Close: 50000, Volume: 2000000}
	got := Row(c, 0.05)
	want := []float64{0.5, 2, 0.5, 0.5, 0, 0, 0.05, 0}
	if len(got) != FeatureCount {
		t.Fatalf("row has %d features, want %d", len(got), FeatureCount)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("feature %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRow_UsesIndicators(t *testing.T) {
	c := models.Candle{
		Close:      100000,
		Volume:     0,
		SMA7:       models.Float(90000),
		RSI:        models.Float(70),
		Change:     models.Float(-2),
		Volatility: models.Float(500),
	}
	got := Row(c, 0)
	want := []float64{1, 0, 0.9, 0.7, -0.2, 0.5, 0, 0}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("feature %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWindow(t *testing.T) {
	candles := flatCandles(60, 100)

	if _, err := Window(candles[:49], 50, nil); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("49 candles: expected ErrInsufficientHistory, got %v", err)
	}

	rows, err := Window(candles, 50, nil)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(rows) != 50 {
		t.Fatalf("got %d rows, want 50", len(rows))
	}
	if rows[49][0] != candles[59].Close/100000 {
		t.Errorf("last row does not match last candle")
	}
	if rows[0][0] != candles[10].Close/100000 {
		t.Errorf("first row does not match candle 10")
	}
}

func TestPredictor_InsufficientHistoryIsNotAnError(t *testing.T) {
	p := New(NewLogistic(1), 50, 1)
	prob, ok, err := p.Predict(flatCandles(30, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || prob != 0 {
		t.Errorf("expected no prediction, got ok=%v prob=%v", ok, prob)
	}
}

func TestPredictor_Deterministic(t *testing.T) {
	candles := indicators.Compute(flatCandles(80, 50000))

	a := New(NewLogistic(7), 50, 7)
	b := New(NewLogistic(7), 50, 7)
	pa, ok, err := a.Predict(candles)
	if err != nil || !ok {
		t.Fatalf("Predict: ok=%v err=%v", ok, err)
	}
	pb, _, _ := b.Predict(candles)
	if pa != pb {
		t.Errorf("same seed gave %v and %v", pa, pb)
	}
	if pa < 0 || pa > 1 {
		t.Errorf("probability %v outside [0, 1]", pa)
	}
}

type constModel struct {
	p   float64
	err error
}

func (m constModel) Predict([][]float64) (float64, error) { return m.p, m.err }

func TestPredictor_ModelErrors(t *testing.T) {
	candles := flatCandles(50, 100)
	tests := []struct {
		name  string
		model Model
	}{
		{"model error", constModel{err: errors.New("boom")}},
		{"out of range", constModel{p: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := New(tt.model, 50, 1).Predict(candles)
			if err == nil || ok {
				t.Errorf("expected error, got ok=%v err=%v", ok, err)
			}
		})
	}
}

type recordingModel struct {
	seen [][]float64
}

func (m *recordingModel) Predict(rows [][]float64) (float64, error) {
	m.seen = rows
	return 0.6, nil
}

func TestPredictor_PredictRowsReturnsScoredInput(t *testing.T) {
	m := &recordingModel{}
	p := New(m, 20, 3)
	prob, rows, ok, err := p.PredictRows(indicators.Compute(flatCandles(40, 100)))
	if err != nil || !ok || prob != 0.6 {
		t.Fatalf("PredictRows: prob=%v ok=%v err=%v", prob, ok, err)
	}
	if len(rows) != 20 || len(m.seen) != 20 {
		t.Fatalf("rows = %d, model saw %d, want 20", len(rows), len(m.seen))
	}
	noisy := false
	for i := range rows {
		for j := range rows[i] {
			if rows[i][j] != m.seen[i][j] {
				t.Fatalf("row %d col %d = %v, model scored %v", i, j, rows[i][j], m.seen[i][j])
			}
		}
		if rows[i][6] != 0 {
			noisy = true
		}
	}
	if !noisy {
		t.Error("noise slot is zero in every returned row")
	}

	_, rows, ok, err = p.PredictRows(flatCandles(5, 100))
	if err != nil || ok || rows != nil {
		t.Errorf("short history: rows=%v ok=%v err=%v", rows, ok, err)
	}
}

func TestLogistic_RejectsBadRows(t *testing.T) {
	m := NewLogistic(1)
	if _, err := m.Predict(nil); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("empty window: expected ErrInsufficientHistory, got %v", err)
	}
	if _, err := m.Predict([][]float64{{1, 2, 3}}); err == nil {
		t.Error("expected error for short row")
	}
}

func TestLogistic_LearnMovesTowardLabel(t *testing.T) {
	rows, err := Window(flatCandles(50, 50000), 50, nil)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}

	for _, label := range []float64{0, 1} {
		m := NewLogistic(3)
		before, _ := m.Predict(rows)
		if err := m.Learn(rows, label, 0.5); err != nil {
			t.Fatalf("Learn: %v", err)
		}
		after, _ := m.Predict(rows)
		if label == 1 && after <= before {
			t.Errorf("label 1: probability went %v -> %v", before, after)
		}
		if label == 0 && after >= before {
			t.Errorf("label 0: probability went %v -> %v", before, after)
		}
	}
}

func TestLogistic_SaveLoad(t *testing.T) {
	store, err := storage.NewSQLite(10, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, err := LoadLogistic(ctx, store, "weights"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound before save, got %v", err)
	}

	m := NewLogistic(11)
	m.Bias = 0.25
	if err := SaveLogistic(ctx, store, "weights", m); err != nil {
		t.Fatalf("SaveLogistic: %v", err)
	}
	got, err := LoadLogistic(ctx, store, "weights")
	if err != nil {
		t.Fatalf("LoadLogistic: %v", err)
	}
	if got.Weights != m.Weights || got.Bias != m.Bias || got.Decay != m.Decay {
		t.Errorf("loaded %+v, want %+v", got, m)
	}
}

func TestLogistic_LoadRejectsUnknownVersion(t *testing.T) {
	store, err := storage.NewSQLite(10, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	_ = store.Set(ctx, "weights", []byte(`{"version":9,"model":{"decay":0.9}}`))
	if _, err := LoadLogistic(ctx, store, "weights"); err == nil {
		t.Error("expected error for unknown version")
	}
}
