// Package predictor turns the trailing candle window into a raw up-move
// probability. The classifier sits behind the Model interface; Logistic is the
// built-in implementation.
package predictor

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rewired-gh/neurotrader/internal/models"
)

// FeatureCount is the width of one feature row.
const FeatureCount = 8

// ErrInsufficientHistory is returned when fewer than lookback candles are available.
var ErrInsufficientHistory = errors.New("insufficient candle history for prediction")

// Model scores a window of feature rows, oldest first, as a probability in [0, 1].
type Model interface {
	Predict(features [][]float64) (float64, error)
}

// Row builds the feature row for one candle. Absent indicators take neutral
// defaults. noise fills slot 6; slot 7 is reserved and always zero.
func Row(c models.Candle, noise float64) []float64 {
	return []float64{
		c.Close / 100000,
		c.Volume / 1000000,
		models.Value(c.SMA7, c.Close) / 100000,
		models.Value(c.RSI, 50) / 100,
		models.Value(c.Change, 0) / 10,
		models.Value(c.Volatility, 0) / 1000,
		noise,
		0,
	}
}

// Window returns feature rows for the last lookback candles.
func Window(candles []models.Candle, lookback int, noise func() float64) ([][]float64, error) {
	if lookback < 1 || len(candles) < lookback {
		return nil, ErrInsufficientHistory
	}
	recent := candles[len(candles)-lookback:]
	rows := make([][]float64, len(recent))
	for i, c := range recent {
		n := 0.0
		if noise != nil {
			n = noise()
		}
		rows[i] = Row(c, n)
	}
	return rows, nil
}

// Predictor pairs a Model with the lookback it expects.
type Predictor struct {
	model    Model
	lookback int
	rng      *rand.Rand
}

// New returns a Predictor whose noise feature is drawn from a generator seeded with seed.
func New(model Model, lookback int, seed int64) *Predictor {
	return &Predictor{
		model:    model,
		lookback: lookback,
		rng:      rand.New(rand.NewPCG(uint64(seed), 0x6e657572)),
	}
}

// Model returns the wrapped classifier.
func (p *Predictor) Model() Model {
	return p.model
}

// SetModel swaps the classifier, for example after loading saved weights.
func (p *Predictor) SetModel(m Model) {
	p.model = m
}

// Predict scores candles. ok is false when there is not enough history yet;
// that case is not an error.
func (p *Predictor) Predict(candles []models.Candle) (prob float64, ok bool, err error) {
	prob, _, ok, err = p.PredictRows(candles)
	return prob, ok, err
}

// PredictRows is Predict that also returns the exact feature rows the model
// scored, noise included, so a later update trains on the same input.
func (p *Predictor) PredictRows(candles []models.Candle) (prob float64, rows [][]float64, ok bool, err error) {
	rows, err = Window(candles, p.lookback, func() float64 { return p.rng.Float64() * 0.1 })
	if errors.Is(err, ErrInsufficientHistory) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	prob, err = p.model.Predict(rows)
	if err != nil {
		return 0, nil, false, fmt.Errorf("model prediction failed: %w", err)
	}
	if prob < 0 || prob > 1 {
		return 0, nil, false, fmt.Errorf("model returned probability %v outside [0, 1]", prob)
	}
	return prob, rows, true, nil
}
