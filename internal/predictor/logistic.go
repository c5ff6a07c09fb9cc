package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const weightsVersion = 1

// Logistic is a time-decayed logistic classifier over a feature window: each
// row is scored linearly, recent rows weigh more, and the blend goes through a
// sigmoid.
type Logistic struct {
	Weights [FeatureCount]float64 `json:"weights"`
	Bias    float64               `json:"bias"`
	Decay   float64               `json:"decay"`
}

// NewLogistic initialises small random weights from seed.
func NewLogistic(seed int64) *Logistic {
	r := rand.New(rand.NewPCG(uint64(seed), 0x6c6f6769))
	m := &Logistic{Decay: 0.9}
	for i := range m.Weights {
		m.Weights[i] = r.NormFloat64() * 0.1
	}
	return m
}

func (m *Logistic) Predict(features [][]float64) (float64, error) {
	if len(features) == 0 {
		return 0, ErrInsufficientHistory
	}
	var acc, norm float64
	w := 1.0
	for t := len(features) - 1; t >= 0; t-- {
		row := features[t]
		if len(row) != FeatureCount {
			return 0, fmt.Errorf("feature row %d has %d values, want %d", t, len(row), FeatureCount)
		}
		acc += w * m.score(row)
		norm += w
		w *= m.Decay
	}
	return sigmoid(m.Bias + acc/norm), nil
}

// Learn takes one gradient step toward label (1 for an up move, 0 otherwise).
func (m *Logistic) Learn(features [][]float64, label, rate float64) error {
	p, err := m.Predict(features)
	if err != nil {
		return err
	}
	grad := label - p

	var norm float64
	w := 1.0
	for range features {
		norm += w
		w *= m.Decay
	}
	var avg [FeatureCount]float64
	w = 1.0
	for t := len(features) - 1; t >= 0; t-- {
		for i, x := range features[t] {
			avg[i] += w * x / norm
		}
		w *= m.Decay
	}
	for i := range m.Weights {
		m.Weights[i] += rate * grad * avg[i]
	}
	m.Bias += rate * grad
	return nil
}

func (m *Logistic) score(row []float64) float64 {
	var s float64
	for i, x := range row {
		s += m.Weights[i] * x
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// BlobStore is the key-value boundary the weights are persisted through.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type weightsEnvelope struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Model   *Logistic `json:"model"`
}

// SaveLogistic writes m under key.
func SaveLogistic(ctx context.Context, store BlobStore, key string, m *Logistic) error {
	data, err := json.Marshal(weightsEnvelope{Version: weightsVersion, SavedAt: time.Now(), Model: m})
	if err != nil {
		return fmt.Errorf("failed to marshal model weights: %w", err)
	}
	if err := store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save model weights: %w", err)
	}
	return nil
}

// LoadLogistic reads weights saved by SaveLogistic. A missing key surfaces the
// store's not-found error unchanged.
func LoadLogistic(ctx context.Context, store BlobStore, key string) (*Logistic, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env weightsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model weights: %w", err)
	}
	if env.Version != weightsVersion {
		return nil, fmt.Errorf("unsupported model weights version %d", env.Version)
	}
	if env.Model == nil {
		return nil, fmt.Errorf("model weights blob is empty")
	}
	if env.Model.Decay <= 0 || env.Model.Decay > 1 {
		env.Model.Decay = 0.9
	}
	return env.Model, nil
}
