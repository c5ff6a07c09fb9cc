package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/models"
	"github.com/rewired-gh/neurotrader/internal/storage"
)

// SessionKey is the default storage key of the session summary.
const SessionKey = "neuro_trader_lstm_model_v5"

const (
	sessionVersion     = 1
	sessionPredictions = 100
	sessionHistory     = 50
)

// BlobStore is the key-value boundary the session summary is persisted through.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Session is the compact persisted account summary.
type Session struct {
	Version           int               `json:"version"`
	Balance           float64           `json:"balance"`
	Evaluations       int               `json:"evaluations"`
	Predictions       []models.Decision `json:"predictions"`
	BalanceHistory    []BalancePoint    `json:"balanceHistory"`
	AccuracyHistory   []AccuracyPoint   `json:"accuracyHistory"`
	ConfidenceHistory []ConfidencePoint `json:"confidenceHistory"`
	SavedAt           time.Time         `json:"savedAt"`
}

// Session snapshots the last 100 predictions and the last 50 entries of each history.
func (l *Ledger) Session() Session {
	return Session{
		Version:           sessionVersion,
		Balance:           l.balance,
		Evaluations:       l.evaluations,
		Predictions:       cloneSlice(lastN(l.predictions, sessionPredictions)),
		BalanceHistory:    cloneSlice(lastN(l.balanceHistory, sessionHistory)),
		AccuracyHistory:   cloneSlice(lastN(l.accuracyHistory, sessionHistory)),
		ConfidenceHistory: cloneSlice(lastN(l.confidenceHistory, sessionHistory)),
		SavedAt:           l.now(),
	}
}

// Save writes the session summary under key.
func (l *Ledger) Save(ctx context.Context, store BlobStore, key string) error {
	data, err := json.Marshal(l.Session())
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load restores a saved session. A missing key keeps the initial state.
// Unversioned summaries only contribute their balance.
func (l *Ledger) Load(ctx context.Context, store BlobStore, key string) error {
	data, err := store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	var head struct {
		Version int      `json:"version"`
		Balance *float64 `json:"balance"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}

	switch head.Version {
	case 0:
		l.Reset()
		if head.Balance != nil && *head.Balance > 0 {
			l.balance = *head.Balance
			l.balanceHistory = []BalancePoint{{Time: l.now(), Balance: l.balance}}
		}
		logger.Warn("Loaded legacy session: balance %.2f restored, histories dropped", l.balance)
		return nil
	case sessionVersion:
	default:
		return fmt.Errorf("unsupported session version %d", head.Version)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}
	l.balance = s.Balance
	l.evaluations = max(s.Evaluations, len(s.Predictions))
	l.predictions = s.Predictions
	l.balanceHistory = s.BalanceHistory
	l.accuracyHistory = s.AccuracyHistory
	l.confidenceHistory = s.ConfidenceHistory
	if len(l.balanceHistory) == 0 {
		l.balanceHistory = []BalancePoint{{Time: l.now(), Balance: l.balance}}
	}
	l.trim()
	logger.Info("Loaded session: balance %.2f, %d predictions", l.balance, len(l.predictions))
	return nil
}
