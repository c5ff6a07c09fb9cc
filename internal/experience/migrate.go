package experience

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/neurotrader/internal/models"
)

const currentVersion = 2

type snapshot struct {
	Version     int                       `json:"version"`
	Decisions   []models.ExperienceRecord `json:"decisions"`
	Patterns    []models.Pattern          `json:"patterns"`
	Statistics  models.Statistics         `json:"statistics"`
	MemoryUsage int                       `json:"memoryUsage"`
	SavedAt     time.Time                 `json:"savedAt"`
}

// decode reads any known version of the serialized store.
func decode(data []byte) (*snapshot, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var snap *snapshot
	switch head.Version {
	case currentVersion:
		snap = &snapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return nil, err
		}
	case 0, 1:
		var err error
		if snap, err = migrateLegacy(data); err != nil {
			return nil, fmt.Errorf("legacy version %d: %w", head.Version, err)
		}
	default:
		return nil, fmt.Errorf("unsupported experience version %d", head.Version)
	}

	if snap.Statistics.AccuracyByMarketCondition == nil {
		snap.Statistics.AccuracyByMarketCondition = map[string]*models.ConditionAccuracy{}
	}
	return snap, nil
}

// Legacy blobs carry numeric millisecond ids, patterns without ids and a
// market context that is either an object or the bare string "unknown".
type legacyStore struct {
	Decisions  []legacyRecord  `json:"decisions"`
	Patterns   []legacyPattern `json:"patterns"`
	Statistics struct {
		TotalDecisions            int                                  `json:"totalDecisions"`
		SuccessfulBuys            int                                  `json:"successfulBuys"`
		FailedBuys                int                                  `json:"failedBuys"`
		SuccessfulSells           int                                  `json:"successfulSells"`
		FailedSells               int                                  `json:"failedSells"`
		AccuracyByMarketCondition map[string]*models.ConditionAccuracy `json:"accuracyByMarketCondition"`
	} `json:"statistics"`
}

type legacyRecord struct {
	ID              legacyID                 `json:"id"`
	Timestamp       time.Time                `json:"timestamp"`
	Decision        models.Side              `json:"decision"`
	Confidence      float64                  `json:"confidence"`
	PriceAtDecision float64                  `json:"priceAtDecision"`
	PriceAfter      *float64                 `json:"priceAfter"`
	Result          models.Outcome           `json:"result"`
	ProfitLoss      float64                  `json:"profitLoss"`
	PatternType     string                   `json:"patternType"`
	MarketContext   legacyContext            `json:"marketContext"`
	Indicators      models.IndicatorSnapshot `json:"indicators"`
}

type legacyPattern struct {
	ID            legacyID      `json:"id"`
	Type          string        `json:"type"`
	Decision      models.Side   `json:"decision"`
	MarketContext legacyContext `json:"marketContext"`
	SuccessRate   float64       `json:"successRate"`
	Occurrences   int           `json:"occurrences"`
	LastSeen      time.Time     `json:"lastSeen"`
}

// legacyID accepts both JSON numbers and strings.
type legacyID string

func (id *legacyID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = legacyID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = legacyID(n.String())
	return nil
}

type legacyContext models.MarketContext

func (c *legacyContext) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || b[0] != '{' {
		*c = legacyContext{}
		return nil
	}
	var mc models.MarketContext
	if err := json.Unmarshal(b, &mc); err != nil {
		return err
	}
	*c = legacyContext(mc)
	return nil
}

func migrateLegacy(data []byte) (*snapshot, error) {
	var old legacyStore
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, err
	}

	snap := &snapshot{Version: currentVersion}
	for _, r := range old.Decisions {
		id := string(r.ID)
		if id == "" {
			id = uuid.New().String()
		}
		outcome := r.Result
		if outcome != models.OutcomeSuccess && outcome != models.OutcomeFailure {
			outcome = models.OutcomePending
		}
		patternType := r.PatternType
		if patternType == "" {
			patternType = models.PatternType(r.Decision, outcome)
		}
		snap.Decisions = append(snap.Decisions, models.ExperienceRecord{
			ID:              id,
			Timestamp:       r.Timestamp,
			Decision:        r.Decision,
			Confidence:      r.Confidence,
			PriceAtDecision: r.PriceAtDecision,
			PriceAfter:      r.PriceAfter,
			Result:          outcome,
			ProfitLoss:      r.ProfitLoss,
			PatternType:     patternType,
			MarketContext:   models.MarketContext(r.MarketContext),
			Indicators:      r.Indicators,
		})
	}
	for _, p := range old.Patterns {
		id := string(p.ID)
		if id == "" {
			id = uuid.New().String()
		}
		snap.Patterns = append(snap.Patterns, models.Pattern{
			ID:            id,
			Type:          p.Type,
			Decision:      p.Decision,
			MarketContext: models.MarketContext(p.MarketContext),
			SuccessRate:   p.SuccessRate,
			Occurrences:   p.Occurrences,
			LastSeen:      p.LastSeen,
		})
	}

	st := old.Statistics
	snap.Statistics = models.Statistics{
		TotalDecisions:            st.TotalDecisions,
		SuccessfulBuys:            st.SuccessfulBuys,
		FailedBuys:                st.FailedBuys,
		SuccessfulSells:           st.SuccessfulSells,
		FailedSells:               st.FailedSells,
		AccuracyByMarketCondition: map[string]*models.ConditionAccuracy{},
	}
	for key, acc := range st.AccuracyByMarketCondition {
		if acc == nil {
			continue
		}
		// Legacy keys are the JSON encoding of the context.
		var mc models.MarketContext
		if err := json.Unmarshal([]byte(key), &mc); err == nil {
			key = mc.Key()
		}
		if prev, ok := snap.Statistics.AccuracyByMarketCondition[key]; ok {
			prev.Total += acc.Total
			prev.Correct += acc.Correct
			continue
		}
		c := *acc
		snap.Statistics.AccuracyByMarketCondition[key] = &c
	}
	if snap.Statistics.TotalDecisions < len(snap.Decisions) {
		snap.Statistics.TotalDecisions = len(snap.Decisions)
	}
	return snap, nil
}
