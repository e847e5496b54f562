package scoring

import "context"

// FeatureSource supplies stored features for an entity when a score request
// carries none of its own.
type FeatureSource interface {
	Features(ctx context.Context, entityType, entityID string) (Features, error)
}

// StaticFeatureSource returns a fixed baseline feature vector for every
// entity. It stands in for a real feature store in development and tests.
type StaticFeatureSource struct{}

func NewStaticFeatureSource() *StaticFeatureSource {
	return &StaticFeatureSource{}
}

func (s *StaticFeatureSource) Features(_ context.Context, _, _ string) (Features, error) {
	return Features{
		FeatTxnCount24h:            5,
		FeatTxnSum24h:              1500.0,
		FeatTxnAvg24h:              300.0,
		"txn_count_7d":             25,
		"unique_counterparties_7d": 10,
		FeatDaysSinceOnboarding:    180,
		"kyc_risk_score":           0.2,
		"screening_matches":        0,
	}, nil
}

// contextFeatures lowers request context into feature space. Only the
// transaction amount maps today.
func contextFeatures(sc *ScoreContext) Features {
	if sc == nil || sc.Amount == nil {
		return nil
	}
	return Features{FeatTxnAmount: *sc.Amount}
}

// mergeFeatures layers maps left to right, later maps winning on key
// collisions.
func mergeFeatures(layers ...Features) Features {
	merged := Features{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
