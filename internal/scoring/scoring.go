// Package scoring implements the risk score façade: idempotent per-entity
// score computation with a cache-first read path, a bounded external scorer
// call with deterministic fallback, write-through caching, best-effort audit
// persistence, and batch fan-out with per-item failure isolation.
package scoring

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/validation"
)

// RiskLevel buckets a score via fixed thresholds.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Classification thresholds: LOW < 0.3 <= MEDIUM < 0.6 <= HIGH < 0.8 <= CRITICAL.
const (
	thresholdMedium   = 0.3
	thresholdHigh     = 0.6
	thresholdCritical = 0.8
)

// ClassifyRiskLevel maps a score in [0,1] to its risk level.
func ClassifyRiskLevel(score float64) RiskLevel {
	switch {
	case score >= thresholdCritical:
		return RiskCritical
	case score >= thresholdHigh:
		return RiskHigh
	case score >= thresholdMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// PolicyAction is a recommended operational response derived from risk level.
type PolicyAction struct {
	Action   string `json:"action"`
	Priority int    `json:"priority"`
}

// PolicyActionsFor returns the fixed action table for a risk level. Applied
// identically on the online and batch paths.
func PolicyActionsFor(level RiskLevel) []PolicyAction {
	switch level {
	case RiskCritical:
		return []PolicyAction{
			{Action: "BLOCK", Priority: 1},
			{Action: "MANUAL_REVIEW", Priority: 2},
		}
	case RiskHigh:
		return []PolicyAction{
			{Action: "STEP_UP_AUTH", Priority: 1},
			{Action: "MANUAL_REVIEW", Priority: 2},
		}
	case RiskMedium:
		return []PolicyAction{
			{Action: "FLAG", Priority: 1},
		}
	default:
		return []PolicyAction{}
	}
}

// ScoreResult is the façade's response shape.
type ScoreResult struct {
	Score         float64             `json:"score"`
	RiskLevel     RiskLevel           `json:"risk_level"`
	Reasons       []events.ReasonCode `json:"reasons"`
	PolicyActions []PolicyAction      `json:"policy_actions"`
	ModelVersion  string              `json:"model_version"`
	ComputedAt    time.Time           `json:"computed_at"`
}

// Features is the numeric feature mapping passed to the scorer. Keys outside
// the enumerated set are carried through and ignored by consumers that do
// not understand them.
type Features map[string]float64

// Enumerated feature keys.
const (
	FeatTxnAmount             = "txn_amount"
	FeatTxnCount24h           = "txn_count_24h"
	FeatTxnSum24h             = "txn_sum_24h"
	FeatTxnAvg24h             = "txn_avg_24h"
	FeatDaysSinceOnboarding   = "days_since_onboarding"
	FeatTotalTxnCount         = "total_txn_count"
	FeatCounterpartyRiskScore = "counterparty_risk_score"
)

// FromEnriched extracts the scorer feature vector from an enriched
// transaction.
func FromEnriched(tx *events.EnrichedTransaction) Features {
	return Features{
		FeatTxnAmount:             tx.Amount,
		FeatTxnCount24h:           float64(tx.Velocity.TxnCount24h),
		FeatTxnSum24h:             tx.Velocity.TxnSum24h,
		FeatTxnAvg24h:             tx.Velocity.TxnAvg24h,
		FeatDaysSinceOnboarding:   float64(tx.CustomerProfile.DaysSinceOnboarding),
		FeatTotalTxnCount:         float64(tx.CustomerProfile.TotalTxnCount),
		FeatCounterpartyRiskScore: tx.Network.CounterpartyRiskScore,
	}
}

// ScoreContext carries optional request context merged into the feature
// mapping at lower precedence than explicit features.
type ScoreContext struct {
	UseCase  string   `json:"use_case,omitempty"`
	Amount   *float64 `json:"amount,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// ScoreRequest identifies the entity to score plus optional context and
// pre-computed features.
type ScoreRequest struct {
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Context    *ScoreContext `json:"context,omitempty"`
	Features   Features      `json:"features,omitempty"`
}

// Validate checks the request precondition.
func (r *ScoreRequest) Validate() error {
	if r.EntityType == "" {
		return fmt.Errorf("%w: entity_type is required", ErrInvalidRequest)
	}
	if r.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidRequest)
	}
	if !validation.IsValidID(r.EntityID) {
		return fmt.Errorf("%w: entity_id is malformed", ErrInvalidRequest)
	}
	return nil
}

// BatchResult is one slot of a batch response: exactly one of Result or
// Error is set.
type BatchResult struct {
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Result     *ScoreResult `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Sentinel errors for the façade.
var (
	ErrInvalidRequest    = errors.New("invalid score request")
	ErrBatchTooLarge     = errors.New("batch exceeds maximum size")
	ErrScorerUnavailable = errors.New("scorer unavailable")
)
