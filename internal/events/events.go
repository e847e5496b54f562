// Package events defines the canonical event schemas and channel names for
// the transaction decisioning pipeline. Every other package consumes these
// types; this package holds no logic beyond validation.
package events

import (
	"fmt"
	"time"

	"github.com/mbd888/riskflow/internal/validation"
)

// Channel subjects for the pipeline's event streams.
const (
	TopicIngested   = "risk.txn.ingested.v1"
	TopicEnriched   = "risk.txn.enriched.v1"
	TopicScored     = "risk.txn.scored.v1"
	TopicAlert      = "risk.alert.raised.v1"
	TopicDeadLetter = "risk.dlq.v1"
)

// GeoData carries the geographic context of a transaction.
type GeoData struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
}

// TransactionEvent is the raw ingested transaction. Immutable once ingested;
// consumed exactly once per pipeline run.
type TransactionEvent struct {
	TxnID          string    `json:"txn_id"`
	CustomerID     string    `json:"customer_id"`
	CounterpartyID string    `json:"counterparty_id"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Timestamp      time.Time `json:"timestamp"`
	Geo            GeoData   `json:"geo_data"`
}

// Validate checks the minimal shape required to process the event.
func (e *TransactionEvent) Validate() error {
	if errs := validation.Validate(
		validation.Required("txn_id", e.TxnID),
		validation.ValidID("txn_id", e.TxnID),
		validation.Required("customer_id", e.CustomerID),
		validation.ValidID("customer_id", e.CustomerID),
		validation.ValidID("counterparty_id", e.CounterpartyID),
		validation.ValidCurrency("currency", e.Currency),
		validation.MaxLength("geo_data.city", e.Geo.City, 128),
	); len(errs) > 0 {
		return errs
	}
	if e.Amount < 0 {
		return fmt.Errorf("amount must be non-negative, got %v", e.Amount)
	}
	return nil
}

// CustomerProfile is the read-only profile record joined in during enrichment.
type CustomerProfile struct {
	RiskTier            string  `json:"risk_tier"`
	DaysSinceOnboarding int     `json:"days_since_onboarding"`
	TotalTxnCount       int     `json:"total_txn_count"`
	AvgTxnAmount        float64 `json:"avg_txn_amount"`
	KYCStatus           string  `json:"kyc_status"`
}

// VelocityFeatures are the rolling per-customer counters plus the derived
// average. The average is computed at enrichment time, never stored.
type VelocityFeatures struct {
	TxnCount24h int     `json:"txn_count_24h"`
	TxnSum24h   float64 `json:"txn_sum_24h"`
	TxnAvg24h   float64 `json:"txn_avg_24h"`
}

// NetworkFeatures describe the customer/counterparty relationship.
type NetworkFeatures struct {
	CounterpartyRiskScore   float64 `json:"counterparty_risk_score"`
	SharedCounterpartyCount int     `json:"shared_counterparty_count"`
	IsFirstInteraction      bool    `json:"is_first_interaction"`
}

// EnrichedTransaction is the raw event joined with profile, velocity, and
// network features. Created once per event, immutable thereafter.
type EnrichedTransaction struct {
	TransactionEvent

	CustomerProfile CustomerProfile  `json:"customer_profile"`
	Velocity        VelocityFeatures `json:"velocity_features"`
	Network         NetworkFeatures  `json:"network_features"`
	EnrichedAt      time.Time        `json:"enriched_at"`
}

// ReasonCode is a single contributing factor in a score explanation.
type ReasonCode struct {
	Code         string  `json:"code"`
	Contribution float64 `json:"contribution"`
	Description  string  `json:"description"`
}

// ScoredTransaction is the payload published to the scored channel.
type ScoredTransaction struct {
	TxnID        string       `json:"txn_id"`
	CustomerID   string       `json:"customer_id"`
	Score        float64      `json:"score"`
	RiskLevel    string       `json:"risk_level"`
	ModelVersion string       `json:"model_version"`
	Reasons      []ReasonCode `json:"reasons"`
	ScoredAt     time.Time    `json:"scored_at"`
}

// TriggeredCondition records one satisfied rule condition with its resolved
// actual and threshold values rendered for display.
type TriggeredCondition struct {
	Condition   string `json:"condition"`
	ActualValue string `json:"actual_value"`
	Threshold   string `json:"threshold"`
}

// Alert is raised for each rule whose conditions all hold.
type Alert struct {
	AlertID             string               `json:"alert_id"`
	RuleID              string               `json:"rule_id"`
	RuleName            string               `json:"rule_name"`
	Severity            string               `json:"severity"`
	Score               float64              `json:"score"`
	TxnID               string               `json:"txn_id"`
	CustomerID          string               `json:"customer_id"`
	Explanation         string               `json:"explanation"`
	TriggeredConditions []TriggeredCondition `json:"triggered_conditions"`
	CreatedAt           time.Time            `json:"created_at"`
}

// DeadLetterRecord wraps an event that failed processing. RetryCount starts
// at zero; this pipeline does not retry — a downstream redelivery component
// increments it.
type DeadLetterRecord struct {
	OriginalTopic string            `json:"original_topic"`
	OriginalEvent *TransactionEvent `json:"original_event"`
	ErrorMessage  string            `json:"error_message"`
	ErrorType     string            `json:"error_type"`
	RetryCount    int               `json:"retry_count"`
	FailedAt      time.Time         `json:"failed_at"`
}
