package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskflow/internal/events"
)

func fixedEvaluator() *Evaluator {
	n := 0
	return NewEvaluator().
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }).
		WithIDSource(func() string { n++; return fmt.Sprintf("alert_%04d", n) })
}

func baseRecord() map[string]any {
	tx := &events.EnrichedTransaction{
		TransactionEvent: events.TransactionEvent{
			TxnID:          "txn_1",
			CustomerID:     "cust_1",
			CounterpartyID: "cp_1",
			Amount:         500,
			Currency:       "USD",
			Geo:            events.GeoData{Country: "DE"},
		},
		CustomerProfile: events.CustomerProfile{
			RiskTier:            "medium",
			DaysSinceOnboarding: 180,
			TotalTxnCount:       150,
			AvgTxnAmount:        500,
			KYCStatus:           "verified",
		},
		Velocity: events.VelocityFeatures{TxnCount24h: 3, TxnSum24h: 1500, TxnAvg24h: 500},
	}
	return CombinedRecord(tx, 0.2, "LOW")
}

func TestQuietRecordTriggersNothing(t *testing.T) {
	alerts := fixedEvaluator().Evaluate(Default(), baseRecord())
	assert.Empty(t, alerts)
}

func TestHighValueTriggersRule001(t *testing.T) {
	rec := baseRecord()
	rec["amount"] = 10001.0

	alerts := fixedEvaluator().Evaluate(Default(), rec)
	require.Len(t, alerts, 1)
	assert.Equal(t, "RULE-001", alerts[0].RuleID)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "txn_1", alerts[0].TxnID)
	require.Len(t, alerts[0].TriggeredConditions, 1)
	assert.Equal(t, "10001", alerts[0].TriggeredConditions[0].ActualValue)
}

func TestEvaluationIsDeterministic(t *testing.T) {
	rec := baseRecord()
	rec["amount"] = 20000.0
	rec["score"] = 0.85

	a := fixedEvaluator().Evaluate(Default(), rec)
	b := fixedEvaluator().Evaluate(Default(), rec)
	assert.Equal(t, a, b, "same rules and record must yield the same alert sequence")
}

func TestAndCompositionRequiresAllConditions(t *testing.T) {
	// RULE-003 needs days_since_onboarding<30 AND amount>5000.
	newCustomerOnly := baseRecord()
	newCustomerOnly["customer_profile"].(map[string]any)["days_since_onboarding"] = 5

	highValueOnly := baseRecord()
	highValueOnly["amount"] = 6000.0

	both := baseRecord()
	both["customer_profile"].(map[string]any)["days_since_onboarding"] = 5
	both["amount"] = 6000.0

	rule3 := []Rule{Default()[2]}
	ev := fixedEvaluator()

	assert.Empty(t, ev.Evaluate(rule3, newCustomerOnly))
	assert.Empty(t, ev.Evaluate(rule3, highValueOnly))

	alerts := ev.Evaluate(rule3, both)
	require.Len(t, alerts, 1)
	assert.Len(t, alerts[0].TriggeredConditions, 2)
}

func TestUnresolvedPathDoesNotTrigger(t *testing.T) {
	rec := baseRecord()
	delete(rec, "customer_profile")

	rules := []Rule{{
		RuleID:   "R-MISSING",
		RuleName: "Missing Field",
		Severity: "low",
		Conditions: []Condition{
			{Field: "customer_profile.days_since_onboarding", Operator: OpLt, Value: 30},
		},
	}}
	assert.Empty(t, fixedEvaluator().Evaluate(rules, rec))
}

func TestNonMappingIntermediateDoesNotTrigger(t *testing.T) {
	rec := baseRecord()
	rec["customer_profile"] = "not a mapping"

	rules := []Rule{{
		RuleID:   "R-BADPATH",
		RuleName: "Bad Path",
		Severity: "low",
		Conditions: []Condition{
			{Field: "customer_profile.days_since_onboarding", Operator: OpLt, Value: 30},
		},
	}}
	assert.Empty(t, fixedEvaluator().Evaluate(rules, rec))
}

func TestHighRiskCountryPlaceholderSubstitution(t *testing.T) {
	rec := baseRecord()
	rec["geo_data"].(map[string]any)["country"] = "KP"

	alerts := fixedEvaluator().Evaluate(Default(), rec)
	require.Len(t, alerts, 1)
	assert.Equal(t, "RULE-005", alerts[0].RuleID)
	// The rendered threshold shows the substituted list, not the token.
	assert.Contains(t, alerts[0].TriggeredConditions[0].Threshold, "KP")
	assert.NotContains(t, alerts[0].TriggeredConditions[0].Threshold, "HIGH_RISK_COUNTRIES")
}

func TestFreshCustomerHighValueHighRiskCountry(t *testing.T) {
	// {amount:15000, country:KP, fresh customer, no prior velocity} must
	// trigger RULE-001, RULE-003, and RULE-005 — three distinct alerts.
	tx := &events.EnrichedTransaction{
		TransactionEvent: events.TransactionEvent{
			TxnID:      "txn_9",
			CustomerID: "C1",
			Amount:     15000,
			Currency:   "USD",
			Geo:        events.GeoData{Country: "KP"},
		},
		CustomerProfile: events.CustomerProfile{DaysSinceOnboarding: 3, KYCStatus: "pending"},
	}
	rec := CombinedRecord(tx, 0.2, "LOW")

	alerts := fixedEvaluator().Evaluate(Default(), rec)
	require.Len(t, alerts, 3)

	got := []string{alerts[0].RuleID, alerts[1].RuleID, alerts[2].RuleID}
	assert.Equal(t, []string{"RULE-001", "RULE-003", "RULE-005"}, got, "alerts follow configured rule order")
}

func TestOperators(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		actual    any
		threshold any
		want      bool
	}{
		{"gt true", OpGt, 10.0, 5, true},
		{"gt false on equal", OpGt, 5.0, 5, false},
		{"gte true on equal", OpGte, 5.0, 5, true},
		{"lt int vs float", OpLt, 3, 3.5, true},
		{"lte false", OpLte, 4.0, 3, false},
		{"eq numeric cross-type", OpEq, 5, 5.0, true},
		{"eq strings", OpEq, "USD", "USD", true},
		{"ne", OpNe, "USD", "EUR", true},
		{"in member", OpIn, "SY", []any{"IR", "SY"}, true},
		{"in non-member", OpIn, "DE", []any{"IR", "SY"}, false},
		{"not_in", OpNotIn, "DE", []any{"IR", "SY"}, true},
		{"gt non-numeric fails closed", OpGt, "high", 5, false},
		{"in non-list threshold fails closed", OpIn, "DE", "IR", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, holds(tt.actual, tt.op, tt.threshold))
		})
	}
}
