package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/idgen"
)

// Evaluator evaluates a rule set against combined records. The clock and id
// generator are injectable so evaluation stays deterministic in tests.
type Evaluator struct {
	now   func() time.Time
	newID func() string
}

// NewEvaluator creates an evaluator with the production clock and id source.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		now:   time.Now,
		newID: func() string { return idgen.WithPrefix("alert_") },
	}
}

// WithClock overrides the alert timestamp clock.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// WithIDSource overrides the alert id generator.
func (e *Evaluator) WithIDSource(newID func() string) *Evaluator {
	e.newID = newID
	return e
}

// Evaluate runs every rule, in order, against the combined record and
// returns one alert per triggered rule. Conditions within a rule are
// AND-composed and evaluated in order; the first failing or unresolvable
// condition stops that rule without error.
func (e *Evaluator) Evaluate(ruleSet []Rule, rec map[string]any) []events.Alert {
	var alerts []events.Alert
	for _, rule := range ruleSet {
		triggered, conditions := evalRule(rule, rec)
		if !triggered {
			continue
		}
		alerts = append(alerts, events.Alert{
			AlertID:             e.newID(),
			RuleID:              rule.RuleID,
			RuleName:            rule.RuleName,
			Severity:            rule.Severity,
			Score:               scoreOf(rec),
			TxnID:               stringOf(rec, "txn_id"),
			CustomerID:          stringOf(rec, "customer_id"),
			Explanation:         fmt.Sprintf("Transaction triggered rule: %s", rule.RuleName),
			TriggeredConditions: conditions,
			CreatedAt:           e.now().UTC(),
		})
	}
	return alerts
}

// CombinedRecord merges an enriched transaction with its score into the
// field-path view the rule language addresses.
func CombinedRecord(tx *events.EnrichedTransaction, score float64, riskLevel string) map[string]any {
	return map[string]any{
		"txn_id":          tx.TxnID,
		"customer_id":     tx.CustomerID,
		"counterparty_id": tx.CounterpartyID,
		"amount":          tx.Amount,
		"currency":        tx.Currency,
		"geo_data": map[string]any{
			"country": tx.Geo.Country,
			"city":    tx.Geo.City,
		},
		"customer_profile": map[string]any{
			"risk_tier":             tx.CustomerProfile.RiskTier,
			"days_since_onboarding": tx.CustomerProfile.DaysSinceOnboarding,
			"total_txn_count":       tx.CustomerProfile.TotalTxnCount,
			"avg_txn_amount":        tx.CustomerProfile.AvgTxnAmount,
			"kyc_status":            tx.CustomerProfile.KYCStatus,
		},
		"velocity_features": map[string]any{
			"txn_count_24h": tx.Velocity.TxnCount24h,
			"txn_sum_24h":   tx.Velocity.TxnSum24h,
			"txn_avg_24h":   tx.Velocity.TxnAvg24h,
		},
		"network_features": map[string]any{
			"counterparty_risk_score":   tx.Network.CounterpartyRiskScore,
			"shared_counterparty_count": tx.Network.SharedCounterpartyCount,
			"is_first_interaction":      tx.Network.IsFirstInteraction,
		},
		"score":      score,
		"risk_level": riskLevel,
	}
}

// evalRule returns whether every condition holds, plus the satisfied
// conditions in evaluation order.
func evalRule(rule Rule, rec map[string]any) (bool, []events.TriggeredCondition) {
	triggered := make([]events.TriggeredCondition, 0, len(rule.Conditions))
	for _, cond := range rule.Conditions {
		threshold := resolvePlaceholder(cond.Value)

		actual, ok := resolvePath(rec, cond.Field)
		if !ok {
			return false, nil
		}
		if !holds(actual, cond.Operator, threshold) {
			return false, nil
		}
		triggered = append(triggered, events.TriggeredCondition{
			Condition:   fmt.Sprintf("%s %s %v", cond.Field, cond.Operator, threshold),
			ActualValue: fmt.Sprintf("%v", actual),
			Threshold:   fmt.Sprintf("%v", threshold),
		})
	}
	return len(triggered) > 0, triggered
}

// resolvePlaceholder substitutes a single-token placeholder list (e.g.
// ["HIGH_RISK_COUNTRIES"]) with its configured value.
func resolvePlaceholder(value any) any {
	list, ok := value.([]any)
	if !ok || len(list) != 1 {
		return value
	}
	token, ok := list[0].(string)
	if !ok {
		return value
	}
	if sub, ok := placeholders[token]; ok {
		return sub
	}
	return value
}

// resolvePath walks the record left to right along a dotted path. A missing
// key or a non-mapping intermediate value makes the path unresolvable.
func resolvePath(rec map[string]any, path string) (any, bool) {
	var current any = rec
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// holds applies the operator. Type mismatches make the condition fail,
// never error — a record that can't be compared simply doesn't trigger.
func holds(actual any, op Operator, threshold any) bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat64(actual)
		b, bok := toFloat64(threshold)
		if !aok || !bok {
			return false
		}
		switch op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpEq:
		return equal(actual, threshold)
	case OpNe:
		return !equal(actual, threshold)
	case OpIn:
		return member(actual, threshold)
	case OpNotIn:
		return !member(actual, threshold)
	default:
		return false
	}
}

// equal compares numerics by value and everything else by rendered string.
func equal(a, b any) bool {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		return math.Abs(af-bf) < 1e-9
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func member(actual, threshold any) bool {
	list, ok := threshold.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if equal(actual, item) {
			return true
		}
	}
	return false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func scoreOf(rec map[string]any) float64 {
	if v, ok := rec["score"]; ok {
		if f, ok := toFloat64(v); ok {
			return f
		}
	}
	return 0
}

func stringOf(rec map[string]any, key string) string {
	if v, ok := rec[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
