// Package rules implements the declarative transaction monitoring rule
// language: ordered rules of AND-composed conditions evaluated against the
// combined enriched+scored record. Evaluation is a pure function of its
// inputs and has no side effects.
package rules

import "fmt"

// Operator is a condition comparison operator.
type Operator string

const (
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpEq    Operator = "eq"
	OpNe    Operator = "ne"
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
)

var validOperators = map[Operator]bool{
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpEq: true, OpNe: true, OpIn: true, OpNotIn: true,
}

// Severity levels accepted in rule definitions.
var validSeverities = map[string]bool{
	"low": true, "medium": true, "high": true, "critical": true,
}

// Condition compares a dot-path field of the record against a value.
type Condition struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    any      `yaml:"value" json:"value"`
}

// Rule is an ordered set of conditions; all must hold to raise an alert.
type Rule struct {
	RuleID     string      `yaml:"rule_id" json:"rule_id"`
	RuleName   string      `yaml:"rule_name" json:"rule_name"`
	Severity   string      `yaml:"severity" json:"severity"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

// Validate checks the structural invariants of a rule set.
func Validate(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.RuleID == "" {
			return fmt.Errorf("rule %d: rule_id is required", i)
		}
		if seen[r.RuleID] {
			return fmt.Errorf("rule %s: duplicate rule_id", r.RuleID)
		}
		seen[r.RuleID] = true
		if r.RuleName == "" {
			return fmt.Errorf("rule %s: rule_name is required", r.RuleID)
		}
		if !validSeverities[r.Severity] {
			return fmt.Errorf("rule %s: invalid severity %q", r.RuleID, r.Severity)
		}
		if len(r.Conditions) == 0 {
			return fmt.Errorf("rule %s: at least one condition is required", r.RuleID)
		}
		for j, c := range r.Conditions {
			if c.Field == "" {
				return fmt.Errorf("rule %s condition %d: field is required", r.RuleID, j)
			}
			if !validOperators[c.Operator] {
				return fmt.Errorf("rule %s condition %d: invalid operator %q", r.RuleID, j, c.Operator)
			}
			if c.Value == nil {
				return fmt.Errorf("rule %s condition %d: value is required", r.RuleID, j)
			}
		}
	}
	return nil
}

// HighRiskCountries is the sanction/high-risk country list substituted for
// the HIGH_RISK_COUNTRIES placeholder at evaluation time.
var HighRiskCountries = []string{"IR", "KP", "SY", "CU"}

// placeholders maps placeholder tokens appearing as a condition's sole list
// element to the value substituted at evaluation time. Config stays free of
// the concrete country list; policy owns it here.
var placeholders = map[string]any{
	"HIGH_RISK_COUNTRIES": toAnySlice(HighRiskCountries),
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Default returns the built-in monitoring rule set, used when no rules file
// is configured.
func Default() []Rule {
	return []Rule{
		{
			RuleID:   "RULE-001",
			RuleName: "High Value Transaction",
			Severity: "high",
			Conditions: []Condition{
				{Field: "amount", Operator: OpGt, Value: 10000},
			},
		},
		{
			RuleID:   "RULE-002",
			RuleName: "Unusual Transaction Velocity",
			Severity: "medium",
			Conditions: []Condition{
				{Field: "velocity_features.txn_count_24h", Operator: OpGt, Value: 50},
			},
		},
		{
			RuleID:   "RULE-003",
			RuleName: "New Customer High Value",
			Severity: "high",
			Conditions: []Condition{
				{Field: "customer_profile.days_since_onboarding", Operator: OpLt, Value: 30},
				{Field: "amount", Operator: OpGt, Value: 5000},
			},
		},
		{
			RuleID:   "RULE-004",
			RuleName: "High Risk Score",
			Severity: "critical",
			Conditions: []Condition{
				{Field: "score", Operator: OpGte, Value: 0.8},
			},
		},
		{
			RuleID:   "RULE-005",
			RuleName: "Unusual Geographic Pattern",
			Severity: "medium",
			Conditions: []Condition{
				{Field: "geo_data.country", Operator: OpIn, Value: []any{"HIGH_RISK_COUNTRIES"}},
			},
		},
	}
}
