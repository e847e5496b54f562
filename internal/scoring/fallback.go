package scoring

import "github.com/mbd888/riskflow/internal/events"

// FallbackModelVersion marks results produced locally when the external
// scorer was unreachable. Consumers can detect degraded-mode results by the
// "fallback:" prefix.
const FallbackModelVersion = "fallback:1.0.0"

// Fallback feature thresholds and weights. The function is a pure mapping
// from features to score: same input, same output, no clock, no randomness.
const (
	fallbackBase = 0.2

	highAmountThreshold = 10000
	highAmountWeight    = 0.3

	highVelocityThreshold = 20
	highVelocityWeight    = 0.2

	newCustomerThresholdDays = 30
	newCustomerWeight        = 0.15
)

// Fallback computes a deterministic heuristic score used whenever the
// external scorer times out, errors, or is circuit-broken.
func Fallback(features Features) *ScorerResponse {
	score := fallbackBase
	reasons := []events.ReasonCode{}

	if amount, ok := features[FeatTxnAmount]; ok && amount > highAmountThreshold {
		score += highAmountWeight
		reasons = append(reasons, events.ReasonCode{
			Code:         "HIGH_AMOUNT",
			Contribution: highAmountWeight,
			Description:  "Transaction amount exceeds high-value threshold",
		})
	}
	if count, ok := features[FeatTxnCount24h]; ok && count > highVelocityThreshold {
		score += highVelocityWeight
		reasons = append(reasons, events.ReasonCode{
			Code:         "HIGH_VELOCITY",
			Contribution: highVelocityWeight,
			Description:  "Transaction count in the last 24h exceeds velocity threshold",
		})
	}
	if days, ok := features[FeatDaysSinceOnboarding]; ok && days < newCustomerThresholdDays {
		score += newCustomerWeight
		reasons = append(reasons, events.ReasonCode{
			Code:         "NEW_CUSTOMER",
			Contribution: newCustomerWeight,
			Description:  "Customer onboarded within the last 30 days",
		})
	}

	if score > 1.0 {
		score = 1.0
	}

	return &ScorerResponse{
		Score:        score,
		Reasons:      reasons,
		ModelVersion: FallbackModelVersion,
	}
}
