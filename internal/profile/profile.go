// Package profile provides the read-only customer profile lookup consumed by
// the enrichment stage. Unknown customers resolve to a documented default
// profile; infrastructure errors propagate to the caller.
package profile

import (
	"context"

	"github.com/mbd888/riskflow/internal/events"
)

// Store looks up customer profiles by id.
type Store interface {
	Get(ctx context.Context, customerID string) (*events.CustomerProfile, error)
}

// Default is the profile assumed for customers without a stored record:
// an established, verified, medium-tier customer.
func Default() *events.CustomerProfile {
	return &events.CustomerProfile{
		RiskTier:            "medium",
		DaysSinceOnboarding: 180,
		TotalTxnCount:       150,
		AvgTxnAmount:        500.0,
		KYCStatus:           "verified",
	}
}
