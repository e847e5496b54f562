package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbd888/riskflow/internal/events"
)

// PostgresStore reads customer profiles from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, customerID string) (*events.CustomerProfile, error) {
	var p events.CustomerProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT risk_tier, days_since_onboarding, total_txn_count, avg_txn_amount, kyc_status
		FROM customer_profiles
		WHERE customer_id = $1
	`, customerID).Scan(
		&p.RiskTier,
		&p.DaysSinceOnboarding,
		&p.TotalTxnCount,
		&p.AvgTxnAmount,
		&p.KYCStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer profile: %w", err)
	}
	return &p, nil
}
