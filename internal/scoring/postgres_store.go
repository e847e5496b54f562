package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/riskflow/internal/idgen"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed score audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_scores table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_scores (
			id              VARCHAR(40) PRIMARY KEY,
			entity_type     VARCHAR(30) NOT NULL,
			entity_id       VARCHAR(255) NOT NULL,
			score           DOUBLE PRECISION NOT NULL,
			risk_level      VARCHAR(10) NOT NULL,
			model_version   VARCHAR(100) NOT NULL,
			reasons         JSONB NOT NULL DEFAULT '[]',
			policy_actions  JSONB NOT NULL DEFAULT '[]',
			features        JSONB NOT NULL DEFAULT '{}',
			computed_at     TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_scores_entity ON risk_scores(entity_type, entity_id, created_at DESC);
	`)
	return err
}

// Record inserts one audit row.
func (p *PostgresStore) Record(ctx context.Context, entityType, entityID string, result *ScoreResult, features Features) error {
	reasons, err := json.Marshal(result.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}
	actions, err := json.Marshal(result.PolicyActions)
	if err != nil {
		return fmt.Errorf("failed to encode policy actions: %w", err)
	}
	feats, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO risk_scores (
			id, entity_type, entity_id, score, risk_level,
			model_version, reasons, policy_actions, features, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		idgen.WithPrefix("score_"), entityType, entityID, result.Score, string(result.RiskLevel),
		result.ModelVersion, reasons, actions, feats, result.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert risk score: %w", err)
	}
	return nil
}

// ListByEntity returns the most recent scores for an entity, newest first.
func (p *PostgresStore) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*StoredScore, error) {
	return p.ListPage(ctx, entityType, entityID, time.Time{}, "", limit)
}

// ListPage returns scores strictly older than the (before, beforeID) cursor
// position, newest first. A zero before starts from the newest row.
func (p *PostgresStore) ListPage(ctx context.Context, entityType, entityID string, before time.Time, beforeID string, limit int) ([]*StoredScore, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, entity_type, entity_id, score, risk_level,
		       model_version, reasons, policy_actions, features, computed_at, created_at
		FROM risk_scores
		WHERE entity_type = $1 AND entity_id = $2`
	args := []any{entityType, entityID}
	if !before.IsZero() {
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, before, beforeID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk scores: %w", err)
	}
	defer rows.Close()

	var out []*StoredScore
	for rows.Next() {
		var (
			sc       StoredScore
			level    string
			reasons  []byte
			actions  []byte
			feats    []byte
			computed time.Time
		)
		if err := rows.Scan(&sc.ID, &sc.EntityType, &sc.EntityID, &sc.Result.Score, &level,
			&sc.Result.ModelVersion, &reasons, &actions, &feats, &computed, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk score: %w", err)
		}
		sc.Result.RiskLevel = RiskLevel(level)
		sc.Result.ComputedAt = computed
		if err := json.Unmarshal(reasons, &sc.Result.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons: %w", err)
		}
		if err := json.Unmarshal(actions, &sc.Result.PolicyActions); err != nil {
			return nil, fmt.Errorf("failed to decode policy actions: %w", err)
		}
		if err := json.Unmarshal(feats, &sc.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}
