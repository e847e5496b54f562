package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/idgen"
)

// PostgresDeadLetterStore implements DeadLetterStore using PostgreSQL.
type PostgresDeadLetterStore struct {
	db *sql.DB
}

// NewPostgresDeadLetterStore creates a PostgreSQL-backed dead-letter store.
func NewPostgresDeadLetterStore(db *sql.DB) *PostgresDeadLetterStore {
	return &PostgresDeadLetterStore{db: db}
}

// Migrate creates the dead_letters table.
func (p *PostgresDeadLetterStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dead_letters (
			id              VARCHAR(40) PRIMARY KEY,
			original_topic  VARCHAR(100) NOT NULL,
			original_event  JSONB NOT NULL,
			error_message   TEXT NOT NULL,
			error_type      VARCHAR(20) NOT NULL,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			failed_at       TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_dead_letters_type ON dead_letters(error_type, failed_at DESC);
	`)
	return err
}

// Save inserts one dead-letter row.
func (p *PostgresDeadLetterStore) Save(ctx context.Context, rec *events.DeadLetterRecord) error {
	payload, err := json.Marshal(rec.OriginalEvent)
	if err != nil {
		return fmt.Errorf("failed to encode dead-lettered event: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, original_topic, original_event, error_message, error_type, retry_count, failed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		idgen.WithPrefix("dlq_"), rec.OriginalTopic, payload,
		rec.ErrorMessage, rec.ErrorType, rec.RetryCount, rec.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

// MemoryDeadLetterStore keeps dead letters in memory.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	records []*events.DeadLetterRecord
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

func (s *MemoryDeadLetterStore) Save(_ context.Context, rec *events.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything saved so far.
func (s *MemoryDeadLetterStore) Records() []*events.DeadLetterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*events.DeadLetterRecord, len(s.records))
	copy(out, s.records)
	return out
}
