package scoring

import (
	"context"
	"sync"
	"time"
)

// StoredScore is one audit row: the result plus the features that produced
// it.
type StoredScore struct {
	ID         string
	EntityType string
	EntityID   string
	Result     ScoreResult
	Features   Features
	CreatedAt  time.Time
}

// Store persists computed scores for audit. Persistence is best-effort on
// the scoring path: a store failure never fails the score request.
type Store interface {
	Record(ctx context.Context, entityType, entityID string, result *ScoreResult, features Features) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*StoredScore, error)
	// ListPage returns scores strictly older than the (before, beforeID)
	// position, newest first. A zero before means "from the newest".
	ListPage(ctx context.Context, entityType, entityID string, before time.Time, beforeID string, limit int) ([]*StoredScore, error)
}

// MemoryStore keeps score history in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	scores []*StoredScore
	newID  func() string
	now    func() time.Time
}

func NewMemoryStore(newID func() string, now func() time.Time) *MemoryStore {
	return &MemoryStore{newID: newID, now: now}
}

func (s *MemoryStore) Record(_ context.Context, entityType, entityID string, result *ScoreResult, features Features) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, &StoredScore{
		ID:         s.newID(),
		EntityType: entityType,
		EntityID:   entityID,
		Result:     *result,
		Features:   features,
		CreatedAt:  s.now().UTC(),
	})
	return nil
}

func (s *MemoryStore) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*StoredScore, error) {
	return s.ListPage(ctx, entityType, entityID, time.Time{}, "", limit)
}

func (s *MemoryStore) ListPage(_ context.Context, entityType, entityID string, before time.Time, beforeID string, limit int) ([]*StoredScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*StoredScore
	// Newest first.
	for i := len(s.scores) - 1; i >= 0; i-- {
		sc := s.scores[i]
		if sc.EntityType != entityType || sc.EntityID != entityID {
			continue
		}
		if !before.IsZero() && !olderThan(sc, before, beforeID) {
			continue
		}
		out = append(out, sc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// olderThan orders rows by (created_at, id) descending, matching the SQL
// row comparison used by the PostgreSQL store.
func olderThan(sc *StoredScore, before time.Time, beforeID string) bool {
	if sc.CreatedAt.Before(before) {
		return true
	}
	return sc.CreatedAt.Equal(before) && sc.ID < beforeID
}
