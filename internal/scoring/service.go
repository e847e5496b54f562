package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/metrics"
)

// Defaults for the façade.
const (
	DefaultScorerTimeout    = 5 * time.Second
	DefaultBatchMax         = 100
	DefaultBatchConcurrency = 8
)

// Service is the scoring façade. ComputeScore always returns a result:
// scorer failures degrade to the deterministic fallback, and cache or store
// failures are logged and swallowed.
type Service struct {
	scorer           Scorer
	cache            Cache
	store            Store
	features         FeatureSource
	logger           *slog.Logger
	scorerTimeout    time.Duration
	batchMax         int
	batchConcurrency int
	now              func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore enables best-effort audit persistence.
func WithStore(store Store) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithFeatureSource sets the store consulted when a request carries no
// features of its own.
func WithFeatureSource(src FeatureSource) ServiceOption {
	return func(s *Service) { s.features = src }
}

// WithScorerTimeout bounds each external scorer call.
func WithScorerTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.scorerTimeout = d
		}
	}
}

// WithBatchLimits sets the batch size cap and worker concurrency.
func WithBatchLimits(max, concurrency int) ServiceOption {
	return func(s *Service) {
		if max > 0 {
			s.batchMax = max
		}
		if concurrency > 0 {
			s.batchConcurrency = concurrency
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the computed_at clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the scoring façade.
func NewService(scorer Scorer, cache Cache, opts ...ServiceOption) *Service {
	s := &Service{
		scorer:           scorer,
		cache:            cache,
		logger:           slog.Default(),
		scorerTimeout:    DefaultScorerTimeout,
		batchMax:         DefaultBatchMax,
		batchConcurrency: DefaultBatchConcurrency,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ComputeScore computes a fresh score for an entity. Feature precedence,
// lowest to highest: feature store, request context, explicit features.
func (s *Service) ComputeScore(ctx context.Context, req *ScoreRequest) (*ScoreResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	features, err := s.resolveFeatures(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := s.score(ctx, features)

	level := ClassifyRiskLevel(resp.Score)
	result := &ScoreResult{
		Score:         resp.Score,
		RiskLevel:     level,
		Reasons:       resp.Reasons,
		PolicyActions: PolicyActionsFor(level),
		ModelVersion:  resp.ModelVersion,
		ComputedAt:    s.now().UTC(),
	}
	if result.Reasons == nil {
		result.Reasons = []events.ReasonCode{}
	}

	if err := s.cache.Set(ctx, req.EntityType, req.EntityID, result); err != nil {
		s.logger.Warn("score cache write failed",
			"entity_type", req.EntityType, "entity_id", req.EntityID, "error", err)
	}
	if s.store != nil {
		if err := s.store.Record(ctx, req.EntityType, req.EntityID, result, features); err != nil {
			s.logger.Warn("score persistence failed",
				"entity_type", req.EntityType, "entity_id", req.EntityID, "error", err)
		}
	}

	return result, nil
}

// GetCachedScore returns the cached score for an entity, or (nil, nil) when
// no fresh entry exists.
func (s *Service) GetCachedScore(ctx context.Context, entityType, entityID string) (*ScoreResult, error) {
	result, err := s.cache.Get(ctx, entityType, entityID)
	switch {
	case err != nil:
		metrics.ScoreCacheTotal.WithLabelValues("error").Inc()
		return nil, err
	case result == nil:
		metrics.ScoreCacheTotal.WithLabelValues("miss").Inc()
		return nil, nil
	default:
		metrics.ScoreCacheTotal.WithLabelValues("hit").Inc()
		return result, nil
	}
}

// ComputeScoreBatch scores up to batchMax entities with bounded concurrency.
// Every input gets exactly one result slot at the same index; one item's
// failure never affects the others. When ctx is cancelled mid-batch,
// undispatched items resolve with the cancellation error.
func (s *Service) ComputeScoreBatch(ctx context.Context, reqs []*ScoreRequest) ([]BatchResult, error) {
	if len(reqs) > s.batchMax {
		return nil, fmt.Errorf("%w: %d items, maximum %d", ErrBatchTooLarge, len(reqs), s.batchMax)
	}
	metrics.BatchScoreSize.Observe(float64(len(reqs)))

	results := make([]BatchResult, len(reqs))
	sem := make(chan struct{}, s.batchConcurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		// A JSON null in the request array binds to a nil pointer; resolve
		// the slot as a validation error instead of letting it sink the batch.
		if req == nil {
			results[i].Error = fmt.Errorf("%w: request is null", ErrInvalidRequest).Error()
			continue
		}
		results[i].EntityType = req.EntityType
		results[i].EntityID = req.EntityID

		select {
		case <-ctx.Done():
			results[i].Error = ctx.Err().Error()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, req *ScoreRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := s.ComputeScore(ctx, req)
			if err != nil {
				results[i].Error = err.Error()
				return
			}
			results[i].Result = result
		}(i, req)
	}

	wg.Wait()
	return results, nil
}

// resolveFeatures merges the three feature layers for a request.
func (s *Service) resolveFeatures(ctx context.Context, req *ScoreRequest) (Features, error) {
	var stored Features
	if req.Features == nil && s.features != nil {
		var err error
		stored, err = s.features.Features(ctx, req.EntityType, req.EntityID)
		if err != nil {
			return nil, fmt.Errorf("feature lookup for %s/%s: %w", req.EntityType, req.EntityID, err)
		}
	}
	return mergeFeatures(stored, contextFeatures(req.Context), req.Features), nil
}

// score calls the external scorer under the configured timeout and degrades
// to the fallback on any failure.
func (s *Service) score(ctx context.Context, features Features) *ScorerResponse {
	callCtx, cancel := context.WithTimeout(ctx, s.scorerTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.ScorerDuration)
	resp, err := s.scorer.Score(callCtx, features)
	timer.ObserveDuration()

	if err != nil {
		metrics.ScoreComputationsTotal.WithLabelValues("fallback").Inc()
		s.logger.Warn("scorer unavailable, using fallback", "error", err)
		return Fallback(features)
	}
	metrics.ScoreComputationsTotal.WithLabelValues("scorer").Inc()
	return resp
}
