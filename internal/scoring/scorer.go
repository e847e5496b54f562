package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/riskflow/internal/circuitbreaker"
	"github.com/mbd888/riskflow/internal/events"
)

// ScorerResponse is what a scorer backend returns: a raw score plus the
// reason codes that explain it.
type ScorerResponse struct {
	Score        float64             `json:"score"`
	Reasons      []events.ReasonCode `json:"reasons"`
	ModelVersion string              `json:"model_version"`
}

// Scorer produces a score for a feature vector. Implementations must be
// safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, features Features) (*ScorerResponse, error)
}

// HTTPScorer calls an external model-serving endpoint. Calls are guarded by
// a circuit breaker: while the circuit is open the scorer fails fast with
// ErrScorerUnavailable so callers can fall back without waiting out the
// timeout.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPScorer creates a scorer client for baseURL. timeout bounds each
// request end to end.
func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type scoreAPIRequest struct {
	Features Features `json:"features"`
}

// Score posts the feature vector to the scoring endpoint.
func (s *HTTPScorer) Score(ctx context.Context, features Features) (*ScorerResponse, error) {
	if !s.breaker.Allow() {
		return nil, fmt.Errorf("%w: circuit open", ErrScorerUnavailable)
	}

	body, err := json.Marshal(scoreAPIRequest{Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.breaker.RecordFailure()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: scorer returned %d: %s", ErrScorerUnavailable, resp.StatusCode, msg)
	}

	var out ScorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("failed to decode scorer response: %w", err)
	}

	s.breaker.RecordSuccess()
	return &out, nil
}

// UnavailableScorer always reports the backend as unavailable, forcing every
// score through the deterministic fallback. Used when no scorer endpoint is
// configured.
type UnavailableScorer struct{}

func (UnavailableScorer) Score(context.Context, Features) (*ScorerResponse, error) {
	return nil, fmt.Errorf("%w: no scorer endpoint configured", ErrScorerUnavailable)
}
