package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskflow/internal/emitter"
	"github.com/mbd888/riskflow/internal/enrich"
	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/network"
	"github.com/mbd888/riskflow/internal/profile"
	"github.com/mbd888/riskflow/internal/rules"
	"github.com/mbd888/riskflow/internal/scoring"
	"github.com/mbd888/riskflow/internal/velocity"
)

// okScorer always returns the same score.
type okScorer struct {
	score float64
}

func (s *okScorer) Score(_ context.Context, _ scoring.Features) (*scoring.ScorerResponse, error) {
	return &scoring.ScorerResponse{Score: s.score, ModelVersion: "unified-risk:1.0.0"}, nil
}

// downScorer always fails, forcing the fallback path.
type downScorer struct{}

func (s *downScorer) Score(_ context.Context, _ scoring.Features) (*scoring.ScorerResponse, error) {
	return nil, errors.New("connection refused")
}

// failingProfiles fails lookups for one customer.
type failingProfiles struct {
	inner   *profile.MemoryStore
	failFor string
}

func (s *failingProfiles) Get(ctx context.Context, customerID string) (*events.CustomerProfile, error) {
	if customerID == s.failFor {
		return nil, errors.New("profile backend unavailable")
	}
	return s.inner.Get(ctx, customerID)
}

type testPipeline struct {
	*Pipeline
	pub *emitter.MemoryPublisher
	dlq *MemoryDeadLetterStore
	vel *velocity.Store
}

func newTestPipeline(t *testing.T, scorer scoring.Scorer, profiles enrich.ProfileStore) *testPipeline {
	t.Helper()

	vel := velocity.NewStore()
	if profiles == nil {
		profiles = profile.NewMemoryStore()
	}
	enr := enrich.New(vel, profiles, network.NewMemoryLookup())
	svc := scoring.NewService(scorer, scoring.NewMemoryCache(time.Hour))
	pub := emitter.NewMemoryPublisher()
	dlq := NewMemoryDeadLetterStore()

	p := New(Config{Partitions: 4, QueueSize: 16}, vel, enr, svc, rules.Default(),
		emitter.New(pub, emitter.WithRetry(1, time.Millisecond)),
		WithDeadLetterStore(dlq),
	)
	p.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return &testPipeline{Pipeline: p, pub: pub, dlq: dlq, vel: vel}
}

func drain(t *testing.T, p *testPipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
}

func txn(id, customer string, amount float64) *events.TransactionEvent {
	return &events.TransactionEvent{
		TxnID:      id,
		CustomerID: customer,
		Amount:     amount,
		Currency:   "USD",
		Timestamp:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Geo:        events.GeoData{Country: "DE"},
	}
}

func TestHappyPathPublishesEnrichedAndScored(t *testing.T) {
	p := newTestPipeline(t, &okScorer{score: 0.1}, nil)

	require.NoError(t, p.Submit(txn("txn_1", "cust_1", 500)))
	drain(t, p)

	require.Len(t, p.pub.Messages(events.TopicEnriched), 1)

	scored := p.pub.Messages(events.TopicScored)
	require.Len(t, scored, 1)

	var got events.ScoredTransaction
	require.NoError(t, json.Unmarshal(scored[0].Data, &got))
	assert.Equal(t, "txn_1", got.TxnID)
	assert.Equal(t, 0.1, got.Score)
	assert.Equal(t, "LOW", got.RiskLevel)

	assert.Empty(t, p.pub.Messages(events.TopicAlert))
	assert.Empty(t, p.dlq.Records())
}

func TestHighValueEventRaisesAlert(t *testing.T) {
	p := newTestPipeline(t, &okScorer{score: 0.1}, nil)

	require.NoError(t, p.Submit(txn("txn_1", "cust_1", 15000)))
	drain(t, p)

	alerts := p.pub.Messages(events.TopicAlert)
	require.NotEmpty(t, alerts)

	var got events.Alert
	require.NoError(t, json.Unmarshal(alerts[0].Data, &got))
	assert.Equal(t, "RULE-001", got.RuleID)
	assert.Equal(t, "txn_1", got.TxnID)
}

func TestScorerOutageDegradesToFallback(t *testing.T) {
	p := newTestPipeline(t, &downScorer{}, nil)

	require.NoError(t, p.Submit(txn("txn_1", "cust_1", 500)))
	drain(t, p)

	scored := p.pub.Messages(events.TopicScored)
	require.Len(t, scored, 1, "scorer outage must not dead-letter the event")

	var got events.ScoredTransaction
	require.NoError(t, json.Unmarshal(scored[0].Data, &got))
	assert.Equal(t, "fallback:1.0.0", got.ModelVersion)
	assert.Empty(t, p.dlq.Records())
}

func TestEnrichmentFailureDeadLettersOnlyThatEvent(t *testing.T) {
	profiles := &failingProfiles{inner: profile.NewMemoryStore(), failFor: "cust_bad"}
	p := newTestPipeline(t, &okScorer{score: 0.1}, profiles)

	require.NoError(t, p.Submit(txn("txn_bad", "cust_bad", 100)))
	require.NoError(t, p.Submit(txn("txn_ok", "cust_ok", 100)))
	drain(t, p)

	recs := p.dlq.Records()
	require.Len(t, recs, 1, "exactly one dead letter")
	assert.Equal(t, "txn_bad", recs[0].OriginalEvent.TxnID)
	assert.Equal(t, string(KindInternal), recs[0].ErrorType)
	assert.Contains(t, recs[0].ErrorMessage, "profile lookup")

	dlqMsgs := p.pub.Messages(events.TopicDeadLetter)
	assert.Len(t, dlqMsgs, 1)

	// The healthy event still completed.
	scored := p.pub.Messages(events.TopicScored)
	require.Len(t, scored, 1)
	var got events.ScoredTransaction
	require.NoError(t, json.Unmarshal(scored[0].Data, &got))
	assert.Equal(t, "txn_ok", got.TxnID)
}

func TestInvalidEventIsDeadLetteredAsValidation(t *testing.T) {
	p := newTestPipeline(t, &okScorer{score: 0.1}, nil)

	require.NoError(t, p.Submit(&events.TransactionEvent{CustomerID: "cust_1", Amount: 5}))
	drain(t, p)

	recs := p.dlq.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, string(KindValidation), recs[0].ErrorType)
	assert.Empty(t, p.pub.Messages(events.TopicScored))
}

func TestVelocityAccumulatesAcrossEvents(t *testing.T) {
	p := newTestPipeline(t, &okScorer{score: 0.1}, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(txn(fmt.Sprintf("txn_%d", i), "cust_1", 100)))
	}
	drain(t, p)

	rec := p.vel.Get("cust_1")
	assert.Equal(t, 3, rec.TxnCount24h)
	assert.Equal(t, 300.0, rec.TxnSum24h)

	// Same-customer events are processed in order by one worker; the last
	// enriched record must include its own contribution.
	enriched := p.pub.Messages(events.TopicEnriched)
	require.Len(t, enriched, 3)
	var last events.EnrichedTransaction
	require.NoError(t, json.Unmarshal(enriched[2].Data, &last))
	assert.Equal(t, 3, last.Velocity.TxnCount24h)
}

// slowProfiles blocks until the caller's deadline expires.
type slowProfiles struct {
	delay time.Duration
}

func (s *slowProfiles) Get(ctx context.Context, _ string) (*events.CustomerProfile, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return nil, errors.New("profile backend too slow")
	}
}

// deadlineDLQStore refuses writes on an expired context, like a real driver.
type deadlineDLQStore struct {
	inner *MemoryDeadLetterStore
}

func (s *deadlineDLQStore) Save(ctx context.Context, rec *events.DeadLetterRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Save(ctx, rec)
}

// deadlinePublisher refuses publishes on an expired context.
type deadlinePublisher struct {
	inner *emitter.MemoryPublisher
}

func (p *deadlinePublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.inner.Publish(ctx, topic, data)
}

func TestEventTimeoutStillProducesDeadLetter(t *testing.T) {
	vel := velocity.NewStore()
	enr := enrich.New(vel, &slowProfiles{delay: time.Second}, network.NewMemoryLookup())
	svc := scoring.NewService(&okScorer{score: 0.1}, scoring.NewMemoryCache(time.Hour))
	pub := emitter.NewMemoryPublisher()
	dlq := NewMemoryDeadLetterStore()

	p := New(Config{Partitions: 1, QueueSize: 4, EventTimeout: 20 * time.Millisecond},
		vel, enr, svc, rules.Default(),
		emitter.New(&deadlinePublisher{inner: pub}, emitter.WithRetry(1, time.Millisecond)),
		WithDeadLetterStore(&deadlineDLQStore{inner: dlq}),
	)
	p.Start()

	require.NoError(t, p.Submit(txn("txn_slow", "cust_1", 100)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	// The event context is spent when the failure is the event timeout; the
	// dead letter must still be persisted and published.
	recs := dlq.Records()
	require.Len(t, recs, 1, "timed-out event must leave a dead letter")
	assert.Equal(t, "txn_slow", recs[0].OriginalEvent.TxnID)
	assert.Equal(t, string(KindTransient), recs[0].ErrorType)
	assert.Len(t, pub.Messages(events.TopicDeadLetter), 1)
}

func TestConcurrentSubmitDuringCloseDoesNotPanic(t *testing.T) {
	p := newTestPipeline(t, &okScorer{score: 0.1}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; ; j++ {
				err := p.Submit(txn(fmt.Sprintf("t%d_%d", i, j), fmt.Sprintf("c%d", i), 1))
				if errors.Is(err, ErrClosed) {
					return
				}
			}
		}(i)
	}

	time.Sleep(5 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
	wg.Wait()

	assert.ErrorIs(t, p.Submit(txn("late", "c", 1)), ErrClosed)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := newTestPipeline(t, &okScorer{score: 0.1}, nil)
	drain(t, p)

	err := p.Submit(txn("txn_1", "cust_1", 100))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueFullIsReported(t *testing.T) {
	vel := velocity.NewStore()
	enr := enrich.New(vel, profile.NewMemoryStore(), network.NewMemoryLookup())
	svc := scoring.NewService(&okScorer{score: 0.1}, scoring.NewMemoryCache(time.Hour))
	p := New(Config{Partitions: 1, QueueSize: 2}, vel, enr, svc, rules.Default(),
		emitter.New(emitter.NewMemoryPublisher()))
	// Not started: queues only fill.

	require.NoError(t, p.Submit(txn("t1", "c", 1)))
	require.NoError(t, p.Submit(txn("t2", "c", 1)))
	err := p.Submit(txn("t3", "c", 1))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", &ValidationError{Err: errors.New("txn_id is required")}, KindValidation},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"cancelled", context.Canceled, KindTransient},
		{"scorer unavailable", fmt.Errorf("call: %w", scoring.ErrScorerUnavailable), KindTransient},
		{"invalid request", fmt.Errorf("x: %w", scoring.ErrInvalidRequest), KindValidation},
		{"unknown", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
