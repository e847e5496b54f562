package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskflow/internal/events"
)

func TestEmitAlertPublishesToAlertTopic(t *testing.T) {
	pub := NewMemoryPublisher()
	em := New(pub)

	alert := &events.Alert{
		AlertID:    "alert_1",
		RuleID:     "RULE-001",
		RuleName:   "High Value Transaction",
		Severity:   "high",
		TxnID:      "txn_1",
		CustomerID: "cust_1",
		CreatedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, em.EmitAlert(context.Background(), alert))

	msgs := pub.Messages(events.TopicAlert)
	require.Len(t, msgs, 1)

	var got events.Alert
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "RULE-001", got.RuleID)
	assert.Equal(t, "txn_1", got.TxnID)
}

func TestEmitDeadLetterCarriesOriginalEvent(t *testing.T) {
	pub := NewMemoryPublisher()
	em := New(pub)

	rec := &events.DeadLetterRecord{
		OriginalTopic: events.TopicIngested,
		OriginalEvent: &events.TransactionEvent{TxnID: "txn_7", CustomerID: "cust_7"},
		ErrorMessage:  "profile lookup for cust_7: connection refused",
		ErrorType:     "transient",
		FailedAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, em.EmitDeadLetter(context.Background(), rec))

	msgs := pub.Messages(events.TopicDeadLetter)
	require.Len(t, msgs, 1)

	var got events.DeadLetterRecord
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, events.TopicIngested, got.OriginalTopic)
	require.NotNil(t, got.OriginalEvent)
	assert.Equal(t, "txn_7", got.OriginalEvent.TxnID)
	assert.Equal(t, "transient", got.ErrorType)
}

func TestEmitReturnsErrorWhenBrokerDown(t *testing.T) {
	pub := NewMemoryPublisher()
	pub.FailWith(errors.New("broker unreachable"))
	em := New(pub, WithRetry(2, time.Millisecond))

	err := em.EmitAlert(context.Background(), &events.Alert{AlertID: "a", RuleID: "R", Severity: "low"})
	require.Error(t, err, "durable handoff: failures must surface")
	assert.Contains(t, err.Error(), events.TopicAlert)
}

// flakyPublisher fails a fixed number of times, then succeeds.
type flakyPublisher struct {
	failures atomic.Int64
	inner    *MemoryPublisher
}

func (p *flakyPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if p.failures.Add(-1) >= 0 {
		return errors.New("transient publish failure")
	}
	return p.inner.Publish(ctx, topic, data)
}

func TestEmitRetriesTransientFailures(t *testing.T) {
	pub := &flakyPublisher{inner: NewMemoryPublisher()}
	pub.failures.Store(2)
	em := New(pub, WithRetry(3, time.Millisecond))

	require.NoError(t, em.EmitScored(context.Background(), &events.ScoredTransaction{}))
	assert.Len(t, pub.inner.Messages(events.TopicScored), 1)
}

func TestEmitEnrichedAndScoredTopics(t *testing.T) {
	pub := NewMemoryPublisher()
	em := New(pub)
	ctx := context.Background()

	require.NoError(t, em.EmitEnriched(ctx, &events.EnrichedTransaction{}))
	require.NoError(t, em.EmitScored(ctx, &events.ScoredTransaction{}))

	assert.Len(t, pub.Messages(events.TopicEnriched), 1)
	assert.Len(t, pub.Messages(events.TopicScored), 1)
}
