// Package emitter publishes pipeline outputs — enriched events, scored
// events, alerts, and dead letters — to the message bus.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/metrics"
	"github.com/mbd888/riskflow/internal/retry"
)

// Publisher delivers one serialized event to a topic. Publish must not
// return until the broker has accepted the message: an error return means
// the event was not handed off.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Emitter serializes pipeline outputs and publishes them with bounded
// retries. Alert and dead-letter publication is where the pipeline's
// durability promise lives, so failures surface to the caller instead of
// being logged away.
type Emitter struct {
	publisher   Publisher
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLogger sets the emitter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) { e.logger = logger }
}

// WithRetry sets the publish retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Emitter) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			e.baseDelay = baseDelay
		}
	}
}

// New creates an Emitter on publisher.
func New(publisher Publisher, opts ...Option) *Emitter {
	e := &Emitter{
		publisher:   publisher,
		logger:      slog.Default(),
		maxAttempts: 3,
		baseDelay:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmitEnriched publishes an enriched transaction.
func (e *Emitter) EmitEnriched(ctx context.Context, tx *events.EnrichedTransaction) error {
	return e.emit(ctx, events.TopicEnriched, tx)
}

// EmitScored publishes a scored transaction.
func (e *Emitter) EmitScored(ctx context.Context, tx *events.ScoredTransaction) error {
	return e.emit(ctx, events.TopicScored, tx)
}

// EmitAlert publishes a raised alert.
func (e *Emitter) EmitAlert(ctx context.Context, alert *events.Alert) error {
	if err := e.emit(ctx, events.TopicAlert, alert); err != nil {
		return err
	}
	metrics.AlertsTotal.WithLabelValues(alert.RuleID, alert.Severity).Inc()
	return nil
}

// EmitDeadLetter publishes a dead-letter record.
func (e *Emitter) EmitDeadLetter(ctx context.Context, rec *events.DeadLetterRecord) error {
	if err := e.emit(ctx, events.TopicDeadLetter, rec); err != nil {
		return err
	}
	metrics.DeadLettersTotal.WithLabelValues(rec.ErrorType).Inc()
	return nil
}

func (e *Emitter) emit(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event for %s: %w", topic, err)
	}

	err = retry.Do(ctx, e.maxAttempts, e.baseDelay, func() error {
		return e.publisher.Publish(ctx, topic, data)
	})
	if err != nil {
		metrics.PublishesTotal.WithLabelValues(topic, "error").Inc()
		e.logger.Error("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	metrics.PublishesTotal.WithLabelValues(topic, "ok").Inc()
	return nil
}
