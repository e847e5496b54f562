// Package pipeline orchestrates the per-event decisioning flow: velocity
// update, enrichment, scoring, rule evaluation, and emission. Events are
// hash-partitioned by customer so one customer's events are always
// processed in arrival order by a single worker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/riskflow/internal/emitter"
	"github.com/mbd888/riskflow/internal/enrich"
	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/metrics"
	"github.com/mbd888/riskflow/internal/rules"
	"github.com/mbd888/riskflow/internal/scoring"
	"github.com/mbd888/riskflow/internal/traces"
	"github.com/mbd888/riskflow/internal/velocity"
)

// Event lifecycle states.
type State string

const (
	StateIngested   State = "ingested"
	StateEnriching  State = "enriching"
	StateScoring    State = "scoring"
	StateEvaluating State = "evaluating"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Submission errors.
var (
	ErrClosed    = errors.New("pipeline is closed")
	ErrQueueFull = errors.New("partition queue is full")
)

// Defaults.
const (
	DefaultPartitions   = 16
	DefaultQueueSize    = 256
	DefaultEventTimeout = 30 * time.Second
)

// deadLetterTimeout bounds the dead-letter handoff independently of the
// event timeout, which may already be spent when fail runs.
const deadLetterTimeout = 5 * time.Second

// Config sizes the pipeline.
type Config struct {
	Partitions   int
	QueueSize    int
	EventTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Partitions <= 0 {
		c.Partitions = DefaultPartitions
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = DefaultEventTimeout
	}
	return c
}

// DeadLetterStore persists dead letters for audit, alongside publication.
type DeadLetterStore interface {
	Save(ctx context.Context, rec *events.DeadLetterRecord) error
}

// Pipeline runs the decisioning flow over a fixed set of partition workers.
type Pipeline struct {
	cfg       Config
	velocity  *velocity.Store
	enricher  *enrich.Enricher
	scoring   *scoring.Service
	ruleSet   []rules.Rule
	evaluator *rules.Evaluator
	emitter   *emitter.Emitter
	dlqStore  DeadLetterStore
	logger    *slog.Logger
	now       func() time.Time

	queues  []chan *events.TransactionEvent
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
	closeMu sync.RWMutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDeadLetterStore enables dead-letter audit persistence.
func WithDeadLetterStore(store DeadLetterStore) Option {
	return func(p *Pipeline) { p.dlqStore = store }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithClock overrides the failure timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithEvaluator overrides the rule evaluator.
func WithEvaluator(ev *rules.Evaluator) Option {
	return func(p *Pipeline) { p.evaluator = ev }
}

// New assembles a pipeline. Call Start before Submit.
func New(cfg Config, vel *velocity.Store, enr *enrich.Enricher, sc *scoring.Service,
	ruleSet []rules.Rule, em *emitter.Emitter, opts ...Option) *Pipeline {

	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:       cfg,
		velocity:  vel,
		enricher:  enr,
		scoring:   sc,
		ruleSet:   ruleSet,
		evaluator: rules.NewEvaluator(),
		emitter:   em,
		logger:    slog.Default(),
		now:       time.Now,
		queues:    make([]chan *events.TransactionEvent, cfg.Partitions),
	}
	for i := range p.queues {
		p.queues[i] = make(chan *events.TransactionEvent, cfg.QueueSize)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches one worker per partition.
func (p *Pipeline) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("pipeline started", "partitions", p.cfg.Partitions, "queue_size", p.cfg.QueueSize)
}

// Submit routes an event to its customer's partition. It never blocks: a
// full partition queue is an error the producer must handle.
func (p *Pipeline) Submit(ev *events.TransactionEvent) error {
	// closeMu keeps the closed check and the send atomic with respect to
	// Close, so a concurrent Close cannot close a queue mid-send.
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed.Load() {
		return ErrClosed
	}
	part := p.partition(ev.CustomerID)
	select {
	case p.queues[part] <- ev:
		metrics.EventsIngestedTotal.Inc()
		metrics.PartitionQueueDepth.WithLabelValues(strconv.Itoa(part)).Set(float64(len(p.queues[part])))
		return nil
	default:
		return fmt.Errorf("%w: partition %d", ErrQueueFull, part)
	}
}

// Close stops intake, drains every queued event, and waits for workers to
// finish. ctx bounds the wait.
func (p *Pipeline) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.closeMu.Lock()
	for _, q := range p.queues {
		close(q)
	}
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pipeline drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline drain interrupted: %w", ctx.Err())
	}
}

func (p *Pipeline) partition(customerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(customerID))
	return int(h.Sum32() % uint32(p.cfg.Partitions))
}

func (p *Pipeline) worker(part int) {
	defer p.wg.Done()
	label := strconv.Itoa(part)
	for ev := range p.queues[part] {
		metrics.PartitionQueueDepth.WithLabelValues(label).Set(float64(len(p.queues[part])))
		p.process(ev)
	}
}

// process runs one event through the full flow. A stage failure dead-letters
// the event and leaves the worker ready for the next one.
func (p *Pipeline) process(ev *events.TransactionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.EventTimeout)
	defer cancel()

	ctx, span := traces.StartSpan(ctx, "pipeline.process",
		traces.TxnID(ev.TxnID), traces.CustomerID(ev.CustomerID))
	defer span.End()

	state := StateIngested
	log := p.logger.With("txn_id", ev.TxnID, "customer_id", ev.CustomerID)

	if err := ev.Validate(); err != nil {
		p.fail(ctx, log, ev, state, &ValidationError{Err: err})
		return
	}

	// Velocity update happens before enrichment so this event sees its own
	// contribution in the rolling window.
	state = StateEnriching
	timer := prometheus.NewTimer(metrics.StageDuration.WithLabelValues(string(state)))
	p.velocity.Update(ev.CustomerID, ev.Amount)
	enriched, err := p.enricher.Enrich(ctx, ev)
	timer.ObserveDuration()
	if err != nil {
		p.fail(ctx, log, ev, state, err)
		return
	}
	if err := p.emitter.EmitEnriched(ctx, enriched); err != nil {
		// The enriched stream is informational; scoring proceeds regardless.
		log.Warn("enriched publish failed", "error", err)
	}

	state = StateScoring
	timer = prometheus.NewTimer(metrics.StageDuration.WithLabelValues(string(state)))
	result, err := p.scoring.ComputeScore(ctx, &scoring.ScoreRequest{
		EntityType: "transaction",
		EntityID:   ev.TxnID,
		Features:   scoring.FromEnriched(enriched),
	})
	timer.ObserveDuration()
	if err != nil {
		p.fail(ctx, log, ev, state, err)
		return
	}
	scored := &events.ScoredTransaction{
		TxnID:        ev.TxnID,
		CustomerID:   ev.CustomerID,
		Score:        result.Score,
		RiskLevel:    string(result.RiskLevel),
		ModelVersion: result.ModelVersion,
		Reasons:      result.Reasons,
		ScoredAt:     result.ComputedAt,
	}
	if err := p.emitter.EmitScored(ctx, scored); err != nil {
		log.Warn("scored publish failed", "error", err)
	}

	state = StateEvaluating
	timer = prometheus.NewTimer(metrics.StageDuration.WithLabelValues(string(state)))
	alerts := p.evaluator.Evaluate(p.ruleSet, rules.CombinedRecord(enriched, result.Score, string(result.RiskLevel)))
	timer.ObserveDuration()
	for i := range alerts {
		if err := p.emitter.EmitAlert(ctx, &alerts[i]); err != nil {
			// Alerts are the pipeline's contract with downstream: losing one
			// is a processing failure.
			p.fail(ctx, log, ev, state, err)
			return
		}
	}

	metrics.EventsProcessedTotal.WithLabelValues(string(StateCompleted)).Inc()
	log.Debug("event completed", "score", result.Score, "risk_level", result.RiskLevel, "alerts", len(alerts))
}

// fail dead-letters an event. The DLQ publish itself is the last line of
// defense; if it fails too, the loss is logged loudly and counted.
func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, ev *events.TransactionEvent, state State, cause error) {
	kind := Classify(cause)
	metrics.EventsProcessedTotal.WithLabelValues(string(StateFailed)).Inc()
	log.Error("event failed", "state", state, "kind", string(kind), "error", cause)

	rec := &events.DeadLetterRecord{
		OriginalTopic: events.TopicIngested,
		OriginalEvent: ev,
		ErrorMessage:  cause.Error(),
		ErrorType:     string(kind),
		FailedAt:      p.now().UTC(),
	}

	// When the cause is the event timeout, ctx is already expired. The
	// handoff keeps ctx's trace values but runs on its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()

	if p.dlqStore != nil {
		if err := p.dlqStore.Save(ctx, rec); err != nil {
			log.Warn("dead letter persistence failed", "error", err)
		}
	}
	if err := p.emitter.EmitDeadLetter(ctx, rec); err != nil {
		log.Error("dead letter publish failed, event lost", "error", err)
	}
}
