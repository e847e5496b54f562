// Package enrich joins a raw transaction with velocity counters, the
// customer profile, and network features into an enriched record.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/velocity"
)

// Enricher builds enriched transactions. Lookup failures propagate to the
// caller — there is no silent defaulting here beyond what the collaborator
// stores themselves define for unknown keys.
type Enricher struct {
	velocity      *velocity.Store
	profiles      ProfileStore
	network       NetworkLookup
	lookupTimeout time.Duration
	now           func() time.Time
}

// ProfileStore is the customer profile collaborator contract.
type ProfileStore interface {
	Get(ctx context.Context, customerID string) (*events.CustomerProfile, error)
}

// NetworkLookup is the counterparty feature collaborator contract.
type NetworkLookup interface {
	Get(ctx context.Context, customerID, counterpartyID string) (*events.NetworkFeatures, error)
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithLookupTimeout bounds each collaborator call. Zero disables the bound.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Enricher) { e.lookupTimeout = d }
}

// WithClock overrides the enriched_at clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// New creates an Enricher over the given velocity store and collaborators.
func New(vel *velocity.Store, profiles ProfileStore, network NetworkLookup, opts ...Option) *Enricher {
	e := &Enricher{
		velocity:      vel,
		profiles:      profiles,
		network:       network,
		lookupTimeout: 3 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich joins the event with its features. Step order is fixed: velocity
// read, profile lookup, network lookup, derived average, timestamp. The
// velocity read may race with a concurrent Update for the same customer;
// that window is accepted (eventual, not causal, consistency).
func (e *Enricher) Enrich(ctx context.Context, ev *events.TransactionEvent) (*events.EnrichedTransaction, error) {
	rec := e.velocity.Get(ev.CustomerID)

	lctx := ctx
	if e.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, e.lookupTimeout)
		defer cancel()
	}

	prof, err := e.profiles.Get(lctx, ev.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("profile lookup for %s: %w", ev.CustomerID, err)
	}

	net, err := e.network.Get(lctx, ev.CustomerID, ev.CounterpartyID)
	if err != nil {
		return nil, fmt.Errorf("network lookup for %s/%s: %w", ev.CustomerID, ev.CounterpartyID, err)
	}

	return &events.EnrichedTransaction{
		TransactionEvent: *ev,
		CustomerProfile:  *prof,
		Velocity:         velocity.Features(rec),
		Network:          *net,
		EnrichedAt:       e.now().UTC(),
	}, nil
}
