// Package network provides counterparty relationship features for the
// enrichment stage. The production implementation queries the transaction
// graph; the in-memory implementation serves tests and single-node deploys.
package network

import (
	"context"
	"sync"

	"github.com/mbd888/riskflow/internal/events"
)

// Lookup resolves network features for a customer/counterparty pair.
type Lookup interface {
	Get(ctx context.Context, customerID, counterpartyID string) (*events.NetworkFeatures, error)
}

// Default is the baseline feature set for pairs with no graph history.
func Default() *events.NetworkFeatures {
	return &events.NetworkFeatures{
		CounterpartyRiskScore:   0.2,
		SharedCounterpartyCount: 0,
		IsFirstInteraction:      false,
	}
}

// MemoryLookup is an in-memory network feature source keyed by
// customer/counterparty pair.
type MemoryLookup struct {
	mu    sync.RWMutex
	pairs map[string]events.NetworkFeatures
}

// NewMemoryLookup creates an empty in-memory lookup.
func NewMemoryLookup() *MemoryLookup {
	return &MemoryLookup{pairs: make(map[string]events.NetworkFeatures)}
}

// Put stores features for a customer/counterparty pair.
func (l *MemoryLookup) Put(customerID, counterpartyID string, f events.NetworkFeatures) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairs[customerID+"|"+counterpartyID] = f
}

func (l *MemoryLookup) Get(ctx context.Context, customerID, counterpartyID string) (*events.NetworkFeatures, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if f, ok := l.pairs[customerID+"|"+counterpartyID]; ok {
		cf := f
		return &cf, nil
	}
	return Default(), nil
}
