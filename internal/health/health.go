// Package health aggregates liveness probes for the server's backing
// services (postgres, redis, NATS).
package health

import (
	"context"
	"sync"
)

// Status is one subsystem's probe result.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a subsystem. It should respect ctx deadlines; the
// server runs all checkers under a shared timeout.
type Checker func(ctx context.Context) Status

// Registry is a set of named checkers, populated at wiring time and run
// on each /health request.
type Registry struct {
	mu     sync.RWMutex
	checks []check
}

type check struct {
	name string
	fn   Checker
}

// NewRegistry returns an empty registry. Zero checkers report healthy.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker under name. Registration order is report order.
func (r *Registry) Register(name string, fn Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, check{name: name, fn: fn})
}

// CheckAll runs every checker and reports the aggregate: healthy only
// when all subsystems are.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checks := append([]check(nil), r.checks...)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(checks))
	for _, c := range checks {
		st := c.fn(ctx)
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
