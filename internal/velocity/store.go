// Package velocity maintains rolling per-customer transaction counters.
//
// The store is partitioned into 256 shards keyed by FNV-1a hash of the
// customer id. Mutations for the same key are serialized by the shard lock;
// keys on different shards proceed fully in parallel. Counters accumulate
// until an external maintenance task calls Decay or Reset — the store itself
// never expires entries.
package velocity

import (
	"hash/fnv"
	"sync"

	"github.com/mbd888/riskflow/internal/events"
)

const shardCount = 256

// Record holds the rolling counters for one customer.
type Record struct {
	TxnCount24h int     `json:"txn_count_24h"`
	TxnSum24h   float64 `json:"txn_sum_24h"`
}

type shard struct {
	mu      sync.Mutex
	records map[string]Record
}

// Store is a sharded in-memory velocity counter table.
type Store struct {
	shards [shardCount]shard
}

// NewStore creates an empty velocity store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].records = make(map[string]Record)
	}
	return s
}

func (s *Store) shardFor(customerID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(customerID))
	return &s.shards[h.Sum32()%shardCount]
}

// Update increments the counters for customerID by one transaction of the
// given amount and returns the post-update record.
func (s *Store) Update(customerID string, amount float64) Record {
	sh := s.shardFor(customerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec := sh.records[customerID]
	rec.TxnCount24h++
	rec.TxnSum24h += amount
	sh.records[customerID] = rec
	return rec
}

// Get returns the current record for customerID, or the zero record if the
// customer has never been seen.
func (s *Store) Get(customerID string) Record {
	sh := s.shardFor(customerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.records[customerID]
}

// Decay multiplies the counters for customerID by factor (clamped to [0,1]).
// Entries that decay to a count below one are removed. Exposed for the
// periodic maintenance task; the pipeline never calls this.
func (s *Store) Decay(customerID string, factor float64) {
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}

	sh := s.shardFor(customerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[customerID]
	if !ok {
		return
	}
	rec.TxnCount24h = int(float64(rec.TxnCount24h) * factor)
	rec.TxnSum24h *= factor
	if rec.TxnCount24h <= 0 {
		delete(sh.records, customerID)
		return
	}
	sh.records[customerID] = rec
}

// Reset removes the record for customerID entirely.
func (s *Store) Reset(customerID string) {
	sh := s.shardFor(customerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.records, customerID)
}

// Keys returns all customer ids currently tracked. Used by the janitor and
// the key-count gauge; the snapshot is taken shard by shard, so it is not a
// point-in-time view across shards.
func (s *Store) Keys() []string {
	var keys []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k := range sh.records {
			keys = append(keys, k)
		}
		sh.mu.Unlock()
	}
	return keys
}

// Len returns the number of customers currently tracked.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Features derives the enrichment feature view from a record, including the
// average with the divide-by-zero guard.
func Features(rec Record) events.VelocityFeatures {
	count := rec.TxnCount24h
	if count < 1 {
		count = 1
	}
	return events.VelocityFeatures{
		TxnCount24h: rec.TxnCount24h,
		TxnSum24h:   rec.TxnSum24h,
		TxnAvg24h:   rec.TxnSum24h / float64(count),
	}
}
