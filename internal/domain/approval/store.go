package approval

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardCount is the number of fine-grained locks the pending map spreads
// across. A sharded map (rather than one global mutex) lets insertion and
// lookup from independent correlation ids proceed without contending on the
// same lock, which matters under the approval coordinator's batch-poll
// fan-out across many simultaneously pending records.
const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// Store is the sharded concurrent map the coordinator uses to hold every
// currently pending Record. The map owns each Record; a request handle
// holds only the Record's wait side (Await), so no reference cycle exists
// between the coordinator and the requests it is resolving.
type Store struct {
	shards [shardCount]*shard
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*Record)}
	}
	return s
}

func (s *Store) shardFor(correlationID string) *shard {
	h := xxhash.Sum64String(correlationID)
	return s.shards[h%uint64(shardCount)]
}

// Put inserts a pending record, keyed by correlation id.
func (s *Store) Put(rec *Record) {
	sh := s.shardFor(rec.CorrelationID)
	sh.mu.Lock()
	sh.records[rec.CorrelationID] = rec
	sh.mu.Unlock()
}

// Get returns the pending record for a correlation id, if present.
func (s *Store) Get(correlationID string) (*Record, bool) {
	sh := s.shardFor(correlationID)
	sh.mu.RLock()
	rec, ok := sh.records[correlationID]
	sh.mu.RUnlock()
	return rec, ok
}

// Remove deletes a pending record. Idempotent: removing an absent
// correlation id is a no-op, which is required since removal can race
// across the deadline timer, the client-cancellation path, and a decision
// arriving from the poller.
func (s *Store) Remove(correlationID string) {
	sh := s.shardFor(correlationID)
	sh.mu.Lock()
	delete(sh.records, correlationID)
	sh.mu.Unlock()
}

// Resolve delivers a terminal decision to the named record if it is still
// pending, then removes it from the store. Returns false if the record was
// already resolved or never existed — the at-most-once invariant is
// enforced by Record.resolve's single-shot channel send, not by this
// method, so a racing double-resolve is harmless.
func (s *Store) Resolve(correlationID string, d Decision) bool {
	rec, ok := s.Get(correlationID)
	if !ok {
		return false
	}
	delivered := rec.resolve(d)
	s.Remove(correlationID)
	return delivered
}

// Snapshot returns every currently pending record, grouped by the channel
// their external reference lives in, for the coordinator's batched poll
// (one channel-history fetch per poll cycle instead of one probe per
// record).
func (s *Store) Snapshot() []*Record {
	out := make([]*Record, 0)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			out = append(out, rec)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of currently pending records, for diagnostics.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}
