// Package memstore is an in-memory implementation of the persistent
// storage contract from spec §6: partition/sort-key keyed records with
// version monotonicity, idempotent delete, and sort-key range queries
// against the §4.8 functional representation. It backs pkg/persistence's
// default (non-clustered) handler and the test suites for pkg/tables.
//
// Grounded on nola's kvTransaction (virtual/registry/kv_registry.go),
// generalized from the registry's fixed FoundationDB key layout to the
// free-form partitionKey/sortKey shape spec §4.7/§4.8 describe, and using
// a plain sync.RWMutex-guarded map instead of FDB transactions since this
// store is explicitly in-memory only.
package memstore

import (
	"sort"
	"sync"

	"github.com/darlean-io/darlean-go/pkg/keycodec"
)

// Record is one stored row.
type Record struct {
	PartitionKey []string
	SortKey      []string
	Value        any
	Version      string
}

type partition struct {
	// byRep maps a sort key's functional representation to its record.
	// Absent (never-present or deleted) entries are simply missing, giving
	// idempotent delete for free.
	byRep map[string]*Record
}

// Store is a single in-memory keyspace, one per compartment in practice.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]*partition
}

// New constructs an empty Store.
func New() *Store {
	return &Store{partitions: make(map[string]*partition)}
}

// StoreItem is one write in a StoreBatch call.
type StoreItem struct {
	PartitionKey []string
	SortKey      []string
	// Value == nil means delete (idempotent: deleting an absent record
	// succeeds).
	Value   any
	Version string
}

// Store writes one record, applying spec invariant 4: a version v newer
// than the stored v' replaces the value; v <= v' leaves the stored value
// unchanged (store is a no-op, not an error, per the round-trip property
// in §8).
func (s *Store) Store(item StoreItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(item)
}

func (s *Store) storeLocked(item StoreItem) {
	pk := keycodec.EncodePartitionKey(item.PartitionKey)
	p, ok := s.partitions[pk]
	if !ok {
		p = &partition{byRep: make(map[string]*Record)}
		s.partitions[pk] = p
	}
	rep := keycodec.EncodeSortKey(item.SortKey)
	existing, ok := p.byRep[rep]
	if ok && keycodec.Compare(item.Version, existing.Version) <= 0 {
		return
	}
	if item.Value == nil {
		delete(p.byRep, rep)
		return
	}
	p.byRep[rep] = &Record{
		PartitionKey: item.PartitionKey,
		SortKey:      item.SortKey,
		Value:        item.Value,
		Version:      item.Version,
	}
}

// StoreBatch applies every item, per spec §4.7's storeBatch contract
// (atomic is not required at this layer; pkg/tables builds its own
// all-or-nothing guarantee on top using baselines).
func (s *Store) StoreBatch(items []StoreItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.storeLocked(item)
	}
}

// Load returns the current value for (partitionKey, sortKey).
func (s *Store) Load(partitionKey, sortKey []string) (value any, version string, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[keycodec.EncodePartitionKey(partitionKey)]
	if !ok {
		return nil, "", false
	}
	rec, ok := p.byRep[keycodec.EncodeSortKey(sortKey)]
	if !ok {
		return nil, "", false
	}
	return rec.Value, rec.Version, true
}

// QueryOptions describes one §4.8 query against a single partition.
type QueryOptions struct {
	Constraint        keycodec.RangeConstraint
	MaxItems          int
	ContinuationToken string
}

// QueryResult is one page of a query.
type QueryResult struct {
	Records           []Record
	ContinuationToken string
}

// Query returns records in partitionKey matching opts.Constraint, ordered
// per opts.Constraint.Order, honoring MaxItems and resuming from
// ContinuationToken. The continuation token is simply the functional
// representation of the last returned record's sort key, which remains
// valid across chunks as long as the underlying map isn't rewritten, per
// spec §6.
func (s *Store) Query(partitionKey []string, opts QueryOptions) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[keycodec.EncodePartitionKey(partitionKey)]
	if !ok {
		return QueryResult{}
	}

	reps := make([]string, 0, len(p.byRep))
	for rep := range p.byRep {
		if keycodec.Included(rep, opts.Constraint) {
			reps = append(reps, rep)
		}
	}
	sort.Slice(reps, func(i, j int) bool {
		return keycodec.Less(reps[i], reps[j], opts.Constraint.Order)
	})

	if opts.ContinuationToken != "" {
		idx := 0
		for i, rep := range reps {
			if rep == opts.ContinuationToken {
				idx = i + 1
				break
			}
		}
		reps = reps[idx:]
	}

	limit := opts.MaxItems
	if limit <= 0 || limit > len(reps) {
		limit = len(reps)
	}
	out := make([]Record, 0, limit)
	for _, rep := range reps[:limit] {
		out = append(out, *p.byRep[rep])
	}

	result := QueryResult{Records: out}
	if limit > 0 && limit < len(reps) {
		result.ContinuationToken = reps[limit-1]
	}
	return result
}
