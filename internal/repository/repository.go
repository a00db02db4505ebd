// Package repository implements the one concrete "external" collaborator
// the core ships (SPEC_FULL.md §6): an in-memory TransactionRepository with
// at-least-once save semantics, sharded by transaction id the way the
// Duplicate Checker (internal/dedupe) shards its LRU by a single mutex —
// generalized here to N independent shards since the repository, unlike
// the bounded dedupe cache, has no eviction policy and benefits from
// spreading lock contention across concurrent pipeline workers.
package repository

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
)

// shardCount is fixed rather than configurable: the repository is an
// in-memory reference implementation, not a tuned production store.
const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	byID    map[string]*model.TransactionRecord
	byRRN   map[string][]string // rrn -> transaction ids, insertion order
}

func newShard() *shard {
	return &shard{
		byID:  make(map[string]*model.TransactionRecord),
		byRRN: make(map[string][]string),
	}
}

// Repository is the in-memory TransactionRepository (spec.md §6).
type Repository struct {
	shards [shardCount]*shard
}

// New constructs an empty Repository.
func New() *Repository {
	r := &Repository{}
	for i := range r.shards {
		r.shards[i] = newShard()
	}
	return r
}

func (r *Repository) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// Save upserts rec. Save has at-least-once semantics: callers may retry a
// failed save and a duplicate Save for the same TransactionID simply
// overwrites.
func (r *Repository) Save(rec model.TransactionRecord) error {
	if rec.TransactionID == "" {
		return ferr.System("cannot save a transaction record with an empty id", nil)
	}
	s := r.shardFor(rec.TransactionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := rec
	_, existed := s.byID[rec.TransactionID]
	s.byID[rec.TransactionID] = &cp
	if !existed && rec.RRN != "" {
		s.byRRN[rec.RRN] = append(s.byRRN[rec.RRN], rec.TransactionID)
	}
	return nil
}

// FindByID returns the record for id, or (nil, false) if unknown.
func (r *Repository) FindByID(id string) (*model.TransactionRecord, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// FindByRRN returns every record sharing rrn, across all shards, in
// insertion order per shard (global ordering across shards is not
// guaranteed, consistent with spec.md §6 treating persistence as a black
// box).
func (r *Repository) FindByRRN(rrn string) []*model.TransactionRecord {
	var out []*model.TransactionRecord
	for _, s := range r.shards {
		s.mu.RLock()
		ids, ok := s.byRRN[rrn]
		if ok {
			for _, id := range ids {
				if rec, ok := s.byID[id]; ok {
					cp := *rec
					out = append(out, &cp)
				}
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// FindByStatus scans every shard for records with the given status, capped
// at limit (0 means unlimited), sorted by TransactionID for deterministic
// output.
func (r *Repository) FindByStatus(status model.TransactionStatus, limit int) []*model.TransactionRecord {
	var out []*model.TransactionRecord
	for _, s := range r.shards {
		s.mu.RLock()
		for _, rec := range s.byID {
			if rec.Status == status {
				cp := *rec
				out = append(out, &cp)
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpdateStatus transitions an existing record's status, returning an error
// if id is unknown.
func (r *Repository) UpdateStatus(id string, status model.TransactionStatus) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ferr.System("cannot update status of unknown transaction "+id, nil)
	}
	rec.Status = status
	return nil
}
