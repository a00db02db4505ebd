// Package dedupe implements the Duplicate Checker (C6, spec.md §4.6): a
// bounded fingerprint -> first-seen-timestamp map with LRU eviction and a
// TTL retention window. No library in the retrieval pack ships an LRU cache
// (DESIGN.md records this as a justified stdlib exception), so this uses
// container/list directly the way the standard library's own
// documentation recommends building an LRU: a doubly linked list for
// recency ordering plus a map for O(1) lookup.
package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/metrics"
	"github.com/paynet/fep/internal/model"
)

type record struct {
	key       string
	firstSeen time.Time
}

// Checker is the Duplicate Checker (C6).
type Checker struct {
	mu        sync.Mutex
	ll        *list.List
	index     map[string]*list.Element
	capacity  int
	retention time.Duration
	metrics   *metrics.Registry
}

// New constructs a Checker with the given capacity (LRU eviction bound) and
// retention window (how long a fingerprint is considered a duplicate).
func New(capacity int, retention time.Duration, m *metrics.Registry) *Checker {
	return &Checker{
		ll:        list.New(),
		index:     make(map[string]*list.Element),
		capacity:  capacity,
		retention: retention,
		metrics:   m,
	}
}

// RetentionFor returns the spec.md §9 default retention window: 4x the
// largest configured per-transaction-type timeout.
func RetentionFor(timeouts map[model.TransactionType]time.Duration) time.Duration {
	var max time.Duration
	for _, d := range timeouts {
		if d > max {
			max = d
		}
	}
	if max == 0 {
		max = 30 * time.Second
	}
	return max * 4
}

// Validate checks fp against the retention window: if fp was first seen
// within the window it returns a DUPLICATE_TRANSACTION error; otherwise it
// records fp (refreshing its recency) and returns nil.
func (c *Checker) Validate(fp model.DuplicateFingerprint) error {
	key := fp.Key()
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		rec := el.Value.(*record)
		if now.Sub(rec.firstSeen) < c.retention {
			c.metrics.IncDedupeHits()
			return ferr.Transaction(model.RespDuplicateTransaction, "DUPLICATE_TRANSACTION", "fingerprint "+key+" seen within retention window")
		}
		// Outside the window: treat as a fresh occurrence.
		rec.firstSeen = now
		c.ll.MoveToFront(el)
		return nil
	}

	el := c.ll.PushFront(&record{key: key, firstSeen: now})
	c.index[key] = el
	c.evictIfNeeded()
	c.metrics.SetDedupeCacheSize(float64(len(c.index)))
	return nil
}

func (c *Checker) evictIfNeeded() {
	for c.capacity > 0 && len(c.index) > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			return
		}
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(*record).key)
	}
}

// Clear drains every tracked fingerprint.
func (c *Checker) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.index = make(map[string]*list.Element)
	c.metrics.SetDedupeCacheSize(0)
}

// Size returns the number of currently tracked fingerprints.
func (c *Checker) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}
