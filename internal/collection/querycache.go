package collection

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryCache caches planned query shapes keyed by (namespace, predicate
// shape string), invalidated wholesale per-namespace on every write (spec.md
// §4.2 step 5, "notify queryCache of a write"). The real planner's shape
// objects are out of this core's scope; PlanEntry is a stand-in a caller
// can populate with whatever a planner produces.
type QueryCache struct {
	cache *lru.Cache[string, PlanEntry]
}

// PlanEntry is one cached query plan: opaque to this package beyond the
// namespace it was computed for, which is what write invalidation keys on.
type PlanEntry struct {
	NS   string
	Plan any
}

// NewQueryCache builds a query cache holding at most maxEntries plans.
func NewQueryCache(maxEntries int) *QueryCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c, _ := lru.New[string, PlanEntry](maxEntries)
	return &QueryCache{cache: c}
}

// Get returns the cached plan for key, if any.
func (q *QueryCache) Get(key string) (PlanEntry, bool) {
	return q.cache.Get(key)
}

// Put caches a plan under key.
func (q *QueryCache) Put(key string, entry PlanEntry) {
	q.cache.Add(key, entry)
}

// NotifyWrite purges every cached plan belonging to ns. golang-lru has no
// native "evict by predicate," so this walks the current key set once;
// acceptable since a write-path invalidation is already the cold path
// relative to a cache hit.
func (q *QueryCache) NotifyWrite(ns string) {
	for _, key := range q.cache.Keys() {
		if entry, ok := q.cache.Peek(key); ok && entry.NS == ns {
			q.cache.Remove(key)
		}
	}
}
