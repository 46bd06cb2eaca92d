// Package collection implements the collection and index-management core:
// a uniform write/read interface over the ordinary-indexed, natural-order,
// capped, system-catalog, bulk-loaded, and oplog collection flavors, their
// shared secondary-index catalog, and the background/foreground index
// builders that populate it.
package collection

import (
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/gtid"
	"github.com/kartikbazzad/storedb/internal/kv"
	"github.com/kartikbazzad/storedb/internal/metrics"
)

// Flavor tags which concrete collection shape a Collection implements.
// The runtime-polymorphic class tree the source system used is modeled
// here as a single struct with a Flavor discriminant plus per-flavor state
// blocks, sharing one write-path implementation parameterized by policy
// (spec.md §9 Design Notes).
type Flavor int

const (
	FlavorIndexed Flavor = iota
	FlavorNaturalOrder
	FlavorCapped
	FlavorProfile
	FlavorOplog
	FlavorSystemCatalog
	FlavorSystemUsers
)

// DictOpener opens the dictionary backing a new index, named by this
// collection's namespace and the index name.
type DictOpener func(ns, indexName string) (kv.Dictionary, error)

// Collection is the common state and write path shared by every flavor
// (spec.md §3 "Collection state"). Flavor-specific behavior is reached
// through the capability accessors (AsCapped, AsTailable, AsBulkLoading),
// the pk pattern and allowUpdate/allowDelete set per flavor, and the
// flavor-specific Insert methods, not through subtype dispatch.
type Collection struct {
	ns      string
	options bsonish.Doc
	pk      bsonish.KeyPattern
	flavor  Flavor

	openDict DictOpener
	// buildPool bounds the concurrency of this collection's hot (background)
	// index builds; shared process-wide via Map, sized from
	// config.IndexBuildConfig (spec.md §4.9).
	buildPool *ants.Pool
	metrics   *metrics.Registry

	mu                   sync.RWMutex
	indexes              []*IndexDetails
	nIndexes             int
	indexBuildInProgress bool
	multiKeyIndexBits    uint64
	indexedPaths         map[string]int // path -> count of indexes covering it

	queryCache *QueryCache

	allowUpdate bool
	allowDelete bool

	// Natural-order PK state (NaturalOrder, Capped, Profile, Oplog share
	// the "auto-increment stored as field $" strategy except Oplog, which
	// uses the GTID manager instead).
	nextPK atomic.Uint64

	// Capped-only state (spec.md §4.5). Guarded by cappedMu except the two
	// atomic counters.
	cappedMu          sync.Mutex
	deleteMutex       sync.Mutex
	maxSize           int64
	maxObjects        int64
	currentObjects    atomic.Int64
	currentSize       atomic.Int64
	minPerTxn     map[uint64]uint64 // txn ID -> smallest PK it has inserted
	lastDeletedPK uint64

	// Oplog-only state.
	gtidMgr *gtid.Manager

	// Bulk-load-only state (spec.md §4.8).
	bulkLoading    bool
	bulkLoadConn   uint64
	bulkLoaders    []kv.BulkLoader
	bulkMultikeys  []bool

	// checkpoint persists this collection's current catalog entry,
	// including an in-progress hot build's candidate index, right after
	// the candidate is registered (spec.md §6 "includeHotIndex"). Set by
	// Map.build; nil has no effect (ensureIndexOnce skips the checkpoint).
	checkpoint func() error
}

// NS returns the collection's immutable namespace string.
func (c *Collection) NS() string { return c.ns }

// Flavor returns which concrete shape this collection implements.
func (c *Collection) Flavor() Flavor { return c.flavor }

// PK returns the collection's primary-key pattern.
func (c *Collection) PK() bsonish.KeyPattern { return c.pk }

// NIndexes returns the committed index count (excludes an in-progress
// background build, spec.md §3 invariant 4).
func (c *Collection) NIndexes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nIndexes
}

// Index returns the index at position i: a committed index for
// i < NIndexes(), the in-progress build candidate for i == NIndexes()
// while one is registered, and nil when i is out of range.
func (c *Collection) Index(i int) *IndexDetails {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.indexes) {
		return nil
	}
	return c.indexes[i]
}

// IsMultikey reports whether index i has ever generated more than one key
// for some document (spec.md §3 invariant 2).
func (c *Collection) IsMultikey(i int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.multiKeyIndexBits&(1<<uint(i)) != 0
}

func (c *Collection) setMultikey(i int) {
	c.mu.Lock()
	c.multiKeyIndexBits |= 1 << uint(i)
	c.mu.Unlock()
}

// Tailable is the capability view a cursor on an append-mostly collection
// uses to bound safe reads (spec.md §4.5 tailable visibility, §4.6 oplog).
type Tailable interface {
	MinUnsafeKey() bsonish.Key
}

// AsTailable returns c's Tailable view if its flavor supports one.
func (c *Collection) AsTailable() (Tailable, bool) {
	if c.flavor == FlavorCapped || c.flavor == FlavorProfile || c.flavor == FlavorOplog {
		return c, true
	}
	return nil, false
}

// CappedView is the capability view exposing gorge/trim bookkeeping.
type CappedView interface {
	IsGorged() bool
	Stats() (objects, size int64)
}

// AsCapped returns c's CappedView if its flavor is capped-shaped.
func (c *Collection) AsCapped() (CappedView, bool) {
	if c.flavor == FlavorCapped || c.flavor == FlavorProfile {
		return c, true
	}
	return nil, false
}

// BulkLoading is the capability view exposing the connection a bulk load
// is pinned to.
type BulkLoading interface {
	ConnectionID() uint64
}

// AsBulkLoading returns c's BulkLoading view if a bulk load is active.
func (c *Collection) AsBulkLoading() (BulkLoading, bool) {
	if c.bulkLoading {
		return c, true
	}
	return nil, false
}

func (c *Collection) ConnectionID() uint64 { return c.bulkLoadConn }
