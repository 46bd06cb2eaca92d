package collection

import (
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/catalog"
	"github.com/kartikbazzad/storedb/internal/config"
	"github.com/kartikbazzad/storedb/internal/errors"
	"github.com/kartikbazzad/storedb/internal/gtid"
	"github.com/kartikbazzad/storedb/internal/kv"
	"github.com/kartikbazzad/storedb/internal/logger"
	"github.com/kartikbazzad/storedb/internal/metrics"
)

// Map is the process-wide namespace → collection registry (spec.md §4.1),
// guarded by a single reader-writer lock the way the teacher guards its
// catalog and collection registry.
type Map struct {
	mu          sync.RWMutex
	collections map[string]*Collection

	cat       *catalog.Catalog
	openDict  DictOpener
	cfg       *config.Config
	buildPool *ants.Pool
	metrics   *metrics.Registry
	logger    *logger.Logger

	classifier *errors.Classifier
	retry      *errors.RetryController
	errTracker *errors.ErrorTracker
}

// Errors returns the error tracker accumulating classified failures from
// catalog persistence, for a caller (e.g. an admin surface) to inspect.
func (m *Map) Errors() *errors.ErrorTracker { return m.errTracker }

// Metrics returns the Prometheus registry every collection m owns reports
// into, for a caller to mount behind its own /metrics handler.
func (m *Map) Metrics() *metrics.Registry { return m.metrics }

// persistCatalog writes entry through the retry controller: catalog.Put's
// failure modes are disk I/O errors, which the classifier treats as
// transient, so a write that fails because of e.g. a momentary ENOSPC gets a
// few backoff-and-retry attempts before giving up (spec.md §6 treats the
// catalog's durability as this core's concern, not the dictionary engine's).
func (m *Map) persistCatalog(entry catalog.Entry) error {
	err := m.retry.Retry(func() error { return m.cat.Put(entry) }, m.classifier)
	if err != nil {
		m.errTracker.RecordError(err, m.classifier.Classify(err))
		m.metrics.RecordError(m.classifier, err)
	}
	return err
}

// NewMap builds an empty collection map backed by cat for persistence and
// openDict for opening each index's storage handle. Background index builds
// across every collection this map owns share one ants pool, sized from
// cfg.IndexBuild the way the teacher sizes its IPC connection-handler pool.
func NewMap(cat *catalog.Catalog, openDict DictOpener, cfg *config.Config) *Map {
	size := cfg.IndexBuild.WorkerPoolSize
	if size <= 0 {
		size = 1
	}
	opts := []ants.Option{ants.WithPanicHandler(func(v any) {
		panic(fmt.Sprintf("collection: index build panic: %v", v))
	})}
	if cfg.IndexBuild.WorkerExpiry > 0 {
		opts = append(opts, ants.WithExpiryDuration(cfg.IndexBuild.WorkerExpiry))
	}
	if cfg.IndexBuild.PreAlloc {
		opts = append(opts, ants.WithPreAlloc(true))
	}
	pool, _ := ants.NewPool(size, opts...)

	return &Map{
		collections: make(map[string]*Collection),
		cat:         cat,
		openDict:    openDict,
		cfg:         cfg,
		buildPool:   pool,
		metrics:     metrics.NewRegistry(cfg.Metrics),
		logger:      logger.Default(),
		classifier:  errors.NewClassifier(),
		retry:       errors.NewRetryController(),
		errTracker:  errors.NewErrorTracker(),
	}
}

// LoadFromCatalog reopens every namespace cat already knows about,
// applying the same flavor-selection rules a fresh creation would (spec.md
// §4.1 "From serialized metadata, the same mapping is applied").
func (m *Map) LoadFromCatalog() error {
	for _, entry := range m.cat.List() {
		c, err := m.reopen(entry)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.collections[entry.NS] = c
		m.mu.Unlock()
	}
	return nil
}

// GetCollection returns ns's collection if already open.
func (m *Map) GetCollection(ns string) (*Collection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[ns]
	return c, ok
}

// GetOrCreateCollection returns ns's collection, creating it with options
// on first reference (spec.md §4.1 "auto-create on first
// insert/upsert/ensureIndex"). Concurrent creation of the same namespace is
// serialized by m.mu and idempotent: only the first caller to observe an
// absent entry builds it, every other concurrent caller observes the
// result of that build rather than racing a second one (an Open Question
// in spec.md §4.1, resolved this way since the map's lock already
// serializes every structural mutation).
func (m *Map) GetOrCreateCollection(ns string, options bsonish.Doc) (*Collection, error) {
	m.mu.RLock()
	if c, ok := m.collections[ns]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[ns]; ok {
		return c, nil
	}

	c, err := m.build(ns, options)
	if err != nil {
		return nil, err
	}
	if err := m.persistCatalog(entryFromCollection(c, false)); err != nil {
		return nil, err
	}
	m.collections[ns] = c
	return c, nil
}

// DropCollection closes and removes ns, deleting its catalog entry.
func (m *Map) DropCollection(ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[ns]
	if !ok {
		return errors.ErrNamespaceMissing
	}
	for _, idx := range c.indexes[:c.nIndexes] {
		idx.Dict.Close()
	}
	delete(m.collections, ns)
	return m.cat.Drop(ns)
}

// EnsureIndex drives collection ns's index builder then persists the
// resulting index catalog.
func (m *Map) EnsureIndex(ns string, info bsonish.Doc) (bool, error) {
	c, ok := m.GetCollection(ns)
	if !ok {
		return false, errors.ErrNamespaceMissing
	}
	created, err := c.EnsureIndex(info)
	if err != nil {
		return false, err
	}
	if created {
		if perr := m.persistCatalog(entryFromCollection(c, false)); perr != nil {
			return created, perr
		}
	}
	return created, nil
}

// DropIndex drops a secondary index on ns and persists the result.
func (m *Map) DropIndex(ns, name string) error {
	c, ok := m.GetCollection(ns)
	if !ok {
		return errors.ErrNamespaceMissing
	}
	if err := c.DropIndex(name); err != nil {
		return err
	}
	return m.persistCatalog(entryFromCollection(c, false))
}

// BeginBulkLoad requires ns to already exist and be empty (spec.md §4.8).
func (m *Map) BeginBulkLoad(ns string, connID uint64) error {
	c, ok := m.GetCollection(ns)
	if !ok {
		return errors.ErrNamespaceMissing
	}
	if err := c.BeginBulkLoad(connID); err != nil {
		return err
	}
	entry := entryFromCollection(c, false)
	entry.BulkLoad = true
	return m.persistCatalog(entry)
}

func (m *Map) CommitBulkLoad(ns string, connID uint64) error {
	c, ok := m.GetCollection(ns)
	if !ok {
		return errors.ErrNamespaceMissing
	}
	if err := c.CommitBulkLoad(connID); err != nil {
		return err
	}
	return m.persistCatalog(entryFromCollection(c, false))
}

func (m *Map) AbortBulkLoad(ns string, connID uint64) error {
	c, ok := m.GetCollection(ns)
	if !ok {
		return errors.ErrNamespaceMissing
	}
	if err := c.AbortBulkLoad(connID); err != nil {
		return err
	}
	return m.persistCatalog(entryFromCollection(c, false))
}

// build constructs a fresh collection of the flavor selected by ns and
// options (spec.md §4.1's factory rules), with only its PK index open.
func (m *Map) build(ns string, options bsonish.Doc) (*Collection, error) {
	flavor := selectFlavor(ns, options)

	c := &Collection{
		ns:           ns,
		options:      options,
		flavor:       flavor,
		openDict:     m.openDict,
		buildPool:    m.buildPool,
		metrics:      m.metrics,
		minPerTxn:    make(map[uint64]uint64),
		indexedPaths: make(map[string]int),
	}

	switch flavor {
	case FlavorIndexed, FlavorSystemUsers:
		c.pk = decodePKPattern(options)
		c.allowUpdate, c.allowDelete = true, true
	case FlavorNaturalOrder:
		c.pk = NaturalOrderKeyPattern()
		c.allowUpdate, c.allowDelete = true, true
	case FlavorCapped:
		c.pk = NaturalOrderKeyPattern()
		c.allowUpdate, c.allowDelete = true, true
		c.maxSize, c.maxObjects = cappedLimits(options, m.cfg)
	case FlavorProfile:
		c.pk = NaturalOrderKeyPattern()
		c.allowUpdate, c.allowDelete = false, true
		c.maxSize, c.maxObjects = cappedLimits(options, m.cfg)
	case FlavorOplog:
		c.pk = OplogKeyPattern()
		c.allowUpdate, c.allowDelete = false, false
		c.gtidMgr = gtid.NewManager(gtid.GTID{})
	case FlavorSystemCatalog:
		c.pk = NaturalOrderKeyPattern()
		c.allowUpdate, c.allowDelete = false, true
	}

	c.queryCache = NewQueryCache(m.cfg.QueryCache.MaxEntries)

	pkName := pkIndexName(c.pk)
	dict, err := m.openDict(ns, pkName)
	if err != nil {
		return nil, err
	}
	c.indexes = []*IndexDetails{{
		Key:        c.pk,
		Name:       pkName,
		Unique:     true,
		Clustering: true,
		Dict:       dict,
	}}
	c.nIndexes = 1
	c.recomputeIndexedPathsLocked()
	c.checkpoint = func() error { return m.persistCatalog(entryFromCollection(c, true)) }

	return c, nil
}

// reopen rebuilds a collection from a persisted catalog.Entry, opening
// every index it names (spec.md §4.1 "reopened from serialized metadata").
func (m *Map) reopen(entry catalog.Entry) (*Collection, error) {
	c, err := m.build(entry.NS, entry.Options)
	if err != nil {
		return nil, err
	}

	c.indexes = c.indexes[:0]
	c.nIndexes = 0
	for _, rec := range entry.Indexes {
		dict, err := m.openDict(entry.NS, rec.Name)
		if err != nil {
			return nil, err
		}
		c.indexes = append(c.indexes, &IndexDetails{
			Key:        rec.Key,
			Name:       rec.Name,
			Unique:     rec.Unique,
			Sparse:     rec.Sparse,
			Clustering: rec.Clustering,
			Background: rec.Background,
			Dict:       dict,
		})
	}
	// entry.NIndexes < len(c.indexes) means entry was persisted with
	// includeHotIndex set while a hot build was in progress: the trailing
	// record is that build's uncommitted candidate, not a committed index
	// (spec.md §6 "includeHotIndex").
	resumePos := -1
	if entry.NIndexes > 0 && int(entry.NIndexes) < len(c.indexes) {
		c.nIndexes = int(entry.NIndexes)
		c.indexBuildInProgress = true
		resumePos = c.nIndexes
	} else {
		c.nIndexes = len(c.indexes)
	}
	c.multiKeyIndexBits = entry.MultiKeyIndexBits
	c.recomputeIndexedPathsLocked()

	// A system-users collection missing its extended {user,userSource}
	// index (spec.md §4.7's "legacy missing-index error is tolerated")
	// reopens rather than failing, but unlike the original tolerated-bug
	// behavior it now warns and repairs itself (spec.md §9 "bug #673").
	if c.flavor == FlavorSystemUsers {
		if err := c.ensureExtendedIndex(m.logger); err != nil {
			return nil, err
		}
	}

	if entry.BulkLoad {
		// Reopening with bulkLoad set promotes this instance back to
		// BulkLoadedCollection (spec.md §4.1), but the pinned connection
		// itself is runtime-only state that doesn't survive a restart;
		// bulkLoadConn stays the zero sentinel until the first write pins
		// it (see InsertObject's bulk-load branch).
		c.bulkLoading = true
		c.bulkLoadConn = 0
		c.bulkMultikeys = make([]bool, c.nIndexes)
		loaders := make([]kv.BulkLoader, c.nIndexes)
		for i, idx := range c.indexes {
			loaders[i] = idx.Dict.NewBulkLoader()
		}
		c.bulkLoaders = loaders
	}

	if resumePos >= 0 {
		candidate := c.indexes[resumePos]
		if err := c.ResumeHotBuild(candidate, resumePos); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func selectFlavor(ns string, options bsonish.Doc) Flavor {
	if v, ok := options.Get("capped"); ok {
		if b, _ := v.(bool); b {
			if strings.HasSuffix(ns, ".system.profile") {
				return FlavorProfile
			}
			return FlavorCapped
		}
	}
	coll := catalog.CollectionName(ns)
	switch {
	case strings.HasPrefix(coll, "oplog."):
		return FlavorOplog
	case coll == "system.indexes" || coll == "system.namespaces":
		return FlavorSystemCatalog
	case coll == "system.users":
		return FlavorSystemUsers
	default:
		return FlavorIndexed
	}
}

func decodePKPattern(options bsonish.Doc) bsonish.KeyPattern {
	def := bsonish.KeyPattern{{Path: "_id", Dir: 1}}
	v, ok := options.Get("pk")
	if !ok {
		return def
	}
	doc, ok := v.(bsonish.Doc)
	if !ok || doc.Len() == 0 {
		return def
	}
	pattern := make(bsonish.KeyPattern, 0, doc.Len())
	for _, e := range doc.Elems() {
		dir := int8(1)
		if n, ok := e.Value.(int64); ok && n < 0 {
			dir = -1
		}
		pattern = append(pattern, bsonish.KeyPart{Path: e.Key, Dir: dir})
	}
	return pattern
}

func pkIndexName(pattern bsonish.KeyPattern) string {
	if len(pattern) == 1 && pattern[0].Path == "_id" {
		return "_id_"
	}
	return IndexName(pattern)
}

func cappedLimits(options bsonish.Doc, cfg *config.Config) (maxSize, maxObjects int64) {
	maxSize, maxObjects = cfg.Capped.DefaultMaxSizeBytes, cfg.Capped.DefaultMaxObjects
	if v, ok := options.Get("size"); ok {
		if n, ok := v.(int64); ok && n > 0 {
			maxSize = n
		}
	}
	if v, ok := options.Get("max"); ok {
		if n, ok := v.(int64); ok && n > 0 {
			maxObjects = n
		}
	}
	return maxSize, maxObjects
}

// entryFromCollection derives the persisted catalog.Entry for c's current
// state (spec.md §6 "Serialization format for metadata"). includeHotIndex
// controls whether an in-progress background build's candidate index is
// appended beyond the committed ones (spec.md §6 "includeHotIndex"); it has
// no effect unless a hot build is actually in progress.
func entryFromCollection(c *Collection, includeHotIndex bool) catalog.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.nIndexes
	if includeHotIndex && c.indexBuildInProgress && c.nIndexes < len(c.indexes) && c.indexes[c.nIndexes].Background {
		n = len(c.indexes)
	}

	recs := make([]catalog.IndexRecord, 0, n)
	for _, idx := range c.indexes[:n] {
		recs = append(recs, catalog.IndexRecord{
			Name:       idx.Name,
			Key:        idx.Key,
			Unique:     idx.Unique,
			Sparse:     idx.Sparse,
			Clustering: idx.Clustering,
			Background: idx.Background,
		})
	}
	return catalog.Entry{
		NS:                c.ns,
		Options:           c.options,
		PK:                c.pk,
		Indexes:           recs,
		NIndexes:          uint32(c.nIndexes),
		MultiKeyIndexBits: c.multiKeyIndexBits,
		BulkLoad:          c.bulkLoading,
	}
}
