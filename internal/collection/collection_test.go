package collection

import (
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/catalog"
	"github.com/kartikbazzad/storedb/internal/config"
	"github.com/kartikbazzad/storedb/internal/kv"
	"github.com/kartikbazzad/storedb/internal/logger"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

func newTestMap(t *testing.T) (*Map, *txnctx.Manager) {
	t.Helper()
	cat := catalog.NewCatalog(filepath.Join(t.TempDir(), "catalog.db"), logger.Default())
	if err := cat.Load(); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	dicts := make(map[string]*kv.MemDictionary)
	opener := func(ns, indexName string) (kv.Dictionary, error) {
		key := ns + "\x00" + indexName
		if d, ok := dicts[key]; ok {
			return d, nil
		}
		d := kv.NewMemDictionary(key)
		dicts[key] = d
		return d, nil
	}

	m := NewMap(cat, opener, config.DefaultConfig())
	return m, txnctx.NewManager()
}

// TestS1Basic mirrors spec.md scenario S1: create, insert two docs,
// ensureIndex, findOne-equivalent lookup, drop the secondary index,
// dropping the PK index fails.
func TestS1Basic(t *testing.T) {
	m, txm := newTestMap(t)

	c, err := m.GetOrCreateCollection("db.coll", bsonish.NewDoc())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tx := txm.Begin(1)
	if _, err := c.InsertObject(tx, bsonish.D("_id", int64(1), "a", int64(10)), 0); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := c.InsertObject(tx, bsonish.D("_id", int64(2), "a", int64(20)), 0); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if err := txm.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := m.EnsureIndex("db.coll", bsonish.D("key", bsonish.D("a", int64(1)))); err != nil {
		t.Fatalf("ensureIndex: %v", err)
	}

	idx := c.Index(1)
	if idx == nil {
		t.Fatalf("expected secondary index at position 1")
	}
	found, err := idx.Dict.Get(EncodeIndexKey(bsonish.Key{int64(20)}, idx.Key, bsonish.Key{int64(2)}, c.PK()), nil)
	if err != nil || !found {
		t.Fatalf("expected to find a=20 in secondary index, found=%v err=%v", found, err)
	}

	if err := m.DropIndex("db.coll", idx.Name); err != nil {
		t.Fatalf("drop secondary index: %v", err)
	}
	if err := m.DropIndex("db.coll", "_id_"); err == nil {
		t.Fatalf("expected dropping the PK index to fail")
	}
}

// TestS4Multikey mirrors spec.md scenario S4.
func TestS4Multikey(t *testing.T) {
	m, txm := newTestMap(t)
	c, err := m.GetOrCreateCollection("db.coll", bsonish.NewDoc())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.EnsureIndex("db.coll", bsonish.D("key", bsonish.D("a", int64(1)))); err != nil {
		t.Fatalf("ensureIndex: %v", err)
	}

	tx := txm.Begin(1)
	if _, err := c.InsertObject(tx, bsonish.D("_id", int64(1), "a", bsonish.Array{int64(1), int64(2)}), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := txm.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if !c.IsMultikey(1) {
		t.Fatalf("expected index 1 to be flagged multikey")
	}

	idx := c.Index(1)
	found, _ := idx.Dict.Get(EncodeIndexKey(bsonish.Key{int64(2)}, idx.Key, bsonish.Key{int64(1)}, c.PK()), nil)
	if !found {
		t.Fatalf("expected a=2 to be present in the multikey index")
	}
}

// TestDuplicateKeyRejected checks invariant 1 holds across a unique
// secondary index.
func TestDuplicateKeyRejected(t *testing.T) {
	m, txm := newTestMap(t)
	c, _ := m.GetOrCreateCollection("db.coll", bsonish.NewDoc())
	if _, err := m.EnsureIndex("db.coll", bsonish.D("key", bsonish.D("a", int64(1)), "unique", true)); err != nil {
		t.Fatalf("ensureIndex: %v", err)
	}

	tx := txm.Begin(1)
	if _, err := c.InsertObject(tx, bsonish.D("_id", int64(1), "a", int64(5)), 0); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := c.InsertObject(tx, bsonish.D("_id", int64(2), "a", int64(5)), 0); err == nil {
		t.Fatalf("expected duplicate key error on second insert")
	}
	txm.Commit(tx)
}

// TestEnsureIndexIdempotent checks invariant 3.
func TestEnsureIndexIdempotent(t *testing.T) {
	m, _ := newTestMap(t)
	m.GetOrCreateCollection("db.coll", bsonish.NewDoc())

	info := bsonish.D("key", bsonish.D("a", int64(1)))
	created1, err := m.EnsureIndex("db.coll", info)
	if err != nil || !created1 {
		t.Fatalf("first ensureIndex: created=%v err=%v", created1, err)
	}
	created2, err := m.EnsureIndex("db.coll", info)
	if err != nil || created2 {
		t.Fatalf("second ensureIndex should be a no-op: created=%v err=%v", created2, err)
	}
}

// TestS2Capped mirrors spec.md scenario S2.
func TestS2Capped(t *testing.T) {
	m, txm := newTestMap(t)
	c, err := m.GetOrCreateCollection("db.capped", bsonish.D("capped", true, "size", int64(100), "max", int64(3)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	capView, ok := c.AsCapped()
	if !ok {
		t.Fatalf("expected a capped view")
	}

	// Each insert commits on its own: trim never removes a PK at or above
	// the smallest PK an open transaction inserted. Each document is just
	// {$: pk}, 19 encoded bytes, so four of them stay under the 100-byte
	// size limit and only max: 3 forces the trim.
	var firstPK bsonish.Key
	for i := 0; i < 4; i++ {
		tx := txm.Begin(1)
		pk, err := c.InsertCapped(tx, bsonish.D(), 0)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if i == 0 {
			firstPK = pk
		}
		txm.Commit(tx)
	}

	objects, _ := capView.Stats()
	if objects != 3 {
		t.Fatalf("expected 3 objects after trim, got %d", objects)
	}

	idx0 := c.Index(0)
	found, _ := idx0.Dict.Get(EncodeKey(firstPK, idx0.Key), nil)
	if found {
		t.Fatalf("expected the first inserted document to have been trimmed")
	}
}

// TestS3CappedRollback mirrors spec.md scenario S3: minUnsafeKey tracks
// the smallest in-flight transaction's PK until it resolves.
func TestS3CappedRollback(t *testing.T) {
	m, txm := newTestMap(t)
	c, _ := m.GetOrCreateCollection("db.capped", bsonish.D("capped", true))
	tailable, ok := c.AsTailable()
	if !ok {
		t.Fatalf("expected a tailable view")
	}

	t1 := txm.Begin(1)
	pkA, err := c.InsertCapped(t1, bsonish.D("v", int64(1)), 0)
	if err != nil {
		t.Fatalf("insert A: %v", err)
	}

	t2 := txm.Begin(2)
	pkB, err := c.InsertCapped(t2, bsonish.D("v", int64(2)), 0)
	if err != nil {
		t.Fatalf("insert B: %v", err)
	}

	if err := txm.Abort(t1); err != nil {
		t.Fatalf("abort t1: %v", err)
	}

	got := tailable.MinUnsafeKey()
	if bsonish.CompareKeys(c.PK(), got, pkB) != 0 {
		t.Fatalf("expected minUnsafeKey == B's pk after aborting T1, got %v want %v", got, pkB)
	}

	if err := txm.Commit(t2); err != nil {
		t.Fatalf("commit t2: %v", err)
	}

	got = tailable.MinUnsafeKey()
	want := bsonish.Key{int64(2)}
	if bsonish.CompareKeys(c.PK(), got, want) != 0 {
		t.Fatalf("expected minUnsafeKey == nextPK after T2 commits, got %v want %v", got, want)
	}
	_ = pkA
}

// TestS5BulkLoad mirrors spec.md scenario S5.
func TestS5BulkLoad(t *testing.T) {
	m, _ := newTestMap(t)
	c, err := m.GetOrCreateCollection("db.bulk", bsonish.NewDoc())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.EnsureIndex("db.bulk", bsonish.D("key", bsonish.D("a", int64(1)))); err != nil {
		t.Fatalf("ensureIndex: %v", err)
	}

	const connC, connCPrime = 1, 2

	if err := m.BeginBulkLoad("db.bulk", connC); err != nil {
		t.Fatalf("beginBulkLoad: %v", err)
	}

	txm := txnctx.NewManager()
	txC := &pinnedTxn{id: 1, connID: connC}
	for i := 0; i < 1000; i++ {
		if _, err := c.InsertObject(txC, bsonish.D("_id", int64(i), "a", int64(i)), 0); err != nil {
			t.Fatalf("bulk insert %d: %v", i, err)
		}
	}

	txCPrime := &pinnedTxn{id: 2, connID: connCPrime}
	if _, err := c.InsertObject(txCPrime, bsonish.D("_id", int64(9999)), 0); err == nil {
		t.Fatalf("expected a write from another connection to fail with BulkLoadConflict")
	}

	if err := m.CommitBulkLoad("db.bulk", connC); err != nil {
		t.Fatalf("commitBulkLoad: %v", err)
	}

	reopened, ok := m.GetCollection("db.bulk")
	if !ok {
		t.Fatalf("expected collection to remain registered after commit")
	}
	if reopened.NIndexes() != 2 {
		t.Fatalf("expected 2 committed indexes, got %d", reopened.NIndexes())
	}
	idx1 := reopened.Index(1)
	found, _ := idx1.Dict.Get(EncodeIndexKey(bsonish.Key{int64(500)}, idx1.Key, bsonish.Key{int64(500)}, reopened.PK()), nil)
	if !found {
		t.Fatalf("expected secondary index to be populated by the bulk load")
	}
	_ = txm
}

// TestHotIndexBuildAbsorbsConcurrentWrites reconstructs the race spec.md
// §4.9 requires the write path to survive: a document already picked up by
// a hot (background) build's cursor scan is deleted, and another is
// updated on a path the new index covers, before the build commits. The
// committed index must end up with no stale entry for the deleted document
// and no orphaned old-key entry for the updated one (the invariant 1
// cardinality check in spec.md §8, count(index[0]) == count(indexᵢ)).
//
// The hot build's own commit sequence (ensureIndexOnce, indexer.go) is
// reconstructed here step by step instead of going through EnsureIndex so
// the concurrent delete/update can be interleaved deterministically between
// the builder's cursor scan and the build's commit, rather than racing a
// real background goroutine.
func TestHotIndexBuildAbsorbsConcurrentWrites(t *testing.T) {
	m, txm := newTestMap(t)
	c, err := m.GetOrCreateCollection("db.hot", bsonish.NewDoc())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tx := txm.Begin(1)
	doc1 := bsonish.D("_id", int64(1), "a", int64(10))
	doc2 := bsonish.D("_id", int64(2), "a", int64(20))
	if _, err := c.InsertObject(tx, doc1, 0); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := c.InsertObject(tx, doc2, 0); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if err := txm.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Start a hot build on {a:1}, mirroring ensureIndexOnce up through
	// registering the in-progress candidate (indexer.go:57-80).
	info := bsonish.D("key", bsonish.D("a", int64(1)), "background", true)
	candidate := NewIndexDetails(c.ns, info, nil)
	candidate.Name = IndexName(candidate.Key)
	dict, err := c.openDict(c.ns, candidate.Name)
	if err != nil {
		t.Fatalf("openDict: %v", err)
	}
	candidate.Dict = dict

	c.mu.Lock()
	pos := c.nIndexes
	c.indexBuildInProgress = true
	if pos < len(c.indexes) {
		c.indexes[pos] = candidate
	} else {
		c.indexes = append(c.indexes, candidate)
	}
	c.mu.Unlock()

	// Simulate buildHot's pool worker having already drained both
	// documents from index 0 into the candidate before anything else
	// happens, so the builder's own entries for doc1/doc2 are the ones the
	// subsequent delete/update must now clean up or overwrite.
	for _, doc := range []bsonish.Doc{doc1, doc2} {
		idx0 := c.Index(0)
		pk, _ := bsonish.ExtractPK(doc, c.PK())
		found, gerr := idx0.Dict.Get(EncodeKey(pk, idx0.Key), func(v []byte) error {
			_, _, ierr := c.insertFromPKEntry(candidate, v)
			return ierr
		})
		if gerr != nil || !found {
			t.Fatalf("seed candidate from index 0: found=%v err=%v", found, gerr)
		}
	}

	// Concurrent traffic during the build: delete doc1, update doc2's
	// indexed field away from its old value. Both must also reach the
	// in-progress candidate (writepath.go's liveIndexes), not just the
	// committed indexes.
	wtx := &pinnedTxn{id: 2, connID: 1}
	if err := c.DeleteObject(wtx, bsonish.Key{int64(1)}, doc1, 0); err != nil {
		t.Fatalf("delete doc1: %v", err)
	}
	doc2New := doc2.With("a", int64(99))
	if err := c.UpdateObject(wtx, bsonish.Key{int64(2)}, doc2, doc2New, 0); err != nil {
		t.Fatalf("update doc2: %v", err)
	}

	// Commit the build (finishBuild, indexer.go).
	c.mu.Lock()
	c.nIndexes++
	c.indexBuildInProgress = false
	c.recomputeIndexedPathsLocked()
	c.mu.Unlock()

	idx1 := c.Index(1)
	if found, _ := idx1.Dict.Get(EncodeIndexKey(bsonish.Key{int64(10)}, idx1.Key, bsonish.Key{int64(1)}, c.PK()), nil); found {
		t.Fatalf("deleted document left a stale entry in the hot-built index")
	}
	if found, _ := idx1.Dict.Get(EncodeIndexKey(bsonish.Key{int64(20)}, idx1.Key, bsonish.Key{int64(2)}, c.PK()), nil); found {
		t.Fatalf("updated document left its old key as an orphaned entry in the hot-built index")
	}
	if found, _ := idx1.Dict.Get(EncodeIndexKey(bsonish.Key{int64(99)}, idx1.Key, bsonish.Key{int64(2)}, c.PK()), nil); !found {
		t.Fatalf("expected updated document's new key to be present in the hot-built index")
	}

	if got, want := countDictEntries(c.Index(0).Dict), countDictEntries(idx1.Dict); got != want {
		t.Fatalf("invariant 1 violated: count(index[0])=%d count(index[1])=%d", got, want)
	}
}

func countDictEntries(d kv.Dictionary) int {
	cur := d.NewCursor()
	defer cur.Close()
	cur.Seek(nil)
	n := 0
	for cur.Next() {
		n++
	}
	return n
}

// pinnedTxn is a minimal txnctx.Txn for exercising connection pinning
// without a full Manager-issued transaction.
type pinnedTxn struct {
	id, connID uint64
}

func (t *pinnedTxn) ID() uint64                 { return t.id }
func (t *pinnedTxn) ConnectionID() uint64       { return t.connID }
func (t *pinnedTxn) RegisterOnCommit(fn func()) {}
func (t *pinnedTxn) RegisterOnAbort(fn func())  {}
