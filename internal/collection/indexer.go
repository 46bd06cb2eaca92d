package collection

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/errors"
)

// maxIndexes is the per-collection index cap (spec.md §4.9).
const maxIndexes = 64

// ensureGroup collapses concurrent identical ensureIndex calls for the same
// (namespace, index name) into one build (spec.md §4.9 invariant: only one
// indexer may be active at a time per collection, and re-issuing an
// in-progress build's spec must not start a second one).
var ensureGroup singleflight.Group

// EnsureIndex implements ensureIndex (spec.md §4.9): normalize info,
// return false without mutating anything if an equivalent index already
// exists, reject if the collection already has 64 indexes, and otherwise
// drive a cold or hot Indexer according to info's "background" flag.
func (c *Collection) EnsureIndex(info bsonish.Doc) (bool, error) {
	candidate := NewIndexDetails(c.ns, info, nil)
	sfKey := c.ns + "\x00" + candidate.Name
	if candidate.Name == "" {
		sfKey = c.ns + "\x00" + IndexName(candidate.Key)
	}

	v, err, _ := ensureGroup.Do(sfKey, func() (any, error) {
		return c.ensureIndexOnce(candidate)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *Collection) ensureIndexOnce(candidate *IndexDetails) (bool, error) {
	c.mu.Lock()
	for _, existing := range c.indexes[:c.nIndexes] {
		if EqualSpec(existing, candidate) {
			c.mu.Unlock()
			return false, nil
		}
	}
	if c.nIndexes >= maxIndexes {
		c.mu.Unlock()
		return false, errors.ErrTooManyIndexes
	}
	if c.indexBuildInProgress {
		c.mu.Unlock()
		return false, errors.ErrIndexBuildInProgress
	}
	c.indexBuildInProgress = true
	pos := c.nIndexes
	c.mu.Unlock()

	if candidate.Name == "" {
		candidate.Name = IndexName(candidate.Key)
	}

	dict, err := c.openDict(c.ns, candidate.Name)
	if err != nil {
		c.mu.Lock()
		c.indexBuildInProgress = false
		c.mu.Unlock()
		return false, err
	}
	candidate.Dict = dict

	c.mu.Lock()
	if pos < len(c.indexes) {
		c.indexes[pos] = candidate
	} else {
		c.indexes = append(c.indexes, candidate)
	}
	c.mu.Unlock()

	if candidate.Background && c.checkpoint != nil {
		// Persist the candidate's existence (includeHotIndex, spec.md §6)
		// before the drain runs, so a crash mid-build leaves a resumable
		// record rather than an orphaned, uncataloged dictionary.
		if err := c.checkpoint(); err != nil {
			c.mu.Lock()
			c.indexes = c.indexes[:pos]
			c.indexBuildInProgress = false
			c.mu.Unlock()
			dict.Close()
			return false, err
		}
	}

	mode := "cold"
	var buildErr error
	var multikey bool
	if candidate.Background {
		mode = "hot"
		buildErr, multikey = c.buildHot(candidate)
	} else {
		buildErr, multikey = c.buildCold(candidate)
	}

	return c.finishBuild(candidate, pos, mode, buildErr, multikey)
}

// finishBuild applies a build's outcome: roll back on failure or a
// uniqueness violation, otherwise commit the candidate as index pos and
// clear indexBuildInProgress. Shared by ensureIndexOnce and ResumeHotBuild
// so a checkpointed build resumed after a restart commits identically to
// one that ran start-to-finish in one call.
func (c *Collection) finishBuild(candidate *IndexDetails, pos int, mode string, buildErr error, multikey bool) (bool, error) {
	defer func() { c.metrics.RecordIndexBuild(mode, buildErr) }()

	if buildErr != nil {
		c.mu.Lock()
		c.indexes = c.indexes[:pos]
		c.indexBuildInProgress = false
		c.mu.Unlock()
		candidate.Dict.Close()
		return false, errors.ErrIndexBuildFailed
	}

	c.mu.Lock()
	if candidate.Unique {
		if dupErr := c.checkIndexUniqueness(candidate); dupErr != nil {
			c.indexes = c.indexes[:pos]
			c.indexBuildInProgress = false
			c.mu.Unlock()
			candidate.Dict.Close()
			return false, dupErr
		}
	}
	if multikey {
		c.multiKeyIndexBits |= 1 << uint(pos)
	}
	c.nIndexes++
	c.indexBuildInProgress = false
	c.recomputeIndexedPathsLocked()
	nIndexes := c.nIndexes
	c.mu.Unlock()

	c.metrics.IndexesTotal.WithLabelValues(c.ns).Set(float64(nIndexes))
	return true, nil
}

// ResumeHotBuild re-drives a hot build that was checkpointed before a
// restart interrupted it (spec.md §6 includeHotIndex): candidate is already
// registered at position pos with its dictionary open from reopen(), so
// this only needs to drain index 0 into it and commit, exactly as
// ensureIndexOnce's hot path would have.
func (c *Collection) ResumeHotBuild(candidate *IndexDetails, pos int) error {
	buildErr, multikey := c.buildHot(candidate)
	_, err := c.finishBuild(candidate, pos, "hot", buildErr, multikey)
	return err
}

// buildCold implements the cold build phase (spec.md §4.9 table): iterate
// index 0 under an exclusive section (the caller already holds
// indexBuildInProgress), derive keys for candidate, insert synchronously.
func (c *Collection) buildCold(candidate *IndexDetails) (err error, multikey bool) {
	idx0 := c.Index(0)
	cur := idx0.Dict.NewCursor()
	defer cur.Close()

	cur.Seek(nil)
	for cur.Next() {
		doc, anyMultikey, ierr := c.insertFromPKEntry(candidate, cur.Value())
		if ierr != nil {
			return ierr, multikey
		}
		if anyMultikey {
			multikey = true
		}
		_ = doc
	}
	return nil, multikey
}

// buildHot implements the hot build phase: the collection's write path
// keeps inserting into every committed index while an ants-pooled worker
// drains index 0's current contents into the new index, mirroring the
// dictionary engine's online-indexer absorbing concurrent writes through
// its own side buffer (spec.md §4.9's "hot" row).
func (c *Collection) buildHot(candidate *IndexDetails) (err error, multikey bool) {
	idx0 := c.Index(0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wg.Add(1)

	submitErr := c.buildPool.Submit(func() {
		defer wg.Done()
		cur := idx0.Dict.NewCursor()
		defer cur.Close()
		cur.Seek(nil)
		for cur.Next() {
			_, anyMultikey, ierr := c.insertFromPKEntry(candidate, cur.Value())
			mu.Lock()
			if ierr != nil {
				err = ierr
			}
			if anyMultikey {
				multikey = true
			}
			mu.Unlock()
			if ierr != nil {
				return
			}
		}
	})
	if submitErr != nil {
		return submitErr, false
	}
	wg.Wait()
	return err, multikey
}

// insertFromPKEntry decodes one index-0 (key, value) pair back into a
// document, derives candidate's keys from it, and inserts them — the
// per-document unit of work both buildCold and buildHot drive.
func (c *Collection) insertFromPKEntry(candidate *IndexDetails, value []byte) (doc bsonish.Doc, multikey bool, err error) {
	decoded, _, derr := bsonish.Decode(value)
	if derr != nil {
		return doc, false, derr
	}
	doc, ok := decoded.(bsonish.Doc)
	if !ok {
		return doc, false, errors.ErrStorageError
	}

	pk, perr := bsonish.ExtractPK(doc, c.pk)
	if perr != nil {
		return doc, false, perr
	}

	keys, mk := bsonish.ExtractKeys(doc, candidate.Key)
	for _, k := range candidate.Key.Dedup(keys) {
		var physKey, physVal []byte
		if candidate.Unique {
			physKey, physVal = EncodeKey(k, candidate.Key), EncodeKey(pk, c.pk)
			if !candidate.Sparse {
				if found, _ := candidate.Dict.Get(physKey, func([]byte) error { return nil }); found {
					return doc, mk, errors.ErrDuplicateKey
				}
			}
		} else {
			physKey, physVal = EncodeIndexKey(k, candidate.Key, pk, c.pk), EncodeKey(pk, c.pk)
		}
		if ierr := candidate.Dict.Insert(nil, physKey, physVal); ierr != nil {
			return doc, mk, errors.ErrStorageError
		}
	}
	return doc, mk, nil
}

// checkIndexUniqueness scans a just-built unique index for a duplicate
// physical key (two PKs sharing the same encoded secondary key), which
// index-0 iteration order can't catch incrementally (spec.md §4.9 commit
// phase "check uniqueness, uassert on duplicates").
func (c *Collection) checkIndexUniqueness(candidate *IndexDetails) error {
	cur := candidate.Dict.NewCursor()
	defer cur.Close()

	var prevKey []byte
	cur.Seek(nil)
	first := true
	for cur.Next() {
		k := cur.Key()
		if !first && bytesEqual(k, prevKey) {
			return errors.ErrDuplicateKey
		}
		prevKey = append(prevKey[:0], k...)
		first = false
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// recomputeIndexedPathsLocked rebuilds the top-level-path reference counts
// every committed index contributes to, used by updateObject to decide
// which indexes a document diff can possibly affect. c.mu must be held.
func (c *Collection) recomputeIndexedPathsLocked() {
	paths := make(map[string]int)
	for _, idx := range c.indexes[:c.nIndexes] {
		for _, p := range idx.Key.Paths() {
			paths[p]++
		}
	}
	c.indexedPaths = paths
}

// DropIndex removes a committed secondary index by name. Dropping index 0
// (the PK) is never allowed.
func (c *Collection) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, idx := range c.indexes[:c.nIndexes] {
		if idx.Name != name {
			continue
		}
		if i == 0 {
			return errors.ErrOperationNotAllowed
		}
		idx.Dict.Close()
		c.indexes = append(c.indexes[:i], c.indexes[i+1:c.nIndexes]...)
		c.nIndexes--
		c.multiKeyIndexBits = shiftDownBit(c.multiKeyIndexBits, uint(i))
		c.recomputeIndexedPathsLocked()
		c.metrics.IndexesTotal.WithLabelValues(c.ns).Set(float64(c.nIndexes))
		return nil
	}
	return errors.ErrIndexNotFound
}

// shiftDownBit removes bit i from a bitset, shifting every higher bit down
// by one to stay aligned with indexes sliding left after a drop.
func shiftDownBit(bits uint64, i uint) uint64 {
	lower := bits & (1<<i - 1)
	upper := (bits >> (i + 1)) << i
	return lower | upper
}
