package collection

import (
	"time"

	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/errors"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

// approxSize estimates a document's on-disk footprint for capped-collection
// accounting, using the reference codec's encoded length as a stand-in for
// whatever size accounting the real dictionary engine would report.
func approxSize(doc bsonish.Doc) int64 {
	return int64(len(bsonish.Encode(doc)))
}

// InsertObject implements the common write path's insert (spec.md §4.2
// insertObject) for _id-keyed flavors: it redirects to insertBulk while a
// bulk load is active, otherwise synthesizes or extracts the PK
// (preparePK) and writes through writeAllIndexes. The natural-order,
// capped and oplog inserts (naturalorder.go / capped.go / oplog.go) call
// writeAllIndexes directly instead.
func (c *Collection) InsertObject(tx txnctx.Txn, obj bsonish.Doc, flags Flags) (pk bsonish.Key, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOp("insert", start, err) }()

	if c.bulkLoading {
		c.mu.Lock()
		if c.bulkLoadConn == 0 {
			// A collection reopened with its bulkLoad flag set (spec.md
			// §4.1) has no connection pinned yet; the first writer claims
			// it.
			c.bulkLoadConn = tx.ConnectionID()
		}
		pinned := c.bulkLoadConn
		c.mu.Unlock()

		if tx.ConnectionID() != pinned {
			return nil, errors.ErrBulkLoadConflict
		}
		return c.insertBulk(obj)
	}

	pk, obj, err = c.preparePK(obj)
	if err != nil {
		return nil, err
	}

	if err = c.writeAllIndexes(tx, pk, obj, flags); err != nil {
		return nil, err
	}
	return pk, nil
}

// liveIndexes returns the committed indexes plus, if a hot (background)
// build is in progress, the in-progress candidate index. Every write path
// operation — insert, delete, update — must keep the candidate consistent
// with ordinary traffic while it is being built, alongside the builder's
// own cursor scan over index 0 (spec.md §4.9 hot build "side buffer"); both
// write the same deterministic key for a given document, so replaying a
// document through both paths is idempotent.
func (c *Collection) liveIndexes() []*IndexDetails {
	c.mu.RLock()
	defer c.mu.RUnlock()
	indexes := append([]*IndexDetails(nil), c.indexes[:c.nIndexes]...)
	if c.indexBuildInProgress && c.nIndexes < len(c.indexes) && c.indexes[c.nIndexes].Background {
		indexes = append(indexes, c.indexes[c.nIndexes])
	}
	return indexes
}

// writeAllIndexes is the index-population core of insertObject (spec.md
// §4.2 steps 3-5), parameterized on an already-determined pk so the
// natural-order, capped, and oplog flavors — whose PK comes from a counter
// or the GTID manager rather than from obj's own fields — can drive it
// directly without going through preparePK's _id logic.
func (c *Collection) writeAllIndexes(tx txnctx.Txn, pk bsonish.Key, obj bsonish.Doc, flags Flags) error {
	indexes := c.liveIndexes()

	type planned struct {
		idx  int
		det  *IndexDetails
		keys []bsonish.Key
	}
	plans := make([]planned, len(indexes))
	for i, det := range indexes {
		var keys []bsonish.Key
		var multikey bool
		if i == 0 {
			keys = []bsonish.Key{pk}
		} else {
			keys, multikey = bsonish.ExtractKeys(obj, det.Key)
			if multikey {
				c.setMultikey(i)
			}
		}
		plans[i] = planned{idx: i, det: det, keys: keys}
	}

	encodedObj := bsonish.Encode(obj)

	for _, p := range plans {
		for _, k := range p.det.Key.Dedup(p.keys) {
			var physKey []byte
			var physVal []byte
			if p.idx == 0 {
				physKey = EncodeKey(k, p.det.Key)
				physVal = encodedObj
			} else if p.det.Unique {
				physKey = EncodeKey(k, p.det.Key)
				physVal = EncodeKey(pk, c.pk)
			} else {
				physKey = EncodeIndexKey(k, p.det.Key, pk, c.pk)
				physVal = EncodeKey(pk, c.pk)
			}

			if p.idx == 0 {
				if !flags.has(NoPKUniqueChecks) {
					if found, _ := p.det.Dict.Get(physKey, func([]byte) error { return nil }); found {
						return errors.ErrDuplicateKey
					}
				}
			} else if p.det.Unique && !flags.has(NoUniqueChecks) && !p.det.Sparse {
				if found, _ := p.det.Dict.Get(physKey, func([]byte) error { return nil }); found {
					return errors.ErrDuplicateKey
				}
			}

			if err := p.det.Dict.Insert(tx, physKey, physVal); err != nil {
				return errors.ErrStorageError
			}
		}
	}

	if c.queryCache != nil {
		c.queryCache.NotifyWrite(c.ns)
	}

	return nil
}

// preparePK synthesizes an ObjectID for a missing _id when pk == {_id:1}
// (spec.md §4.3), or otherwise extracts and validates the PK from obj
// (spec.md §4.2 step 1).
func (c *Collection) preparePK(obj bsonish.Doc) (bsonish.Key, bsonish.Doc, error) {
	if len(c.pk) == 1 && c.pk[0].Path == "_id" {
		if v, ok := obj.Get("_id"); !ok || bsonish.IsUndefined(v) {
			obj = obj.Prepend("_id", bsonish.NewObjectID())
		}
	}
	pk, err := bsonish.ExtractPK(obj, c.pk)
	if err != nil {
		return nil, obj, err
	}
	return pk, obj, nil
}

// DeleteObject implements the common write path's delete (spec.md §4.2
// deleteObject): remove pk's entry from every index, recomputing secondary
// keys from obj (the caller's in-memory copy of the document being
// removed, since the dictionary value for a secondary index is only the
// PK).
func (c *Collection) DeleteObject(tx txnctx.Txn, pk bsonish.Key, obj bsonish.Doc, flags Flags) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOp("delete", start, err) }()

	if c.bulkLoading || !c.allowDelete {
		return errors.ErrOperationNotAllowed
	}

	indexes := c.liveIndexes()

	for i, det := range indexes {
		if i == 0 {
			if err := det.Dict.Delete(tx, EncodeKey(pk, det.Key)); err != nil {
				return errors.ErrStorageError
			}
			continue
		}
		keys, _ := bsonish.ExtractKeys(obj, det.Key)
		for _, k := range det.Key.Dedup(keys) {
			var physKey []byte
			if det.Unique {
				physKey = EncodeKey(k, det.Key)
			} else {
				physKey = EncodeIndexKey(k, det.Key, pk, c.pk)
			}
			if err := det.Dict.Delete(tx, physKey); err != nil {
				return errors.ErrStorageError
			}
		}
	}

	if c.queryCache != nil {
		c.queryCache.NotifyWrite(c.ns)
	}
	return nil
}

// UpdateObject implements the common write path's update (spec.md §4.2
// updateObject). The PK of newObj must equal pk. Unless
// KeysUnaffectedHint is set, every index whose key-path set intersects the
// set of fields that changed between oldObj and newObj has its old keys
// deleted and new keys inserted; with the hint, only index 0 is rewritten.
func (c *Collection) UpdateObject(tx txnctx.Txn, pk bsonish.Key, oldObj, newObj bsonish.Doc, flags Flags) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOp("update", start, err) }()

	if c.bulkLoading || !c.allowUpdate {
		return errors.ErrOperationNotAllowed
	}

	newPK, err := bsonish.ExtractPK(newObj, c.pk)
	if err != nil {
		return err
	}
	if bsonish.CompareKeys(c.pk, pk, newPK) != 0 {
		return errors.ErrPKChanged
	}

	indexes := c.liveIndexes()

	newEncoded := bsonish.Encode(newObj)

	if err := indexes[0].Dict.Insert(tx, EncodeKey(pk, indexes[0].Key), newEncoded); err != nil {
		return errors.ErrStorageError
	}

	if flags.has(KeysUnaffectedHint) {
		if c.queryCache != nil {
			c.queryCache.NotifyWrite(c.ns)
		}
		return nil
	}

	changed := changedTopLevelFields(oldObj, newObj)

	for i := 1; i < len(indexes); i++ {
		det := indexes[i]
		if !pathsIntersect(det.Key.Paths(), changed) {
			continue
		}

		oldKeys, _ := bsonish.ExtractKeys(oldObj, det.Key)
		newKeys, multikey := bsonish.ExtractKeys(newObj, det.Key)
		if multikey {
			c.setMultikey(i)
		}

		for _, k := range det.Key.Dedup(oldKeys) {
			var physKey []byte
			if det.Unique {
				physKey = EncodeKey(k, det.Key)
			} else {
				physKey = EncodeIndexKey(k, det.Key, pk, c.pk)
			}
			_ = det.Dict.Delete(tx, physKey)
		}

		for _, k := range det.Key.Dedup(newKeys) {
			var physKey []byte
			var physVal []byte
			if det.Unique {
				physKey = EncodeKey(k, det.Key)
				physVal = EncodeKey(pk, c.pk)
			} else {
				physKey = EncodeIndexKey(k, det.Key, pk, c.pk)
				physVal = EncodeKey(pk, c.pk)
			}
			if det.Unique && !flags.has(NoUniqueChecks) && !det.Sparse {
				if found, _ := det.Dict.Get(physKey, func([]byte) error { return nil }); found {
					return errors.ErrDuplicateKey
				}
			}
			if err := det.Dict.Insert(tx, physKey, physVal); err != nil {
				return errors.ErrStorageError
			}
		}
	}

	if c.queryCache != nil {
		c.queryCache.NotifyWrite(c.ns)
	}
	return nil
}

// UpdateObjectMods is the delta-operator fast path (spec.md §4.2
// updateObjectMods): permitted only when the collection's PK fully
// determines the mutation's placement (here: always, since sharding is out
// of scope — fastupdatesOk() degenerates to "collection is not bulk
// loading"). The mods are applied to a caller-supplied copy and pushed
// through UpdateObject; a real dictionary engine would instead message the
// delta directly, but that optimization is the engine's concern, not this
// core's (spec.md §6 treats the dictionary as opaque).
func (c *Collection) UpdateObjectMods(tx txnctx.Txn, pk bsonish.Key, oldObj bsonish.Doc, apply func(bsonish.Doc) bsonish.Doc, flags Flags) error {
	if c.bulkLoading {
		return errors.ErrOperationNotAllowed
	}
	newObj := apply(oldObj.Clone())
	return c.UpdateObject(tx, pk, oldObj, newObj, flags)
}

func changedTopLevelFields(oldObj, newObj bsonish.Doc) map[string]struct{} {
	changed := make(map[string]struct{})
	seen := make(map[string]bool)
	for _, e := range oldObj.Elems() {
		seen[e.Key] = true
		nv, ok := newObj.Get(e.Key)
		if !ok || bsonish.Compare(e.Value, nv) != 0 {
			changed[e.Key] = struct{}{}
		}
	}
	for _, e := range newObj.Elems() {
		if !seen[e.Key] {
			changed[e.Key] = struct{}{}
		}
	}
	return changed
}

func pathsIntersect(paths []string, changed map[string]struct{}) bool {
	for _, p := range paths {
		if _, ok := changed[p]; ok {
			return true
		}
	}
	return false
}
