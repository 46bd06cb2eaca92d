package collection

import (
	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/errors"
	"github.com/kartikbazzad/storedb/internal/kv"
)

// BeginBulkLoad promotes c to BulkLoadedCollection, pinned to connID
// (spec.md §4.8). The underlying indexes must already exist and be empty;
// a non-empty index fails the promotion rather than silently continuing.
func (c *Collection) BeginBulkLoad(connID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bulkLoading {
		return errors.ErrBulkLoadConflict
	}

	for _, idx := range c.indexes[:c.nIndexes] {
		cur := idx.Dict.NewCursor()
		cur.Seek(nil)
		empty := !cur.Next()
		cur.Close()
		if !empty {
			return errors.ErrCollectionNotEmpty
		}
	}

	loaders := make([]kv.BulkLoader, c.nIndexes)
	for i, idx := range c.indexes[:c.nIndexes] {
		loaders[i] = idx.Dict.NewBulkLoader()
	}

	c.bulkLoaders = loaders
	c.bulkMultikeys = make([]bool, c.nIndexes)
	c.bulkLoading = true
	c.bulkLoadConn = connID
	c.metrics.BulkLoadsActive.Inc()
	return nil
}

// insertBulk is InsertObject's redirection target while c.bulkLoading:
// push the document through each index's bulk loader instead of the
// transactional insert path, still honoring _id synthesis and multikey
// bit tracking.
func (c *Collection) insertBulk(obj bsonish.Doc) (bsonish.Key, error) {
	pk, obj, err := c.preparePK(obj)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	indexes := c.indexes[:c.nIndexes]
	loaders := c.bulkLoaders
	c.mu.Unlock()

	encodedObj := bsonish.Encode(obj)

	for i, det := range indexes {
		var keys []bsonish.Key
		if i == 0 {
			keys = []bsonish.Key{pk}
		} else {
			var multikey bool
			keys, multikey = bsonish.ExtractKeys(obj, det.Key)
			if multikey {
				c.setMultikey(i)
				c.mu.Lock()
				c.bulkMultikeys[i] = true
				c.mu.Unlock()
			}
		}

		for _, k := range det.Key.Dedup(keys) {
			var physKey, physVal []byte
			switch {
			case i == 0:
				physKey, physVal = EncodeKey(k, det.Key), encodedObj
			case det.Unique:
				physKey, physVal = EncodeKey(k, det.Key), EncodeKey(pk, c.pk)
			default:
				physKey, physVal = EncodeIndexKey(k, det.Key, pk, c.pk), EncodeKey(pk, c.pk)
			}
			if err := loaders[i].Put(physKey, physVal); err != nil {
				return nil, errors.ErrStorageError
			}
		}
	}

	return pk, nil
}

// CommitBulkLoad closes every per-index bulk loader (which commits
// everything put since BeginBulkLoad) and demotes c back to its underlying
// flavor. The loaders and multikey trackers are torn down before the
// dictionary handles they wrap remain owned by the collection, matching
// spec.md §4.8's "destroy the loader and trackers before dictionary
// handles" ordering.
func (c *Collection) CommitBulkLoad(connID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bulkLoading {
		return errors.ErrOperationNotAllowed
	}
	if connID != c.bulkLoadConn {
		return errors.ErrBulkLoadConflict
	}

	for _, l := range c.bulkLoaders {
		if err := l.Close(); err != nil {
			return errors.ErrStorageError
		}
	}

	c.bulkLoaders = nil
	c.bulkMultikeys = nil
	c.bulkLoading = false
	c.bulkLoadConn = 0
	c.metrics.BulkLoadsActive.Dec()
	return nil
}

// AbortBulkLoad discards every per-index bulk loader without closing it
// (kv.BulkLoader has no separate abort; a loader that never closes simply
// never commits its puts) and demotes c back to its underlying flavor.
func (c *Collection) AbortBulkLoad(connID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bulkLoading {
		return errors.ErrOperationNotAllowed
	}
	if connID != c.bulkLoadConn {
		return errors.ErrBulkLoadConflict
	}

	c.bulkLoaders = nil
	c.bulkMultikeys = nil
	c.bulkLoading = false
	c.bulkLoadConn = 0
	c.metrics.BulkLoadsActive.Dec()
	return nil
}
