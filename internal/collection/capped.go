package collection

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/errors"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

// InsertCapped implements CappedCollection's insertObject (spec.md §4.5):
// natural-order PK, bookkeeping of currentObjects/currentSize, registration
// in uncommittedMinPKs, and a trim pass if the collection is gorged after
// the insert.
func (c *Collection) InsertCapped(tx txnctx.Txn, obj bsonish.Doc, flags Flags) (bsonish.Key, error) {
	pk := c.nextPK.Add(1) - 1
	obj = obj.Prepend(naturalOrderPKField, int64(pk))
	key := bsonish.Key{int64(pk)}
	size := approxSize(obj)

	if c.maxSize > 0 && size > c.maxSize {
		return nil, fmt.Errorf("%w: document of %s exceeds capped collection %s's %s limit",
			errors.ErrCappedSizeViolation, humanize.Bytes(uint64(size)), c.ns, humanize.Bytes(uint64(c.maxSize)))
	}

	if err := c.writeAllIndexes(tx, key, obj, flags); err != nil {
		return nil, err
	}

	c.currentObjects.Add(1)
	c.currentSize.Add(size)

	c.cappedMu.Lock()
	if _, exists := c.minPerTxn[tx.ID()]; !exists {
		c.minPerTxn[tx.ID()] = pk
	}
	c.cappedMu.Unlock()

	txnID := tx.ID()
	tx.RegisterOnCommit(func() { c.noteCappedCommit(txnID) })
	tx.RegisterOnAbort(func() { c.noteCappedAbort(txnID, size) })

	if c.IsGorged() {
		c.trim(tx)
	}
	return key, nil
}

// noteCappedCommit removes the committing transaction's entry from
// uncommittedMinPKs; its counter deltas already reflect committed work
// (spec.md §4.5 rollback hooks).
func (c *Collection) noteCappedCommit(txnID uint64) {
	c.cappedMu.Lock()
	delete(c.minPerTxn, txnID)
	c.cappedMu.Unlock()
}

// noteCappedAbort removes the aborting transaction's entry and reverses the
// counter deltas its insert applied optimistically.
func (c *Collection) noteCappedAbort(txnID uint64, size int64) {
	c.cappedMu.Lock()
	delete(c.minPerTxn, txnID)
	c.cappedMu.Unlock()

	c.currentObjects.Add(-1)
	c.currentSize.Add(-size)
}

// IsGorged implements CappedView.IsGorged (spec.md §4.5).
func (c *Collection) IsGorged() bool {
	if c.maxObjects > 0 && c.currentObjects.Load() > c.maxObjects {
		return true
	}
	if c.maxSize > 0 && c.currentSize.Load() > c.maxSize {
		return true
	}
	return false
}

// Stats implements CappedView.Stats.
func (c *Collection) Stats() (objects, size int64) {
	return c.currentObjects.Load(), c.currentSize.Load()
}

// MinUnsafeKey implements Tailable.MinUnsafeKey for capped/profile/oplog
// collections. For capped flavors it is the smallest element of
// uncommittedMinPKs, or nextPK if the set is empty (spec.md §4.5).
func (c *Collection) MinUnsafeKey() bsonish.Key {
	if c.flavor == FlavorOplog {
		return c.oplogMinUnsafeKey()
	}

	c.cappedMu.Lock()
	defer c.cappedMu.Unlock()

	min, ok := c.minUncommittedPKLocked()
	if !ok {
		return bsonish.Key{int64(c.nextPK.Load())}
	}
	return bsonish.Key{int64(min)}
}

func (c *Collection) minUncommittedPKLocked() (uint64, bool) {
	first := true
	var min uint64
	for _, pk := range c.minPerTxn {
		if first || pk < min {
			min = pk
			first = false
		}
	}
	return min, !first
}

// trim implements CappedCollection's trim pass (spec.md §4.5): while
// gorged and lastDeletedPK is still below every in-flight transaction's
// floor, delete the smallest surviving document below that floor. The seek
// starts at lastDeletedPK itself so the first document (PK 0, equal to the
// sentinel's initial value) can be trimmed. Serialized by deleteMutex so
// only one trimmer runs at a time.
func (c *Collection) trim(tx txnctx.Txn) {
	c.deleteMutex.Lock()
	defer c.deleteMutex.Unlock()

	idx0 := c.Index(0)
	if idx0 == nil {
		return
	}

	for c.IsGorged() {
		c.cappedMu.Lock()
		floor, hasFloor := c.minUncommittedPKLocked()
		c.cappedMu.Unlock()
		if !hasFloor {
			floor = c.nextPK.Load()
		}
		if c.lastDeletedPK >= floor {
			break
		}

		cur := idx0.Dict.NewCursor()
		cur.Seek(EncodeKey(bsonish.Key{int64(c.lastDeletedPK)}, idx0.Key))
		if !cur.Next() {
			cur.Close()
			break
		}
		foundPK := uint64(DecodeNaturalPK(cur.Key()))
		if foundPK >= floor {
			cur.Close()
			break
		}
		value := append([]byte(nil), cur.Value()...)
		cur.Close()

		decoded, _, err := bsonish.Decode(value)
		if err != nil {
			break
		}
		doc, ok := decoded.(bsonish.Doc)
		if !ok {
			break
		}

		if err := c.DeleteObject(tx, bsonish.Key{int64(foundPK)}, doc, 0); err != nil {
			break
		}
		c.currentObjects.Add(-1)
		c.currentSize.Add(-approxSize(doc))
		c.lastDeletedPK = foundPK
		c.metrics.CappedTrimsTotal.WithLabelValues(c.ns).Inc()
	}
	c.metrics.DocumentsTotal.WithLabelValues(c.ns).Set(float64(c.currentObjects.Load()))
}

// UpdateCapped rejects the update when c.allowUpdate is false
// (ProfileCollection, spec.md §4.5) and otherwise delegates to
// UpdateObject; it does not check whether the new document is larger.
func (c *Collection) UpdateCapped(tx txnctx.Txn, pk bsonish.Key, oldObj, newObj bsonish.Doc, flags Flags) error {
	if !c.allowUpdate {
		return errors.ErrOperationNotAllowed
	}
	return c.UpdateObject(tx, pk, oldObj, newObj, flags)
}
