package collection

import (
	"context"

	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

// oplogTSField is the field the GTID-as-PK is stored under in an oplog
// entry document.
const oplogTSField = "ts"

// OplogKeyPattern is the key pattern an OplogCollection's index 0 uses: a
// single []byte field holding the 16-byte big-endian GTID encoding, which
// sorts byte-wise in GTID numeric order by construction (spec.md §4.6).
func OplogKeyPattern() bsonish.KeyPattern {
	return bsonish.KeyPattern{{Path: oplogTSField, Dir: 1}}
}

// InsertOplog implements OplogCollection's insertObject: the PK is the next
// GTID allocated from the collection's GTIDManager rather than anything
// extracted from entry, and the write's outcome is mirrored back into the
// manager's live-GTID bookkeeping through commit/abort hooks so
// minUnsafeKey stays accurate while the write is in flight.
func (c *Collection) InsertOplog(tx txnctx.Txn, entry bsonish.Doc, flags Flags) (bsonish.Key, error) {
	g := c.gtidMgr.GetGTIDForPrimary()
	tsBytes := g.EncodeSlice()
	obj := entry.Prepend(oplogTSField, tsBytes)
	key := bsonish.Key{tsBytes}

	if err := c.writeAllIndexes(tx, key, obj, flags); err != nil {
		return nil, err
	}

	done := g
	tx.RegisterOnCommit(func() { c.gtidMgr.NoteLiveGTIDDone(done) })
	tx.RegisterOnAbort(func() { c.gtidMgr.NoteLiveGTIDDone(done) })

	return key, nil
}

// oplogMinUnsafeKey implements Tailable.MinUnsafeKey for the oplog flavor:
// the PK at GTIDManager.minLiveGTID — a tailing cursor must not read at or
// beyond it, since an allocation below it may still be in flight.
func (c *Collection) oplogMinUnsafeKey() bsonish.Key {
	minLive, minUnapplied := c.gtidMgr.GetMins()
	c.metrics.RecordGTIDMins(c.ns, minLive.PrimarySeqNo, minLive.GTSeqNo, minUnapplied.PrimarySeqNo, minUnapplied.GTSeqNo)
	return bsonish.Key{minLive.EncodeSlice()}
}

// OptimizePK implements OplogCollection's optimizePK (spec.md §4.6): ask
// the dictionary engine to run a time-bounded background optimize pass
// over [left, right), reporting how many iterations it completed.
func (c *Collection) OptimizePK(ctx context.Context, left, right bsonish.Key) (loops int, err error) {
	idx0 := c.Index(0)
	l := EncodeKey(left, idx0.Key)
	r := EncodeKey(right, idx0.Key)
	return idx0.Dict.Optimize(ctx, l, r)
}
