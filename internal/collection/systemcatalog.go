package collection

import (
	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/logger"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

// systemCatalogFieldOrder is the field order system-catalog documents are
// rewritten to on insert, for compatibility with tools that scan
// system.indexes/system.namespaces expecting a fixed leading shape
// (spec.md §4.7).
var systemCatalogFieldOrder = []string{"key", "unique", "ns", "name"}

// SystemUsersKeyPattern is the extended key system-users collections force
// (spec.md §4.7): {user:1, userSource:1}.
func SystemUsersKeyPattern() bsonish.KeyPattern {
	return bsonish.KeyPattern{{Path: "user", Dir: 1}, {Path: "userSource", Dir: 1}}
}

// InsertSystemCatalog implements SystemCatalogCollection's insertObject:
// strip _id (system catalogs have no notion of it), reorder fields to the
// conventional leading shape, then insert under the natural-order PK
// strategy. System-users collections use the _id PK instead.
func (c *Collection) InsertSystemCatalog(tx txnctx.Txn, obj bsonish.Doc, flags Flags) (bsonish.Key, error) {
	obj = reorderSystemCatalogFields(obj.Without("_id"))
	return c.InsertNatural(tx, obj, flags)
}

// reorderSystemCatalogFields moves the fields named in
// systemCatalogFieldOrder to the front, in that order, leaving every other
// field in its original relative order behind them.
func reorderSystemCatalogFields(obj bsonish.Doc) bsonish.Doc {
	out := bsonish.NewDoc()
	placed := make(map[string]bool, len(systemCatalogFieldOrder))
	for _, key := range systemCatalogFieldOrder {
		if v, ok := obj.Get(key); ok {
			out = out.With(key, v)
			placed[key] = true
		}
	}
	for _, e := range obj.Elems() {
		if !placed[e.Key] {
			out = out.With(e.Key, e.Value)
		}
	}
	return out
}

// HasLegacyUserIndex reports whether a system-users collection already
// carries its forced {user:1, userSource:1} index. A collection reopened
// from a catalog entry written before that index was introduced lacks it;
// spec.md §4.7 tolerates this rather than refusing to open.
func (c *Collection) HasLegacyUserIndex() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	want := SystemUsersKeyPattern()
	for _, idx := range c.indexes[:c.nIndexes] {
		if idx.Key.Equal(want) {
			return true
		}
	}
	return false
}

// ensureExtendedIndex builds the forced {user:1, userSource:1} index on a
// reopened system-users collection that predates it, logging a warning
// instead of silently tolerating the gap (spec.md §9 "bug #673" is
// tolerated at open time, but not passed over in silence here).
func (c *Collection) ensureExtendedIndex(log *logger.Logger) error {
	if c.HasLegacyUserIndex() {
		return nil
	}
	log.Warn("system-users collection %s is missing its {user,userSource} index (bug #673); building it now", c.ns)

	info := bsonish.NewDoc(
		bsonish.Elem{Key: "key", Value: bsonish.NewDoc(
			bsonish.Elem{Key: "user", Value: int64(1)},
			bsonish.Elem{Key: "userSource", Value: int64(1)},
		)},
		bsonish.Elem{Key: "unique", Value: true},
	)
	_, err := c.EnsureIndex(info)
	return err
}
