package collection

import (
	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

// naturalOrderPKField is the field name the PK counter is stored under for
// every natural-order-derived flavor (NaturalOrder, Capped, Profile).
const naturalOrderPKField = "$"

// NaturalOrderKeyPattern is the key pattern every natural-order-derived
// collection uses as index 0's pattern.
func NaturalOrderKeyPattern() bsonish.KeyPattern {
	return bsonish.KeyPattern{{Path: naturalOrderPKField, Dir: 1}}
}

// InsertNatural implements NaturalOrderCollection's insertObject (spec.md
// §4.4): assign nextPK.fetchAdd(1), write the document unchanged with the
// counter prepended as the "$" field.
func (c *Collection) InsertNatural(tx txnctx.Txn, obj bsonish.Doc, flags Flags) (bsonish.Key, error) {
	pk := c.nextPK.Add(1) - 1
	obj = obj.Prepend(naturalOrderPKField, int64(pk))
	key := bsonish.Key{int64(pk)}

	if err := c.writeAllIndexes(tx, key, obj, flags); err != nil {
		return nil, err
	}
	return key, nil
}
