package collection

import (
	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/kv"
)

// IndexDetails is one index: its info document, its key pattern decoded
// from info for fast comparison, and the storage handle backing it
// (spec.md §3 "IndexDetails"). index[0] of a collection is always the PK.
type IndexDetails struct {
	Info bsonish.Doc
	Key  bsonish.KeyPattern
	Name string

	Unique     bool
	Sparse     bool
	Clustering bool
	Background bool

	Dict kv.Dictionary
}

// NewIndexDetails builds an IndexDetails from an info document, deriving
// flags and the key pattern the rest of the write path compares by.
func NewIndexDetails(ns string, info bsonish.Doc, dict kv.Dictionary) *IndexDetails {
	name, _ := info.Get("name")
	nameStr, _ := name.(string)

	pattern := decodeKeyPatternDoc(info)

	d := &IndexDetails{
		Info: info.With("ns", ns),
		Key:  pattern,
		Name: nameStr,
		Dict: dict,
	}
	if v, ok := info.Get("unique"); ok {
		d.Unique, _ = v.(bool)
	}
	if v, ok := info.Get("sparse"); ok {
		d.Sparse, _ = v.(bool)
	}
	if v, ok := info.Get("clustering"); ok {
		d.Clustering, _ = v.(bool)
	}
	if v, ok := info.Get("background"); ok {
		d.Background, _ = v.(bool)
	}
	return d
}

func decodeKeyPatternDoc(info bsonish.Doc) bsonish.KeyPattern {
	keyVal, ok := info.Get("key")
	if !ok {
		return nil
	}
	keyDoc, ok := keyVal.(bsonish.Doc)
	if !ok {
		return nil
	}
	pattern := make(bsonish.KeyPattern, 0, keyDoc.Len())
	for _, e := range keyDoc.Elems() {
		dir := int8(1)
		if n, ok := e.Value.(int64); ok && n < 0 {
			dir = -1
		}
		pattern = append(pattern, bsonish.KeyPart{Path: e.Key, Dir: dir})
	}
	return pattern
}

// IndexName derives the conventional name for a key pattern when the
// caller doesn't supply one explicitly: "field1_dir1_field2_dir2...".
func IndexName(pattern bsonish.KeyPattern) string {
	name := ""
	for _, part := range pattern {
		if name != "" {
			name += "_"
		}
		dir := "1"
		if part.Dir < 0 {
			dir = "-1"
		}
		name += part.Path + "_" + dir
	}
	return name
}

// EqualSpec reports whether two index info documents describe the same
// index for ensureIndex idempotence purposes: same name, or same key
// pattern and uniqueness.
func EqualSpec(a, b *IndexDetails) bool {
	if a.Name != "" && a.Name == b.Name {
		return true
	}
	return a.Key.Equal(b.Key) && a.Unique == b.Unique
}
