package bsonish

import (
	"github.com/kartikbazzad/storedb/internal/errors"
)

// KeyPart is one (path, direction) pair of a key pattern.
type KeyPart struct {
	Path string
	Dir  int8 // +1 ascending, -1 descending
}

// KeyPattern is an ordered sequence of KeyParts; spec.md §3 requires it be
// non-empty for a primary key and requires index[0]'s pattern equal the
// collection's pk.
type KeyPattern []KeyPart

// Equal reports whether two key patterns have identical paths and
// directions in the same order.
func (p KeyPattern) Equal(other KeyPattern) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i].Path != other[i].Path || p[i].Dir != other[i].Dir {
			return false
		}
	}
	return true
}

// Paths returns the top-level field each part of the pattern is rooted at,
// which indexedPaths bookkeeping (spec.md §3) groups by.
func (p KeyPattern) Paths() []string {
	out := make([]string, len(p))
	for i, part := range p {
		out[i] = TopLevelField(part.Path)
	}
	return out
}

// Key is one generated index key: one value per KeyPart, in pattern order.
type Key Array

// Dedup removes duplicate keys from a multikey ExtractKeys result (the
// cartesian product over a repeated array value produces the same key more
// than once), preserving first-occurrence order.
func (p KeyPattern) Dedup(keys []Key) []Key {
	if len(keys) < 2 {
		return keys
	}
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		dup := false
		for _, seen := range out {
			if CompareKeys(p, k, seen) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, k)
		}
	}
	return out
}

// CompareKeys orders two keys according to pattern directions.
func CompareKeys(pattern KeyPattern, a, b Key) int {
	for i, part := range pattern {
		if c := CompareWithDirection(a[i], b[i], part.Dir); c != 0 {
			return c
		}
	}
	return 0
}

// ExtractKeys computes the set of index keys a document generates under
// pattern. A document generates more than one key exactly when some
// KeyPart's path traverses through an Array (spec.md §3 "multikey"); in
// that case ExtractKeys returns the cartesian product of each part's
// candidate values and sets multikey=true.
func ExtractKeys(doc Doc, pattern KeyPattern) (keys []Key, multikey bool) {
	perPart := make([][]any, len(pattern))
	for i, part := range pattern {
		vals, isArrayPath := valuesAtPath(doc, part.Path)
		perPart[i] = vals
		if isArrayPath {
			multikey = true
		}
	}

	keys = cartesian(perPart)
	return keys, multikey
}

// valuesAtPath returns the candidate values a path produces, and whether
// that path passed through an array (making the field multikey). A path
// through an array yields one candidate per array element; any other path
// yields exactly one candidate (nil if absent).
func valuesAtPath(doc Doc, path string) ([]any, bool) {
	segments := SplitPath(path)
	return valuesAtSegments(doc, segments)
}

func valuesAtSegments(current any, segments []string) ([]any, bool) {
	if len(segments) == 0 {
		// A path ending on an array fans out over its elements.
		if arr, ok := current.(Array); ok {
			if len(arr) == 0 {
				return []any{nil}, true
			}
			return append([]any(nil), arr...), true
		}
		return []any{current}, false
	}

	switch v := current.(type) {
	case Doc:
		child, ok := v.Get(segments[0])
		if !ok {
			return []any{nil}, false
		}
		return valuesAtSegments(child, segments[1:])
	case Array:
		// Path traverses the array itself: fan out over every element.
		var out []any
		for _, elem := range v {
			vals, _ := valuesAtSegments(elem, segments)
			out = append(out, vals...)
		}
		if len(out) == 0 {
			out = []any{nil}
		}
		return out, true
	default:
		return []any{nil}, false
	}
}

func cartesian(perPart [][]any) []Key {
	if len(perPart) == 0 {
		return nil
	}
	combos := [][]any{{}}
	for _, values := range perPart {
		var next [][]any
		for _, combo := range combos {
			for _, v := range values {
				c := make([]any, len(combo)+1)
				copy(c, combo)
				c[len(combo)] = v
				next = append(next, c)
			}
		}
		combos = next
	}

	out := make([]Key, len(combos))
	for i, c := range combos {
		out[i] = Key(c)
	}
	return out
}

// ExtractPK extracts a document's primary key given pattern, rejecting
// undefined, regex, or array-valued fields (spec.md §4.2 step 1,
// getValidatedPKFromObject).
func ExtractPK(doc Doc, pattern KeyPattern) (Key, error) {
	key := make(Key, len(pattern))
	for i, part := range pattern {
		v, ok := GetPath(doc, part.Path)
		if !ok || IsUndefined(v) {
			return nil, errors.ErrPKInvalidField
		}
		if IsArray(v) || IsRegex(v) {
			return nil, errors.ErrPKInvalidField
		}
		key[i] = v
	}
	return key, nil
}
