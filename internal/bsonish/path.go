package bsonish

import (
	"strconv"
	"strings"

	"github.com/kartikbazzad/storedb/internal/errors"
)

// SplitPath splits a dotted field path ("a.b.0") into its segments. An empty
// path has zero segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// JoinPath is the inverse of SplitPath.
func JoinPath(segments []string) string {
	return strings.Join(segments, ".")
}

// GetPath reads the value at the given dotted path inside d. Missing
// intermediate fields yield (nil, false) rather than an error, since a
// missing field is a valid (if degenerate) value for key generation.
func GetPath(d Doc, path string) (any, bool) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return d, true
	}
	return getSegments(d, segments)
}

func getSegments(current any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return current, true
	}
	seg := segments[0]
	rest := segments[1:]

	switch v := current.(type) {
	case Doc:
		val, ok := v.Get(seg)
		if !ok {
			return nil, false
		}
		return getSegments(val, rest)
	case Array:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			// Mongo-style traversal: project the path over every array
			// element and return the matches as an Array.
			var out Array
			for _, elem := range v {
				if val, ok := getSegments(elem, segments); ok {
					out = append(out, val)
				}
			}
			if len(out) == 0 {
				return nil, false
			}
			return out, true
		}
		if idx < 0 || idx >= len(v) {
			return nil, false
		}
		return getSegments(v[idx], rest)
	default:
		return nil, false
	}
}

// SetPath sets the value at the given dotted path inside d, creating
// intermediate Docs as needed. The path must be non-empty.
func SetPath(d Doc, path string, value any) (Doc, error) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return d, errors.ErrInvalidPath
	}
	out, err := setSegments(d, segments, value)
	if err != nil {
		return d, err
	}
	return out.(Doc), nil
}

func setSegments(current any, segments []string, value any) (any, error) {
	seg := segments[0]
	doc, ok := current.(Doc)
	if !ok {
		return nil, errors.ErrNotJSONObject
	}

	if len(segments) == 1 {
		return doc.With(seg, value), nil
	}

	child, exists := doc.Get(seg)
	if !exists {
		child = NewDoc()
	}

	updatedChild, err := setSegments(child, segments[1:], value)
	if err != nil {
		return nil, err
	}
	return doc.With(seg, updatedChild), nil
}

// DeletePath removes the value at the given dotted path inside d.
func DeletePath(d Doc, path string) (Doc, error) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return d, errors.ErrInvalidPath
	}
	if len(segments) == 1 {
		return d.Without(segments[0]), nil
	}

	child, exists := d.Get(segments[0])
	if !exists {
		return d, errors.ErrInvalidPath
	}
	childDoc, ok := child.(Doc)
	if !ok {
		return d, errors.ErrNotJSONObject
	}

	updatedChild, err := DeletePath(childDoc, JoinPath(segments[1:]))
	if err != nil {
		return d, err
	}
	return d.With(segments[0], updatedChild), nil
}

// TopLevelField returns the first segment of a dotted path, which is what
// indexedPaths bookkeeping (spec.md §3) groups by.
func TopLevelField(path string) string {
	if idx := strings.IndexByte(path, '.'); idx >= 0 {
		return path[:idx]
	}
	return path
}
