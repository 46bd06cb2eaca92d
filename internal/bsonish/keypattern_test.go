package bsonish

import "testing"

func TestExtractPKRejectsUndefined(t *testing.T) {
	doc := NewDoc()
	pattern := KeyPattern{{Path: "_id", Dir: 1}}

	if _, err := ExtractPK(doc, pattern); err == nil {
		t.Fatalf("expected error for missing PK field")
	}
}

func TestExtractPKRejectsArray(t *testing.T) {
	doc := D("_id", Array{int64(1), int64(2)})
	pattern := KeyPattern{{Path: "_id", Dir: 1}}

	if _, err := ExtractPK(doc, pattern); err == nil {
		t.Fatalf("expected error for array-valued PK field")
	}
}

func TestExtractPKRejectsRegex(t *testing.T) {
	doc := D("_id", Regex{Pattern: "^a"})
	pattern := KeyPattern{{Path: "_id", Dir: 1}}

	if _, err := ExtractPK(doc, pattern); err == nil {
		t.Fatalf("expected error for regex-valued PK field")
	}
}

func TestExtractPKSimple(t *testing.T) {
	doc := D("_id", int64(1), "a", int64(10))
	pattern := KeyPattern{{Path: "_id", Dir: 1}}

	key, err := ExtractPK(doc, pattern)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 1 || key[0] != int64(1) {
		t.Fatalf("unexpected key: %v", key)
	}
}

func TestExtractKeysScalarFieldNotMultikey(t *testing.T) {
	doc := D("_id", int64(1), "a", int64(10))
	pattern := KeyPattern{{Path: "a", Dir: 1}}

	keys, multikey := ExtractKeys(doc, pattern)
	if multikey {
		t.Fatalf("scalar field should not be multikey")
	}
	if len(keys) != 1 || keys[0][0] != int64(10) {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestExtractKeysArrayFieldIsMultikey(t *testing.T) {
	doc := D("_id", int64(1), "a", Array{int64(1), int64(2)})
	pattern := KeyPattern{{Path: "a", Dir: 1}}

	keys, multikey := ExtractKeys(doc, pattern)
	if !multikey {
		t.Fatalf("array field should be multikey")
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}

func TestExtractKeysCompoundCartesianProduct(t *testing.T) {
	doc := D("_id", int64(1), "a", Array{int64(1), int64(2)}, "b", int64(5))
	pattern := KeyPattern{{Path: "a", Dir: 1}, {Path: "b", Dir: 1}}

	keys, multikey := ExtractKeys(doc, pattern)
	if !multikey {
		t.Fatalf("expected multikey due to array path")
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys from cartesian product, got %d", len(keys))
	}
	for _, k := range keys {
		if k[1] != int64(5) {
			t.Fatalf("expected second component to be 5, got %v", k[1])
		}
	}
}

func TestCompareKeysRespectsDirection(t *testing.T) {
	pattern := KeyPattern{{Path: "a", Dir: -1}}
	low := Key{int64(1)}
	high := Key{int64(2)}

	if CompareKeys(pattern, low, high) <= 0 {
		t.Fatalf("descending pattern should order 1 after 2")
	}
}

func TestKeyPatternEqual(t *testing.T) {
	a := KeyPattern{{Path: "_id", Dir: 1}}
	b := KeyPattern{{Path: "_id", Dir: 1}}
	c := KeyPattern{{Path: "_id", Dir: -1}}

	if !a.Equal(b) {
		t.Fatalf("expected equal patterns to compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected patterns with different direction to differ")
	}
}
