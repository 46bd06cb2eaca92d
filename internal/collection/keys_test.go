package collection

import (
	"bytes"
	"testing"

	"github.com/kartikbazzad/storedb/internal/bsonish"
)

func TestEncodeKeyOrderingMatchesCompareKeys(t *testing.T) {
	pattern := bsonish.KeyPattern{{Path: "a", Dir: 1}}
	pairs := [][2]int64{{1, 2}, {-5, 5}, {0, 1}, {-1, 0}}

	for _, p := range pairs {
		ka := EncodeKey(bsonish.Key{p[0]}, pattern)
		kb := EncodeKey(bsonish.Key{p[1]}, pattern)
		if bytes.Compare(ka, kb) >= 0 {
			t.Fatalf("expected EncodeKey(%d) < EncodeKey(%d), got otherwise", p[0], p[1])
		}
	}
}

func TestEncodeKeyDescendingFlipsOrder(t *testing.T) {
	asc := bsonish.KeyPattern{{Path: "a", Dir: 1}}
	desc := bsonish.KeyPattern{{Path: "a", Dir: -1}}

	a1 := EncodeKey(bsonish.Key{int64(1)}, asc)
	a2 := EncodeKey(bsonish.Key{int64(2)}, asc)
	if bytes.Compare(a1, a2) >= 0 {
		t.Fatalf("ascending: expected 1 < 2")
	}

	d1 := EncodeKey(bsonish.Key{int64(1)}, desc)
	d2 := EncodeKey(bsonish.Key{int64(2)}, desc)
	if bytes.Compare(d1, d2) <= 0 {
		t.Fatalf("descending: expected encoded(1) > encoded(2)")
	}
}

func TestEncodeKeyFloatOrdering(t *testing.T) {
	pattern := bsonish.KeyPattern{{Path: "a", Dir: 1}}
	values := []float64{-100.5, -1, 0, 0.5, 42}
	for i := 0; i < len(values)-1; i++ {
		lo := EncodeKey(bsonish.Key{values[i]}, pattern)
		hi := EncodeKey(bsonish.Key{values[i+1]}, pattern)
		if bytes.Compare(lo, hi) >= 0 {
			t.Fatalf("expected encoded(%v) < encoded(%v)", values[i], values[i+1])
		}
	}
}

func TestEncodeIndexKeyDisambiguatesSharedSecondaryKey(t *testing.T) {
	secondary := bsonish.KeyPattern{{Path: "a", Dir: 1}}
	pkPattern := bsonish.KeyPattern{{Path: "_id", Dir: 1}}

	k1 := EncodeIndexKey(bsonish.Key{int64(5)}, secondary, bsonish.Key{int64(1)}, pkPattern)
	k2 := EncodeIndexKey(bsonish.Key{int64(5)}, secondary, bsonish.Key{int64(2)}, pkPattern)
	if bytes.Equal(k1, k2) {
		t.Fatalf("expected distinct physical keys for distinct PKs sharing a secondary key")
	}

	prefix := EncodeKeyPrefix(bsonish.Key{int64(5)}, secondary)
	if !bytes.HasPrefix(k1, prefix) || !bytes.HasPrefix(k2, prefix) {
		t.Fatalf("expected both physical keys to share the logical key's prefix")
	}
}

func TestNaturalPKRoundTrip(t *testing.T) {
	pattern := NaturalOrderKeyPattern()
	for _, v := range []uint64{0, 1, 42, 1 << 40} {
		encoded := EncodeKey(bsonish.Key{int64(v)}, pattern)
		got := DecodeNaturalPK(encoded)
		if uint64(got) != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
	}
}
