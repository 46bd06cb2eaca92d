package bsonish

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTripScalars(t *testing.T) {
	cases := []any{
		nil,
		true,
		false,
		int64(-42),
		float64(3.25),
		"hello",
		[]byte("bytes"),
		MinKey,
		MaxKey,
		Regex{Pattern: "^a", Options: "i"},
	}
	for _, v := range cases {
		encoded := Encode(v)
		decoded, n, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode error for %v: %v", v, err)
		}
		if n != len(encoded) {
			t.Fatalf("expected to consume all %d bytes, consumed %d for %v", len(encoded), n, v)
		}
		if !valuesEqual(v, decoded) {
			t.Fatalf("round trip mismatch: %#v != %#v", v, decoded)
		}
	}
}

func TestEncodeDecodeRoundTripTime(t *testing.T) {
	now := time.Unix(1000, 500).UTC()
	encoded := Encode(now)
	decoded, _, err := Decode(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decoded.(time.Time)
	if !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}
}

func TestEncodeDecodeRoundTripObjectID(t *testing.T) {
	id := NewObjectID()
	decoded, _, err := Decode(Encode(id))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.(ObjectID) != id {
		t.Fatalf("expected round trip ObjectID, got %v", decoded)
	}
}

func TestEncodeDecodeRoundTripArray(t *testing.T) {
	arr := Array{int64(1), "a", Array{int64(2), int64(3)}}
	decoded, _, err := Decode(Encode(arr))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decoded.(Array)
	if len(got) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(got))
	}
}

func TestEncodeDecodeRoundTripDoc(t *testing.T) {
	d := D("a", int64(1), "b", D("c", "nested"), "d", Array{int64(1), int64(2)})
	decoded, _, err := Decode(Encode(d))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decoded.(Doc)
	if got.Len() != 3 {
		t.Fatalf("expected 3 fields, got %d", got.Len())
	}
	if v := got.MustGet("a"); v != int64(1) {
		t.Fatalf("expected a=1, got %v", v)
	}
}

func valuesEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok && bok {
		if len(ab) != len(bb) {
			return false
		}
		for i := range ab {
			if ab[i] != bb[i] {
				return false
			}
		}
		return true
	}
	return a == b
}
