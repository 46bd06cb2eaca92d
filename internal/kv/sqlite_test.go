package kv

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSQLiteDictionary(t *testing.T) *SQLiteDictionary {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := OpenSQLiteDictionary(path, "docs")
	if err != nil {
		t.Fatalf("unexpected error opening dictionary: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSQLiteDictionaryInsertAndGet(t *testing.T) {
	d := openTestSQLiteDictionary(t)

	if err := d.Insert(nil, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []byte
	found, err := d.Get([]byte("a"), func(v []byte) error {
		got = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || string(got) != "1" {
		t.Fatalf("expected found=true value=1, got found=%v value=%q", found, got)
	}
}

func TestSQLiteDictionaryDeleteMissingFails(t *testing.T) {
	d := openTestSQLiteDictionary(t)
	if err := d.Delete(nil, []byte("missing")); err == nil {
		t.Fatalf("expected error deleting missing key")
	}
}

func TestSQLiteDictionaryCursorAscendingOrder(t *testing.T) {
	d := openTestSQLiteDictionary(t)
	for _, k := range []string{"c", "a", "b"} {
		if err := d.Insert(nil, []byte(k), []byte(k)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	cur := d.NewCursor()
	defer cur.Close()
	cur.Seek(nil)

	var order []string
	for cur.Next() {
		order = append(order, string(cur.Key()))
	}
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestSQLiteOnlineIndexerBuildsDestFromSrc(t *testing.T) {
	src := openTestSQLiteDictionary(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := src.Insert(nil, []byte(k), []byte(k+"-val")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	dest := NewMemDictionary("dest")

	indexer := src.NewOnlineIndexer(dest)
	if err := indexer.Build(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, k := range []string{"a", "b", "c"} {
		found, err := dest.Get([]byte(k), nil)
		if err != nil || !found {
			t.Fatalf("expected dest to contain %q after build", k)
		}
	}
}
