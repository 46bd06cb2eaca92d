package catalog

import (
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/storedb/internal/bsonish"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c := NewCatalog(path, nil)
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error loading catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testEntry(ns string) Entry {
	return Entry{
		NS:      ns,
		Options: bsonish.D("capped", false),
		PK:      bsonish.KeyPattern{{Path: "_id", Dir: 1}},
		Indexes: []IndexRecord{
			{Name: "_id_", Key: bsonish.KeyPattern{{Path: "_id", Dir: 1}}, Unique: true, Clustering: true},
			{Name: "a_1", Key: bsonish.KeyPattern{{Path: "a", Dir: 1}}},
		},
		MultiKeyIndexBits: 2,
	}
}

func TestPutAndGet(t *testing.T) {
	c := openTestCatalog(t)
	entry := testEntry("db.coll")

	if err := c.Put(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := c.Get("db.coll")
	if !ok {
		t.Fatalf("expected entry to be present")
	}
	if got.NS != "db.coll" {
		t.Fatalf("unexpected ns: %q", got.NS)
	}
	if len(got.Indexes) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(got.Indexes))
	}
	if got.MultiKeyIndexBits != 2 {
		t.Fatalf("expected multikey bits 2, got %d", got.MultiKeyIndexBits)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	c := openTestCatalog(t)
	if _, ok := c.Get("db.missing"); ok {
		t.Fatalf("expected missing namespace to report false")
	}
}

func TestDropRemovesEntry(t *testing.T) {
	c := openTestCatalog(t)
	c.Put(testEntry("db.coll"))

	if err := c.Drop("db.coll"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Get("db.coll"); ok {
		t.Fatalf("expected entry removed after drop")
	}
}

func TestDropMissingFails(t *testing.T) {
	c := openTestCatalog(t)
	if err := c.Drop("db.missing"); err == nil {
		t.Fatalf("expected error dropping missing namespace")
	}
}

func TestLoadReplaysRecordsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	c1 := NewCatalog(path, nil)
	if err := c1.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c1.Put(testEntry("db.coll")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c1.Close()

	c2 := NewCatalog(path, nil)
	if err := c2.Load(); err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}
	defer c2.Close()

	got, ok := c2.Get("db.coll")
	if !ok {
		t.Fatalf("expected entry to survive reopen")
	}
	if len(got.Indexes) != 2 {
		t.Fatalf("expected 2 indexes after reopen, got %d", len(got.Indexes))
	}
}

func TestLoadReplaysTombstoneAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	c1 := NewCatalog(path, nil)
	c1.Load()
	c1.Put(testEntry("db.coll"))
	c1.Drop("db.coll")
	c1.Close()

	c2 := NewCatalog(path, nil)
	if err := c2.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c2.Close()

	if _, ok := c2.Get("db.coll"); ok {
		t.Fatalf("expected dropped namespace to stay dropped after reopen")
	}
}

func TestListReturnsAllEntries(t *testing.T) {
	c := openTestCatalog(t)
	c.Put(testEntry("db.a"))
	c.Put(testEntry("db.b"))

	list := c.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
}
