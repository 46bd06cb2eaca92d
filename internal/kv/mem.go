package kv

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/kartikbazzad/storedb/internal/errors"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

// memEntry is one key/value pair stored in a MemDictionary's btree.
type memEntry struct {
	key, value []byte
}

func (e memEntry) Less(other btree.Item) bool {
	return bytes.Compare(e.key, other.(memEntry).key) < 0
}

// MemDictionary is an in-memory Dictionary backed by a google/btree.BTree,
// used by tests and by the in-process demo shell. It applies writes directly
// without consulting its transaction argument; it exists to exercise the
// collection core's write path, not to implement transaction isolation.
type MemDictionary struct {
	name string

	mu   sync.RWMutex
	tree *btree.BTree
}

// NewMemDictionary opens an empty in-memory dictionary named name.
func NewMemDictionary(name string) *MemDictionary {
	return &MemDictionary{name: name, tree: btree.New(32)}
}

func (d *MemDictionary) Name() string { return d.name }

func (d *MemDictionary) Close() error { return nil }

func (d *MemDictionary) Get(key []byte, cb func(value []byte) error) (bool, error) {
	d.mu.RLock()
	item := d.tree.Get(memEntry{key: key})
	d.mu.RUnlock()

	if item == nil {
		return false, nil
	}
	if cb == nil {
		return true, nil
	}
	return true, cb(item.(memEntry).value)
}

func (d *MemDictionary) Insert(_ txnctx.Txn, key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	d.mu.Lock()
	d.tree.ReplaceOrInsert(memEntry{key: append([]byte(nil), key...), value: cp})
	d.mu.Unlock()
	return nil
}

func (d *MemDictionary) Delete(_ txnctx.Txn, key []byte) error {
	d.mu.Lock()
	item := d.tree.Delete(memEntry{key: key})
	d.mu.Unlock()

	if item == nil {
		return errors.ErrStorageError
	}
	return nil
}

func (d *MemDictionary) NewCursor() Cursor {
	return &memCursor{dict: d}
}

func (d *MemDictionary) NewBulkLoader() BulkLoader {
	return &memBulkLoader{dict: d}
}

func (d *MemDictionary) NewOnlineIndexer(dest Dictionary) OnlineIndexer {
	return &memOnlineIndexer{src: d, dest: dest}
}

// Optimize is a no-op for MemDictionary: there is no on-disk layout to
// compact. It reports zero loops so callers never mistake it for having
// done real work.
func (d *MemDictionary) Optimize(_ context.Context, _, _ []byte) (int, error) {
	return 0, nil
}

type memCursor struct {
	dict    *MemDictionary
	started bool
	seekKey []byte
	cur     memEntry
	ok      bool
}

func (c *memCursor) Seek(key []byte) {
	c.seekKey = key
	c.started = false
	c.ok = false
}

func (c *memCursor) Next() bool {
	c.dict.mu.RLock()
	defer c.dict.mu.RUnlock()

	from := c.seekKey
	if c.started {
		from = append(append([]byte(nil), c.cur.key...), 0x00)
	}
	c.started = true

	var found memEntry
	hit := false
	c.dict.tree.AscendGreaterOrEqual(memEntry{key: from}, func(item btree.Item) bool {
		found = item.(memEntry)
		hit = true
		return false
	})
	c.ok = hit
	if hit {
		c.cur = found
	}
	return hit
}

func (c *memCursor) Key() []byte   { return c.cur.key }
func (c *memCursor) Value() []byte { return c.cur.value }
func (c *memCursor) Close() error  { return nil }

type memBulkLoader struct {
	dict    *MemDictionary
	pending []memEntry
}

// Put buffers the pair; nothing reaches the dictionary until Close.
func (l *memBulkLoader) Put(key, value []byte) error {
	l.pending = append(l.pending, memEntry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (l *memBulkLoader) Close() error {
	for _, e := range l.pending {
		if err := l.dict.Insert(nil, e.key, e.value); err != nil {
			return err
		}
	}
	l.pending = nil
	return nil
}

// memOnlineIndexer builds dest by iterating src's current contents. A real
// engine's online indexer absorbs concurrent writes through a side buffer
// while iterating; MemDictionary's writes are already visible to a live
// cursor under its RWMutex, so no side buffer is needed here.
type memOnlineIndexer struct {
	src  *MemDictionary
	dest Dictionary
}

func (idx *memOnlineIndexer) Build(ctx context.Context) error {
	cur := idx.src.NewCursor()
	defer cur.Close()

	cur.Seek(nil)
	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := idx.dest.Insert(nil, cur.Key(), cur.Value()); err != nil {
			return err
		}
	}
	return nil
}

func (idx *memOnlineIndexer) Close() error { return nil }
