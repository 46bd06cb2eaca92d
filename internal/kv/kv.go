// Package kv defines the ordered key/value dictionary engine the collection
// core treats as an opaque, out-of-scope collaborator (spec.md §6,
// "Dictionary engine (consumed)"), plus two reference implementations:
// MemDictionary, an in-memory sorted store, and SQLiteDictionary, backed by
// modernc.org/sqlite. A real storage engine would swap in its own
// Dictionary without the collection core needing to change.
package kv

import (
	"context"

	"github.com/kartikbazzad/storedb/internal/txnctx"
)

// Dictionary is one named ordered key/value store: point-get, transactional
// insert/delete, a forward cursor, a bulk loader, an online indexer, and a
// time-bounded range optimize (used by oplog trimmers, spec.md §4.6).
type Dictionary interface {
	Name() string
	Close() error

	// Get looks up key and, if present, invokes cb with its value. cb's
	// return value (and any error) is propagated to the caller; this
	// mirrors a callback-style point-get so the caller never copies a
	// value it doesn't need.
	Get(key []byte, cb func(value []byte) error) (found bool, err error)

	Insert(tx txnctx.Txn, key, value []byte) error
	Delete(tx txnctx.Txn, key []byte) error

	NewCursor() Cursor
	NewBulkLoader() BulkLoader
	NewOnlineIndexer(dest Dictionary) OnlineIndexer

	// Optimize runs a time-bounded background compaction pass over
	// [left, right). It returns the number of iterations performed before
	// the pass ran out of time or work, so a caller (the oplog trimmer)
	// can decide whether to reschedule.
	Optimize(ctx context.Context, left, right []byte) (loops int, err error)
}

// Cursor iterates a Dictionary's keys in ascending order starting from a
// seek point.
type Cursor interface {
	Seek(key []byte)
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

// BulkLoader accepts an unordered (but conventionally ascending) stream of
// puts outside of any transaction, for fast initial index population
// (spec.md §4.8). Close commits everything put since the loader was
// created; there is no
// separate abort — a bulk load that should be discarded simply never closes
// the loader, and the caller drops the collection's reference to it.
type BulkLoader interface {
	Put(key, value []byte) error
	Close() error
}

// OnlineIndexer builds a new index concurrently with live writes to the
// source dictionary, absorbing concurrent mutations through a side buffer
// (spec.md §4.9's "hot" build path).
type OnlineIndexer interface {
	// Build iterates the source dictionary and populates dest, draining
	// the side buffer until the source is exhausted and no concurrent
	// writer is mid-flight.
	Build(ctx context.Context) error
	Close() error
}
