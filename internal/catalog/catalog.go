// Package catalog is the on-disk namespace catalog the collection map
// reopens from at server start (spec.md §4.1: "reopened on server start
// from serialized metadata"). Each entry records one namespace's options,
// primary-key pattern, and index list; the collection map applies the same
// flavor-selection rules to a loaded entry as it does to a freshly created
// namespace.
package catalog

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/errors"
	"github.com/kartikbazzad/storedb/internal/logger"
)

// IndexRecord is one persisted index definition.
type IndexRecord struct {
	Name       string
	Key        bsonish.KeyPattern
	Unique     bool
	Sparse     bool
	Clustering bool
	Background bool
}

// Entry is one namespace's persisted metadata.
type Entry struct {
	NS                string
	Options           bsonish.Doc
	PK                bsonish.KeyPattern
	Indexes           []IndexRecord
	MultiKeyIndexBits uint64
	BulkLoad          bool

	// NIndexes is the number of entries at the front of Indexes that are
	// fully committed. It is normally equal to len(Indexes); when the
	// collection was persisted with includeHotIndex set while a
	// background build was in progress, Indexes carries one extra
	// trailing record beyond NIndexes: the in-progress candidate (spec.md
	// §6 "includeHotIndex controls whether an in-progress background
	// index is appended").
	NIndexes uint32
}

const entryLenSize = 4

// Catalog is a mutex-guarded, append-only-on-disk map of namespace to
// persisted Entry. Writes append a fresh length-prefixed record (a drop
// appends a tombstone); Load replays the file to the latest record per
// namespace, mirroring the teacher's replay-on-open catalog format.
type Catalog struct {
	mu      sync.RWMutex
	file    *os.File
	path    string
	entries map[string]*Entry
	logger  *logger.Logger
}

// NewCatalog builds a catalog backed by the file at path.
func NewCatalog(path string, log *logger.Logger) *Catalog {
	return &Catalog{
		path:    path,
		entries: make(map[string]*Entry),
		logger:  log,
	}
}

// Load opens (creating if absent) the catalog file and replays every
// record in it, keeping the last record written for each namespace. A
// length-0 record is skipped; a record decoded as dropped removes its
// namespace.
func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(c.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.ErrStorageError
	}
	c.file = file

	data, err := os.ReadFile(c.path)
	if err != nil {
		return errors.ErrStorageError
	}

	offset := 0
	for offset < len(data) {
		if offset+entryLenSize > len(data) {
			break
		}
		length := binary.LittleEndian.Uint32(data[offset : offset+entryLenSize])
		offset += entryLenSize

		if offset+int(length) > len(data) {
			break
		}
		record := data[offset : offset+int(length)]
		offset += int(length)

		if length == 0 {
			continue
		}

		entry, err := decodeEntry(record)
		if err != nil {
			return errors.ErrStorageError
		}
		if entry.dropped {
			delete(c.entries, entry.NS)
			continue
		}
		c.entries[entry.NS] = &entry.Entry
	}

	if c.logger != nil {
		c.logger.Info("catalog loaded: %d namespaces", len(c.entries))
	}
	return nil
}

// Put persists entry, overwriting any prior record for the same namespace.
func (c *Catalog) Put(entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.appendRecord(encodeEntry(entry, false)); err != nil {
		return err
	}
	copyEntry := entry
	c.entries[entry.NS] = &copyEntry
	return nil
}

// Drop removes ns from the catalog, appending a tombstone record.
func (c *Catalog) Drop(ns string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[ns]; !ok {
		return errors.ErrNamespaceMissing
	}

	if err := c.appendRecord(encodeEntry(Entry{NS: ns}, true)); err != nil {
		return err
	}
	delete(c.entries, ns)
	return nil
}

// Get returns the persisted entry for ns, if any.
func (c *Catalog) Get(ns string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[ns]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// List returns every persisted namespace entry, order unspecified.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, *entry)
	}
	return out
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	return c.file.Close()
}

func (c *Catalog) appendRecord(record []byte) error {
	var lenBuf [entryLenSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(record)))

	if _, err := c.file.Write(lenBuf[:]); err != nil {
		return errors.ErrStorageError
	}
	if len(record) > 0 {
		if _, err := c.file.Write(record); err != nil {
			return errors.ErrStorageError
		}
	}
	return nil
}

type decodedEntry struct {
	Entry
	dropped bool
}

func encodeEntry(e Entry, dropped bool) []byte {
	if dropped {
		// A tombstone is a bare namespace name with no further fields;
		// Load treats any length-0 outer record as a no-op, so the
		// tombstone instead carries a one-byte marker plus the name.
		var buf []byte
		buf = append(buf, 1)
		buf = appendString(buf, e.NS)
		return buf
	}

	var buf []byte
	buf = append(buf, 0)
	buf = appendString(buf, e.NS)
	buf = append(buf, bsonish.Encode(e.Options)...)
	buf = append(buf, encodeKeyPattern(e.PK)...)

	buf = appendUint32(buf, uint32(len(e.Indexes)))
	for _, idx := range e.Indexes {
		buf = appendString(buf, idx.Name)
		buf = append(buf, encodeKeyPattern(idx.Key)...)
		buf = append(buf, boolByte(idx.Unique), boolByte(idx.Sparse), boolByte(idx.Clustering), boolByte(idx.Background))
	}

	var bits [8]byte
	binary.LittleEndian.PutUint64(bits[:], e.MultiKeyIndexBits)
	buf = append(buf, bits[:]...)
	buf = append(buf, boolByte(e.BulkLoad))
	buf = appendUint32(buf, e.NIndexes)
	return buf
}

func decodeEntry(b []byte) (*decodedEntry, error) {
	if len(b) < 1 {
		return nil, errors.ErrStorageError
	}
	marker := b[0]
	rest := b[1:]

	name, n, err := readString(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]

	if marker == 1 {
		return &decodedEntry{Entry: Entry{NS: name}, dropped: true}, nil
	}

	optionsVal, n, err := bsonish.Decode(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	options, _ := optionsVal.(bsonish.Doc)

	pk, n, err := decodeKeyPattern(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]

	count, n, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]

	indexes := make([]IndexRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		idxName, consumed, err := readString(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[consumed:]

		key, consumed, err := decodeKeyPattern(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[consumed:]

		if len(rest) < 4 {
			return nil, errors.ErrStorageError
		}
		rec := IndexRecord{
			Name:       idxName,
			Key:        key,
			Unique:     rest[0] != 0,
			Sparse:     rest[1] != 0,
			Clustering: rest[2] != 0,
			Background: rest[3] != 0,
		}
		rest = rest[4:]
		indexes = append(indexes, rec)
	}

	if len(rest) < 9 {
		return nil, errors.ErrStorageError
	}
	bits := binary.LittleEndian.Uint64(rest[:8])
	bulkLoad := rest[8] != 0
	rest = rest[9:]

	nIndexes, _, err := readUint32(rest)
	if err != nil {
		return nil, err
	}

	return &decodedEntry{Entry: Entry{
		NS:                name,
		Options:           options,
		PK:                pk,
		Indexes:           indexes,
		MultiKeyIndexBits: bits,
		BulkLoad:          bulkLoad,
		NIndexes:          nIndexes,
	}}, nil
}

func encodeKeyPattern(pattern bsonish.KeyPattern) []byte {
	var buf []byte
	buf = appendUint32(buf, uint32(len(pattern)))
	for _, part := range pattern {
		buf = appendString(buf, part.Path)
		buf = append(buf, byte(int8(part.Dir)))
	}
	return buf
}

func decodeKeyPattern(b []byte) (bsonish.KeyPattern, int, error) {
	count, n, err := readUint32(b)
	if err != nil {
		return nil, 0, err
	}
	offset := n
	pattern := make(bsonish.KeyPattern, 0, count)
	for i := uint32(0); i < count; i++ {
		path, consumed, err := readString(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += consumed
		if offset >= len(b) {
			return nil, 0, errors.ErrStorageError
		}
		dir := int8(b[offset])
		offset++
		pattern = append(pattern, bsonish.KeyPart{Path: path, Dir: dir})
	}
	return pattern, offset, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(b []byte) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, errors.ErrStorageError
	}
	return binary.LittleEndian.Uint32(b[:4]), 4, nil
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readString(b []byte) (string, int, error) {
	length, n, err := readUint32(b)
	if err != nil {
		return "", 0, err
	}
	if len(b) < n+int(length) {
		return "", 0, errors.ErrStorageError
	}
	return string(b[n : n+int(length)]), n + int(length), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
