package kv

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kartikbazzad/storedb/internal/errors"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

// SQLiteDictionary is a Dictionary backed by a single table in a
// modernc.org/sqlite database, giving the collection core a pure-Go,
// cgo-free persistent reference engine alongside MemDictionary.
type SQLiteDictionary struct {
	name string
	db   *sql.DB
}

// OpenSQLiteDictionary opens (creating if absent) a dictionary named name
// inside the sqlite database at path, using a dedicated table per
// dictionary name so several dictionaries can share one file.
func OpenSQLiteDictionary(path, name string) (*SQLiteDictionary, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}

	table := sqliteTableName(name)
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k BLOB PRIMARY KEY, v BLOB) WITHOUT ROWID`, table)
	if _, err := db.Exec(stmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}

	return &SQLiteDictionary{name: name, db: db}, nil
}

func sqliteTableName(name string) string {
	return "dict_" + name
}

func (d *SQLiteDictionary) Name() string { return d.name }

func (d *SQLiteDictionary) Close() error { return d.db.Close() }

func (d *SQLiteDictionary) Get(key []byte, cb func(value []byte) error) (bool, error) {
	row := d.db.QueryRow(fmt.Sprintf("SELECT v FROM %s WHERE k = ?", sqliteTableName(d.name)), key)

	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}
	if cb == nil {
		return true, nil
	}
	return true, cb(value)
}

func (d *SQLiteDictionary) Insert(_ txnctx.Txn, key, value []byte) error {
	stmt := fmt.Sprintf("INSERT INTO %s(k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v", sqliteTableName(d.name))
	if _, err := d.db.Exec(stmt, key, value); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}
	return nil
}

func (d *SQLiteDictionary) Delete(_ txnctx.Txn, key []byte) error {
	res, err := d.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE k = ?", sqliteTableName(d.name)), key)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}
	if n == 0 {
		return errors.ErrStorageError
	}
	return nil
}

func (d *SQLiteDictionary) NewCursor() Cursor {
	return &sqliteCursor{dict: d}
}

func (d *SQLiteDictionary) NewBulkLoader() BulkLoader {
	return &sqliteBulkLoader{dict: d}
}

func (d *SQLiteDictionary) NewOnlineIndexer(dest Dictionary) OnlineIndexer {
	return &sqliteOnlineIndexer{src: d, dest: dest}
}

// Optimize runs sqlite's PRAGMA optimize over the whole database; the
// [left, right) range is ignored.
func (d *SQLiteDictionary) Optimize(ctx context.Context, _, _ []byte) (int, error) {
	if _, err := d.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return 0, fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}
	return 1, nil
}

type sqliteCursor struct {
	dict *SQLiteDictionary
	rows *sql.Rows
	key  []byte
	val  []byte
}

func (c *sqliteCursor) Seek(key []byte) {
	if c.rows != nil {
		c.rows.Close()
		c.rows = nil
	}
	query := fmt.Sprintf("SELECT k, v FROM %s WHERE k >= ? ORDER BY k ASC", sqliteTableName(c.dict.name))
	args := []any{key}
	if key == nil {
		// A nil seek key starts at the first row; bound as NULL it would
		// match nothing.
		query = fmt.Sprintf("SELECT k, v FROM %s ORDER BY k ASC", sqliteTableName(c.dict.name))
		args = nil
	}
	rows, err := c.dict.db.Query(query, args...)
	if err != nil {
		return
	}
	c.rows = rows
}

func (c *sqliteCursor) Next() bool {
	if c.rows == nil {
		return false
	}
	if !c.rows.Next() {
		return false
	}
	return c.rows.Scan(&c.key, &c.val) == nil
}

func (c *sqliteCursor) Key() []byte   { return c.key }
func (c *sqliteCursor) Value() []byte { return c.val }

func (c *sqliteCursor) Close() error {
	if c.rows == nil {
		return nil
	}
	return c.rows.Close()
}

type sqliteBulkLoader struct {
	dict *SQLiteDictionary
	tx   *sql.Tx
}

func (l *sqliteBulkLoader) Put(key, value []byte) error {
	if l.tx == nil {
		tx, err := l.dict.db.Begin()
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrStorageError, err)
		}
		l.tx = tx
	}
	stmt := fmt.Sprintf("INSERT INTO %s(k, v) VALUES (?, ?)", sqliteTableName(l.dict.name))
	if _, err := l.tx.Exec(stmt, key, value); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}
	return nil
}

func (l *sqliteBulkLoader) Close() error {
	if l.tx == nil {
		return nil
	}
	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorageError, err)
	}
	return nil
}

// sqliteOnlineIndexer builds dest by streaming src's current rows through a
// cursor, the same "iterate and insert" shape as memOnlineIndexer; sqlite's
// own MVCC gives concurrent writers a consistent snapshot of src without a
// side buffer.
type sqliteOnlineIndexer struct {
	src  *SQLiteDictionary
	dest Dictionary
}

func (idx *sqliteOnlineIndexer) Build(ctx context.Context) error {
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

func (idx *sqliteOnlineIndexer) Close() error { return nil }
