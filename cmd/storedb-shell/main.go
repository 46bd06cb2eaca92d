// Command storedb-shell is a liner-backed interactive REPL driving the
// collection core in-process: no wire protocol, matching spec.md's Non-goals
// for a server front end and client/server transport (spec.md §1). The
// teacher's own go.mod already declared github.com/peterh/liner as a
// dependency but its docdbsh shell reads stdin with bufio instead; this
// shell is where that dependency actually gets used.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/peterh/liner"

	"github.com/kartikbazzad/storedb/cmd/storedb-shell/parser"
	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/catalog"
	"github.com/kartikbazzad/storedb/internal/collection"
	"github.com/kartikbazzad/storedb/internal/config"
	"github.com/kartikbazzad/storedb/internal/kv"
	"github.com/kartikbazzad/storedb/internal/logger"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

const prompt = "storedb> "

type session struct {
	m   *collection.Map
	txm *txnctx.Manager
	cat *catalog.Catalog

	ns string
	c  *collection.Collection
	tx txnctx.Txn
}

func main() {
	dataDirFlag := "./data"
	if len(os.Args) > 1 && os.Args[1] != "" {
		dataDirFlag = os.Args[1]
	}

	logr := logger.Default()
	if err := os.MkdirAll(dataDirFlag, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating data dir: %v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDirFlag

	cat := catalog.NewCatalog(dataDirFlag+"/catalog.log", logr)
	if err := cat.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "loading catalog: %v\n", err)
		os.Exit(1)
	}
	defer cat.Close()

	openDict := func(ns, indexName string) (kv.Dictionary, error) {
		return kv.NewMemDictionary(ns + "." + indexName), nil
	}
	m := collection.NewMap(cat, openDict, cfg)
	if err := m.LoadFromCatalog(); err != nil {
		fmt.Fprintf(os.Stderr, "reopening collections: %v\n", err)
		os.Exit(1)
	}

	s := &session{m: m, txm: txnctx.NewManager(), cat: cat}

	fmt.Println("storedb shell v0 (in-process, no wire protocol)")
	fmt.Println("type .help for commands")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			return
		}
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		cmd, perr := parser.Parse(input)
		if perr != nil {
			fmt.Println("ERROR:", perr)
			continue
		}
		if s.dispatch(cmd) {
			return
		}
	}
}

// dispatch runs cmd against the session, returning true if the shell
// should exit.
func (s *session) dispatch(cmd *parser.Command) bool {
	switch cmd.Name {
	case ".help":
		printHelp()
	case ".exit", ".quit":
		return true
	case ".open":
		s.cmdOpen(cmd)
	case ".close":
		s.ns, s.c = "", nil
		fmt.Println("OK")
	case ".begin":
		s.cmdBegin()
	case ".commit":
		s.cmdCommit()
	case ".rollback":
		s.cmdRollback()
	case ".insert":
		s.cmdInsert(cmd)
	case ".get":
		s.cmdGet(cmd)
	case ".delete":
		s.cmdDelete(cmd)
	case ".ensure-index":
		s.cmdEnsureIndex(cmd)
	case ".drop-index":
		s.cmdDropIndex(cmd)
	case ".stats":
		s.cmdStats()
	case ".list":
		s.cmdList()
	default:
		fmt.Printf("unknown command %q, try .help\n", cmd.Name)
	}
	return false
}

func printHelp() {
	fmt.Println(`.open <ns>                    open or create a namespace
.close                        close the current namespace
.begin / .commit / .rollback  manage the current transaction
.insert <field> <value>       insert {_id: auto, <field>: <value>}
.get <id>                     fetch a document by _id
.delete <id>                  delete a document by _id
.ensure-index <field> [bg]    build a secondary index on <field>
.drop-index <name>            drop a secondary index
.stats                        print the open namespace's stats
.list                         list every namespace in the catalog
.exit                         quit the shell`)
}

func (s *session) cmdOpen(cmd *parser.Command) {
	if perr := parser.ValidateArgs(cmd, 1); perr != nil {
		fmt.Println("ERROR:", perr)
		return
	}
	c, err := s.m.GetOrCreateCollection(cmd.Args[0], bsonish.NewDoc())
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	s.ns, s.c = cmd.Args[0], c
	fmt.Printf("OK, opened %s (flavor %d, %d index(es))\n", s.ns, c.Flavor(), c.NIndexes())
}

func (s *session) requireOpen() bool {
	if s.c == nil {
		fmt.Println("ERROR: no namespace open, use .open <ns>")
		return false
	}
	return true
}

func (s *session) cmdBegin() {
	if s.tx != nil {
		fmt.Println("ERROR: transaction already active")
		return
	}
	s.tx = s.txm.Begin(1)
	fmt.Println("OK")
}

func (s *session) activeTx() (txnctx.Txn, bool) {
	if s.tx != nil {
		return s.tx, false
	}
	return s.txm.Begin(1), true
}

func (s *session) endImplicit(tx txnctx.Txn, implicit bool, failed bool) {
	if !implicit {
		return
	}
	if failed {
		_ = s.txm.Abort(tx)
	} else {
		_ = s.txm.Commit(tx)
	}
}

func (s *session) cmdCommit() {
	if s.tx == nil {
		fmt.Println("ERROR: no active transaction")
		return
	}
	err := s.txm.Commit(s.tx)
	s.tx = nil
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	fmt.Println("OK")
}

func (s *session) cmdRollback() {
	if s.tx == nil {
		fmt.Println("ERROR: no active transaction")
		return
	}
	err := s.txm.Abort(s.tx)
	s.tx = nil
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	fmt.Println("OK")
}

func (s *session) cmdInsert(cmd *parser.Command) {
	if !s.requireOpen() {
		return
	}
	if perr := parser.ValidateArgs(cmd, 2); perr != nil {
		fmt.Println("ERROR:", perr)
		return
	}
	doc := bsonish.NewDoc(bsonish.Elem{Key: cmd.Args[0], Value: cmd.Args[1]})

	tx, implicit := s.activeTx()
	pk, err := s.insertByFlavor(tx, doc)
	s.endImplicit(tx, implicit, err != nil)
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	fmt.Printf("OK, pk=%v\n", pk)
}

func (s *session) insertByFlavor(tx txnctx.Txn, doc bsonish.Doc) (bsonish.Key, error) {
	switch s.c.Flavor() {
	case collection.FlavorNaturalOrder:
		return s.c.InsertNatural(tx, doc, 0)
	case collection.FlavorCapped, collection.FlavorProfile:
		return s.c.InsertCapped(tx, doc, 0)
	case collection.FlavorOplog:
		return s.c.InsertOplog(tx, doc, 0)
	default:
		return s.c.InsertObject(tx, doc, 0)
	}
}

func (s *session) cmdGet(cmd *parser.Command) {
	if !s.requireOpen() {
		return
	}
	if perr := parser.ValidateArgs(cmd, 1); perr != nil {
		fmt.Println("ERROR:", perr)
		return
	}
	doc, ok, err := s.fetchByID(cmd.Args[0])
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	if !ok {
		fmt.Println("not found")
		return
	}
	printDoc(doc)
}

func (s *session) fetchByID(idArg string) (bsonish.Doc, bool, error) {
	idx0 := s.c.Index(0)
	key := idKey(idArg)
	physKey := collection.EncodeKey(key, idx0.Key)

	var raw []byte
	found, err := idx0.Dict.Get(physKey, func(v []byte) error {
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil || !found {
		return bsonish.Doc{}, found, err
	}
	decoded, _, derr := bsonish.Decode(raw)
	if derr != nil {
		return bsonish.Doc{}, false, derr
	}
	doc, ok := decoded.(bsonish.Doc)
	if !ok {
		return bsonish.Doc{}, false, fmt.Errorf("stored value is not a document")
	}
	return doc, true, nil
}

// idKey builds the PK bsonish.Key for a shell-supplied string argument: a
// numeric argument is treated as the natural-order/capped "$"-style
// integer PK, anything else is passed through as a raw string _id.
func idKey(arg string) bsonish.Key {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return bsonish.Key{n}
	}
	return bsonish.Key{arg}
}

func (s *session) cmdDelete(cmd *parser.Command) {
	if !s.requireOpen() {
		return
	}
	if perr := parser.ValidateArgs(cmd, 1); perr != nil {
		fmt.Println("ERROR:", perr)
		return
	}
	doc, ok, err := s.fetchByID(cmd.Args[0])
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	if !ok {
		fmt.Println("not found")
		return
	}

	tx, implicit := s.activeTx()
	key := idKey(cmd.Args[0])
	err = s.c.DeleteObject(tx, key, doc, 0)
	s.endImplicit(tx, implicit, err != nil)
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	fmt.Println("OK")
}

func (s *session) cmdEnsureIndex(cmd *parser.Command) {
	if !s.requireOpen() {
		return
	}
	if perr := parser.ValidateArgs(cmd, 1); perr != nil {
		fmt.Println("ERROR:", perr)
		return
	}
	background := len(cmd.Args) > 1 && cmd.Args[1] == "bg"
	info := bsonish.NewDoc(
		bsonish.Elem{Key: "key", Value: bsonish.NewDoc(bsonish.Elem{Key: cmd.Args[0], Value: int64(1)})},
		bsonish.Elem{Key: "background", Value: background},
	)
	created, err := s.m.EnsureIndex(s.ns, info)
	if err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	fmt.Printf("OK, created=%v\n", created)
}

func (s *session) cmdDropIndex(cmd *parser.Command) {
	if !s.requireOpen() {
		return
	}
	if perr := parser.ValidateArgs(cmd, 1); perr != nil {
		fmt.Println("ERROR:", perr)
		return
	}
	if err := s.m.DropIndex(s.ns, cmd.Args[0]); err != nil {
		fmt.Println("ERROR:", err)
		return
	}
	fmt.Println("OK")
}

func (s *session) cmdStats() {
	if !s.requireOpen() {
		return
	}
	fmt.Printf("namespace: %s\n", s.c.NS())
	fmt.Printf("indexes:   %d\n", s.c.NIndexes())
	if cv, ok := s.c.AsCapped(); ok {
		objects, size := cv.Stats()
		fmt.Printf("objects:   %d\n", objects)
		fmt.Printf("size:      %d bytes\n", size)
	}
	if tv, ok := s.c.AsTailable(); ok {
		fmt.Printf("minUnsafeKey: %v\n", tv.MinUnsafeKey())
	}
}

func (s *session) cmdList() {
	for _, e := range s.cat.List() {
		fmt.Printf("%s\tindexes=%d\n", e.NS, len(e.Indexes))
	}
}

func printDoc(doc bsonish.Doc) {
	fmt.Print("{")
	for i, e := range doc.Elems() {
		if i > 0 {
			fmt.Print(", ")
		}
		fmt.Printf("%s: %v", e.Key, e.Value)
	}
	fmt.Println("}")
}
