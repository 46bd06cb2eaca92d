// Command storedb is a flag-parsed demo binary wiring a SQLite-backed
// dictionary into the collection core and driving it from one-shot
// commands (spec.md §6 "Demo wire format" — no new wire protocol, matching
// the scope boundary in spec.md §1).
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartikbazzad/storedb/internal/bsonish"
	"github.com/kartikbazzad/storedb/internal/catalog"
	"github.com/kartikbazzad/storedb/internal/collection"
	"github.com/kartikbazzad/storedb/internal/config"
	"github.com/kartikbazzad/storedb/internal/errors"
	"github.com/kartikbazzad/storedb/internal/kv"
	"github.com/kartikbazzad/storedb/internal/logger"
	"github.com/kartikbazzad/storedb/internal/txnctx"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "Directory for the catalog and SQLite dictionaries")
	ns := flag.String("ns", "test.demo", "Namespace (db.collection) to operate on")
	cmdName := flag.String("cmd", "stats", "insert|ensure-index|stats|list")
	field := flag.String("field", "value", "Document field name for insert")
	value := flag.String("value", "", "Document field value for insert")
	indexField := flag.String("index-field", "", "Field to index for ensure-index")
	background := flag.Bool("background", false, "Build the new index hot (background)")
	metricsAddr := flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address and exit after the command runs")
	flag.Parse()

	logr := logger.Default()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = *dataDir

	cat := catalog.NewCatalog(*dataDir+"/catalog.log", logr)
	if err := cat.Load(); err != nil {
		log.Fatalf("loading catalog: %v", err)
	}
	defer cat.Close()

	openDict := func(ns, indexName string) (kv.Dictionary, error) {
		return kv.OpenSQLiteDictionary(*dataDir+"/"+ns+".db", indexName)
	}

	m := collection.NewMap(cat, openDict, cfg)
	if err := m.LoadFromCatalog(); err != nil {
		log.Fatalf("reopening collections from catalog: %v", err)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Metrics().Registry, promhttp.HandlerOpts{}))
		go func() {
			logr.Info("serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logr.Error("metrics server: %v", err)
			}
		}()
	}

	switch *cmdName {
	case "insert":
		runInsert(m, logr, *ns, *field, *value)
	case "ensure-index":
		runEnsureIndex(m, logr, *ns, *indexField, *background)
	case "stats":
		runStats(m, *ns)
	case "list":
		runList(cat)
	default:
		log.Fatalf("unknown -cmd %q", *cmdName)
	}
}

func runInsert(m *collection.Map, logr *logger.Logger, ns, field, value string) {
	c, err := m.GetOrCreateCollection(ns, bsonish.NewDoc())
	if err != nil {
		log.Fatalf("opening %s: %v", ns, err)
	}

	doc := bsonish.NewDoc(bsonish.Elem{Key: field, Value: value})
	txm := txnctx.NewManager()
	tx := txm.Begin(1)

	pk, err := insertByFlavor(c, tx, doc)
	if err != nil {
		_ = txm.Abort(tx)
		log.Fatalf("insert into %s: %v", ns, err)
	}
	if err := txm.Commit(tx); err != nil {
		log.Fatalf("committing insert into %s: %v", ns, err)
	}

	logr.Info("inserted into %s, pk=%v", ns, pk)
}

// insertByFlavor dispatches to the write-path entry point matching c's
// flavor (spec.md §3's tagged-union collection shapes each expose their own
// insertObject override).
func insertByFlavor(c *collection.Collection, tx txnctx.Txn, doc bsonish.Doc) (bsonish.Key, error) {
	switch c.Flavor() {
	case collection.FlavorNaturalOrder:
		return c.InsertNatural(tx, doc, 0)
	case collection.FlavorCapped, collection.FlavorProfile:
		return c.InsertCapped(tx, doc, 0)
	case collection.FlavorOplog:
		return c.InsertOplog(tx, doc, 0)
	case collection.FlavorSystemCatalog:
		return c.InsertSystemCatalog(tx, doc, 0)
	default:
		return c.InsertObject(tx, doc, 0)
	}
}

func runEnsureIndex(m *collection.Map, logr *logger.Logger, ns, indexField string, background bool) {
	if indexField == "" {
		log.Fatalf("-index-field is required for -cmd ensure-index")
	}
	info := bsonish.NewDoc(
		bsonish.Elem{Key: "key", Value: bsonish.NewDoc(bsonish.Elem{Key: indexField, Value: int64(1)})},
		bsonish.Elem{Key: "background", Value: background},
	)
	created, err := m.EnsureIndex(ns, info)
	if err != nil {
		log.Fatalf("ensure-index on %s: %v", ns, err)
	}
	logr.Info("ensure-index on %s field %q: created=%v", ns, indexField, created)
}

func runStats(m *collection.Map, ns string) {
	c, ok := m.GetCollection(ns)
	if !ok {
		log.Fatalf("namespace %s is not open", ns)
	}
	fmt.Printf("namespace:  %s\n", c.NS())
	fmt.Printf("indexes:    %d\n", c.NIndexes())
	if cv, ok := c.AsCapped(); ok {
		objects, size := cv.Stats()
		fmt.Printf("objects:    %d\n", objects)
		fmt.Printf("size:       %d bytes\n", size)
	}
	fmt.Printf("tracked catalog-persist errors (transient): %d\n", m.Errors().GetErrorCount(errors.ErrorTransient))
	fmt.Printf("tracked catalog-persist errors (critical):  %d\n", m.Errors().GetErrorCount(errors.ErrorCritical))
}

func runList(cat *catalog.Catalog) {
	for _, e := range cat.List() {
		fmt.Printf("%s\tpk=%v\tindexes=%d\n", e.NS, e.PK, len(e.Indexes))
	}
}
