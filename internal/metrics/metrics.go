// Package metrics exposes the collection core's operation counters,
// latencies, and gauges through a real Prometheus registry, replacing the
// teacher's hand-rolled OpenMetrics-text exporter (internal/metrics in the
// teacher repo) with github.com/prometheus/client_golang the way the rest
// of the pack's services (bun-kms, functions, cockroach) register theirs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kartikbazzad/storedb/internal/config"
	"github.com/kartikbazzad/storedb/internal/errors"
)

// Registry holds every metric this process exports, all under one
// prometheus.Registry so a caller can mount it behind its own HTTP handler
// without reaching for the global default registry.
type Registry struct {
	Registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
	DocumentsTotal    *prometheus.GaugeVec
	IndexesTotal      *prometheus.GaugeVec
	IndexBuildsTotal  *prometheus.CounterVec
	CappedTrimsTotal  *prometheus.CounterVec
	BulkLoadsActive   prometheus.Gauge
	GTIDMinLive       *prometheus.GaugeVec
	GTIDMinUnapplied  *prometheus.GaugeVec
}

// NewRegistry builds a metrics registry under cfg's namespace. It does not
// read cfg.Enabled: the registry is built and recorded into the same way
// either way, and whether it is served is up to the caller.
func NewRegistry(cfg config.MetricsConfig) *Registry {
	ns := cfg.Namespace
	if ns == "" {
		ns = "storedb"
	}
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)

	r := &Registry{
		Registry: reg,
		OperationsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total number of collection operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		OperationDuration: fac.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Collection operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		ErrorsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Total number of errors by classifier category.",
		}, []string{"category"}),
		DocumentsTotal: fac.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "documents_total",
			Help:      "Current document count per namespace (capped/profile collections only).",
		}, []string{"ns"}),
		IndexesTotal: fac.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "indexes_total",
			Help:      "Current committed index count per namespace.",
		}, []string{"ns"}),
		IndexBuildsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "index_builds_total",
			Help:      "Total number of completed ensureIndex builds by mode and outcome.",
		}, []string{"mode", "outcome"}),
		CappedTrimsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "capped_trims_total",
			Help:      "Total number of documents trimmed from capped/profile collections.",
		}, []string{"ns"}),
		BulkLoadsActive: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "bulk_loads_active",
			Help:      "Number of collections currently bulk-loading.",
		}),
		GTIDMinLive: fac.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "gtid_min_live",
			Help:      "GTIDManager's minLiveGTID per oplog namespace, packed as PrimarySeqNo*1e9 + GTSeqNo mod 1e9.",
		}, []string{"ns"}),
		GTIDMinUnapplied: fac.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "gtid_min_unapplied",
			Help:      "GTIDManager's minUnappliedGTID per oplog namespace, packed as PrimarySeqNo*1e9 + GTSeqNo mod 1e9.",
		}, []string{"ns"}),
	}
	return r
}

// RecordGTIDMins mirrors GTIDManager.GetMins's result into the GTID gauges
// for ns (spec.md §9 "GTIDManager metrics export").
func (r *Registry) RecordGTIDMins(ns string, minLivePrimary, minLiveSeq, minUnappliedPrimary, minUnappliedSeq uint64) {
	r.GTIDMinLive.WithLabelValues(ns).Set(gtidGaugeValue(minLivePrimary, minLiveSeq))
	r.GTIDMinUnapplied.WithLabelValues(ns).Set(gtidGaugeValue(minUnappliedPrimary, minUnappliedSeq))
}

// gtidGaugeValue packs a GTID's two components into one float64 gauge value
// (primarySeqNo*1e9 + GTSeqNo mod 1e9, so GTSeqNo fills the low nine
// decimal digits) since Prometheus gauges are scalar; a dashboard caring about the
// exact pair should instead watch the catalog/oplog directly.
func gtidGaugeValue(primarySeqNo, gtSeqNo uint64) float64 {
	return float64(primarySeqNo)*1e9 + float64(gtSeqNo%1e9)
}

// ObserveOp records one operation's outcome and latency.
func (r *Registry) ObserveOp(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.OperationsTotal.WithLabelValues(op, outcome).Inc()
	r.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordError classifies err and increments ErrorsTotal under its category.
func (r *Registry) RecordError(classifier *errors.Classifier, err error) {
	if err == nil {
		return
	}
	r.ErrorsTotal.WithLabelValues(categoryLabel(classifier.Classify(err))).Inc()
}

// RecordIndexBuild records one ensureIndex build's mode ("cold"/"hot") and
// outcome.
func (r *Registry) RecordIndexBuild(mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.IndexBuildsTotal.WithLabelValues(mode, outcome).Inc()
}

func categoryLabel(c errors.ErrorCategory) string {
	switch c {
	case errors.ErrorTransient:
		return "transient"
	case errors.ErrorPermanent:
		return "permanent"
	case errors.ErrorCritical:
		return "critical"
	case errors.ErrorValidation:
		return "validation"
	case errors.ErrorNetwork:
		return "network"
	default:
		return "unknown"
	}
}
