// Package metrics exposes the node's counters and gauges over a
// dedicated Prometheus registry, plus a running mean/variance of
// inferred per-node clock skew for an at-a-glance health signal,
// grounded on ptp/sptp/stats/prom_exporter.go's dedicated-registry +
// promhttp pattern.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/eclesh/welford"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this node exposes, plus the skew
// statistics accumulator that backs the skew-variance gauge.
type Registry struct {
	reg *prometheus.Registry

	PlotsIngested      prometheus.Counter
	BatchesSent        prometheus.Counter
	BatchesReceived    prometheus.Counter
	InboundConnections prometheus.Counter
	RecordsDeduped     prometheus.Counter
	DeconflictDuration prometheus.Histogram
	SkewVariance       prometheus.GaugeFunc

	skew *welford.Stats
}

// New constructs a Registry with every metric pre-registered.
func New() *Registry {
	r := &Registry{
		reg:  prometheus.NewRegistry(),
		skew: welford.New(),
	}

	r.PlotsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repsvr_plots_ingested_total",
		Help: "Plot records appended by the antenna ingest thread.",
	})
	r.BatchesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repsvr_batches_sent_total",
		Help: "Batches handed to the Queue Manager for outbound delivery.",
	})
	r.BatchesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repsvr_batches_received_total",
		Help: "Batches drained from the Queue Manager's inbound FIFO.",
	})
	r.InboundConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repsvr_inbound_connections_total",
		Help: "Inbound connections accepted by the Queue Manager's listener.",
	})
	r.RecordsDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repsvr_records_deduped_total",
		Help: "Records erased by the deconfliction pass as duplicate observations.",
	})
	r.DeconflictDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "repsvr_deconflict_pass_seconds",
		Help:    "Wall-clock duration of each deconfliction pass.",
		Buckets: prometheus.DefBuckets,
	})
	r.SkewVariance = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "repsvr_skew_variance_seconds2",
		Help: "Running variance of inferred per-node clock skew observations.",
	}, func() float64 { return r.skew.Variance() })

	for _, c := range []prometheus.Collector{
		r.PlotsIngested, r.BatchesSent, r.BatchesReceived,
		r.InboundConnections, r.RecordsDeduped, r.DeconflictDuration, r.SkewVariance,
	} {
		r.reg.MustRegister(c)
	}
	return r
}

// ObserveSkew feeds one inferred skew observation (seconds) into the
// running mean/variance used by SkewVariance.
func (r *Registry) ObserveSkew(seconds float64) {
	r.skew.Add(seconds)
}

// Handler returns the promhttp handler serving this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ListenAndServe blocks serving /metrics on addr (e.g. ":9090").
func (r *Registry) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return http.ListenAndServe(addr, mux)
}

// String renders a one-line human summary, logged by repsvr run when
// the node shuts down.
func (r *Registry) String() string {
	return fmt.Sprintf("skew_mean=%.3f skew_variance=%.3f", r.skew.Mean(), r.skew.Variance())
}
