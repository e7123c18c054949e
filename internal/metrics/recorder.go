// Package metrics exposes cart synchronisation counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cartsync"

// Recorder implements service.Metrics and gateway.RequestObserver on its own
// registry, so several recorders can live in one process (tests do).
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Recorder struct {
	registry *prometheus.Registry

	quantityDeltas  *prometheus.CounterVec
	commits         *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	deletes         *prometheus.CounterVec
	pendingItems    prometheus.Gauge
	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.quantityDeltas = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quantity_deltas_total",
			Help:      "Stepper presses, by whether they changed the local quantity.",
		},
		[]string{"applied"},
	)
	r.commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quantity_commits_total",
			Help:      "Debounced quantity commits by outcome.",
		},
		[]string{"outcome"},
	)
	r.reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Full cart re-reads by outcome.",
		},
		[]string{"outcome"},
	)
	r.deletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_deletes_total",
			Help:      "Item deletions by outcome.",
		},
		[]string{"outcome"},
	)
	r.pendingItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_items",
			Help:      "Items whose local quantity is not yet confirmed by the backend.",
		},
	)
	r.backendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Requests to the cart backend by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	r.backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Duration of cart backend requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	r.registry.MustRegister(
		r.quantityDeltas,
		r.commits,
		r.reconciliations,
		r.deletes,
		r.pendingItems,
		r.backendRequests,
		r.backendDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) QuantityDelta(applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	r.quantityDeltas.WithLabelValues(label).Inc()
}

func (r *Recorder) CommitFinished(outcome string) {
	r.commits.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Reconciled(outcome string) {
	r.reconciliations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) DeleteFinished(outcome string) {
	r.deletes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetPending(n int) {
	r.pendingItems.Set(float64(n))
}

func (r *Recorder) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	r.backendRequests.WithLabelValues(operation, outcome).Inc()
	r.backendDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
