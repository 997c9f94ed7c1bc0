// Package metrics exposes registry activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kin-go/internal/kin"
)

const namespace = "kin"

// Recorder implements kin.Metrics on a private registry so that several
// recorders (one per test) never collide.
type Recorder struct {
	registry *prometheus.Registry

	observations  *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	pending       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchedObs    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	requests      *prometheus.CounterVec
	reqDuration   *prometheus.HistogramVec
}

var _ kin.Metrics = (*Recorder)(nil)

// NewRecorder creates a Recorder. withRuntime adds the Go and process
// collectors, which the server wants and tests do not.
func NewRecorder(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "observations_total",
			Help:      "Observations ingested by source type and action.",
		}, []string{"source_type", "action"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "decisions_total",
			Help:      "Resolution decisions by outcome and match reason.",
		}, []string{"outcome", "reason"}),
		pending: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pending",
			Name:      "resolved_total",
			Help:      "Pending links resolved by final status.",
		}, []string{"status"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "fetches_total",
			Help:      "Adapter fetches by adapter and status.",
		}, []string{"adapter", "status"}),
		fetchedObs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "observations_total",
			Help:      "Observations returned by adapters.",
		}, []string{"adapter"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of adapter fetches in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"adapter"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	r.registry.MustRegister(
		r.observations, r.resolutions, r.pending,
		r.fetches, r.fetchedObs, r.fetchDuration,
		r.requests, r.reqDuration,
	)
	if withRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

func (r *Recorder) ObservationIngested(sourceType kin.SourceType, action kin.IngestAction) {
	r.observations.WithLabelValues(string(sourceType), string(action)).Inc()
}

func (r *Recorder) ResolutionDecided(outcome kin.Outcome, reason kin.MatchReason) {
	r.resolutions.WithLabelValues(string(outcome), string(reason)).Inc()
}

func (r *Recorder) PendingResolved(status kin.PendingStatus) {
	r.pending.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) AdapterFetched(adapter, status string, observations int, elapsed time.Duration) {
	r.fetches.WithLabelValues(adapter, status).Inc()
	r.fetchedObs.WithLabelValues(adapter).Add(float64(observations))
	r.fetchDuration.WithLabelValues(adapter).Observe(elapsed.Seconds())
}

// RequestServed records one API request. route is the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func (r *Recorder) RequestServed(method, route string, status int, elapsed time.Duration) {
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.reqDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry returns the registry the recorder writes to.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
