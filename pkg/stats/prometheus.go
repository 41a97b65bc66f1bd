package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter supplements spec §4's "per-thread event log +
// hierarchical aggregation" with a concrete export format: an
// event-count counter vector keyed by task kind, plus a duration
// histogram so the otherwise-internal Recorder becomes observable from
// a host application's /metrics endpoint.
type PrometheusExporter struct {
	recorder *Recorder

	eventCount *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewPrometheusExporter registers its collectors against reg and binds
// them to recorder. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the global default registry across test runs.
func NewPrometheusExporter(recorder *Recorder, reg prometheus.Registerer) *PrometheusExporter {
	e := &PrometheusExporter{
		recorder: recorder,
		eventCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagcore",
			Subsystem: "executor",
			Name:      "events_total",
			Help:      "Count of executor task events by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dagcore",
			Subsystem: "executor",
			Name:      "task_duration_seconds",
			Help:      "Task duration in seconds by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	reg.MustRegister(e.eventCount, e.duration)
	return e
}

// Observe records e against the Prometheus collectors immediately, in
// addition to whatever the Recorder itself accumulates — the exporter
// does not wait for an explicit Flush, since Prometheus counters are
// cheap to increment inline.
func (e *PrometheusExporter) Observe(ev Event) {
	e.eventCount.WithLabelValues(ev.Kind.String()).Inc()
	e.duration.WithLabelValues(ev.Kind.String()).Observe(ev.Duration.Seconds())
}

// Flush walks the bound Recorder's current snapshot — including every
// sub-recorder nested speculation spawned — and replays every per-kind
// total into the counters, useful when events were recorded without
// also calling Observe inline (e.g. a run whose Recorder was populated
// by code that doesn't hold a reference to this exporter).
func (e *PrometheusExporter) Flush() {
	snap := e.recorder.Aggregate()
	for kind, count := range snap.FlattenByKind() {
		e.eventCount.WithLabelValues(kind.String()).Add(float64(count))
	}
}
