package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "puzzlemint"

// Recorder exposes the ingestion metrics on a private registry.
type Recorder struct {
	registry         *prometheus.Registry
	ingestEvents     *prometheus.CounterVec
	ingestDuration   *prometheus.HistogramVec
	mysteryBoxes     *prometheus.CounterVec
	badgesUnlocked   *prometheus.CounterVec
	reconcileRepairs prometheus.Counter
}

// NewRecorder registers the collectors, plus the Go and process collectors, on a new registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		ingestEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_events_total",
			Help:      "Mint notifications handled, by outcome.",
		}, []string{"outcome"}),
		ingestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent ingesting one mint notification.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"outcome"}),
		mysteryBoxes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mystery_boxes_total",
			Help:      "Mystery boxes dropped, by rarity.",
		}, []string{"rarity"}),
		badgesUnlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badges_unlocked_total",
			Help:      "Badges unlocked, by badge id.",
		}, []string{"badge"}),
		reconcileRepairs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_reconcile_repairs_total",
			Help:      "Lifetime XP projections rewritten by reconciliation.",
		}),
	}
}

func (r *Recorder) ObserveIngestion(status string, elapsed time.Duration) {
	r.ingestEvents.WithLabelValues(status).Inc()
	r.ingestDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveMysteryBox(rarity string) {
	r.mysteryBoxes.WithLabelValues(rarity).Inc()
}

func (r *Recorder) ObserveBadgeUnlocked(badgeID string) {
	r.badgesUnlocked.WithLabelValues(badgeID).Inc()
}

// ObserveReconcileRepairs adds the number of repaired users from one reconciliation pass.
func (r *Recorder) ObserveReconcileRepairs(repaired int) {
	if repaired > 0 {
		r.reconcileRepairs.Add(float64(repaired))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
