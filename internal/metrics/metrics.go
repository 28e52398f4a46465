// Package metrics holds the Prometheus collectors shared by the
// notification engine and the stores.
//
// Collectors are owned by a Metrics value, never registered globally, so
// several engines can live in one process. Pass a nil Registerer to get
// working collectors that are not exported anywhere.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "factgraph"

// Notification kinds.
const (
	KindAdded   = "added"
	KindRemoved = "removed"
	KindResult  = "result"
)

// Failure stages of a notification.
const (
	StageAffected = "affected"
	StageGuard    = "guard"
	StageAdded    = "added"
	StageRemoved  = "removed"
	StageRead     = "read"
	StageHandler  = "handler"
)

// Metrics is the set of collectors.
type Metrics struct {
	FactsSaved           *prometheus.CounterVec
	SaveDuration         *prometheus.HistogramVec
	Notifications        *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	Listeners            *prometheus.GaugeVec
	CacheLookups         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not
// nil. Registering twice with the same Registerer panics, as promauto does.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FactsSaved: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "facts_saved_total",
				Help:      "Facts newly written, by store",
			},
			[]string{"store"},
		),
		SaveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "save_duration_seconds",
				Help:      "Duration of batch saves in seconds, by store",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "observable",
				Name:      "notifications_total",
				Help:      "Deliveries to listeners, by kind",
			},
			[]string{"kind"},
		),
		NotificationFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "observable",
				Name:      "notification_failures_total",
				Help:      "Isolated listener failures, by stage",
			},
			[]string{"stage"},
		),
		Listeners: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "observable",
				Name:      "listeners",
				Help:      "Live listeners, by listener kind",
			},
			[]string{"kind"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sqlstore",
				Name:      "cache_lookups_total",
				Help:      "Record cache lookups, by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveSave records one successful save.
func (m *Metrics) ObserveSave(store string, saved int, started time.Time) {
	m.FactsSaved.WithLabelValues(store).Add(float64(saved))
	m.SaveDuration.WithLabelValues(store).Observe(time.Since(started).Seconds())
}

// Handler serves the collectors gathered by g in the Prometheus text
// format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
