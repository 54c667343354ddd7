// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	namespace = "carenet"
	subsystem = "sync"

	busPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bus_events_published_total",
			Help:      "Change events published on the bus, by type",
		},
		[]string{"type"},
	)

	busPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bus_publish_failures_total",
			Help:      "Confirmed changes that could not be published to other screens, by type",
		},
		[]string{"type"},
	)

	busDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bus_events_delivered_total",
			Help:      "Change event deliveries to subscribers, by type",
		},
		[]string{"type"},
	)

	echoesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "echoes_suppressed_total",
			Help:      "Events ignored by the screen that published them",
		},
	)

	busSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bus_subscribers",
			Help:      "Screens currently subscribed to the bus",
		},
	)

	fetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_failures_total",
			Help:      "Section fetches that failed and rendered empty",
		},
		[]string{"section"},
	)

	loadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "screen_load_duration_seconds",
			Help:      "Time from load start until the join fired",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"screen_kind"},
	)

	rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "optimistic_rollbacks_total",
			Help:      "Optimistic local changes undone after a failed mutation",
		},
		[]string{"action"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by a rate limiter, by scope",
		},
		[]string{"scope"},
	)

	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients",
		},
	)

	openScreens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "open_screens",
			Help:      "Screens currently open",
		},
	)
)

func IncPublished(eventType string)      { busPublished.WithLabelValues(eventType).Inc() }
func IncPublishFailure(eventType string) { busPublishFailures.WithLabelValues(eventType).Inc() }
func IncDelivered(eventType string)      { busDelivered.WithLabelValues(eventType).Inc() }
func IncEchoSuppressed()                 { echoesSuppressed.Inc() }
func SetSubscribers(n int)               { busSubscribers.Set(float64(n)) }
func IncFetchFailure(section string)     { fetchFailures.WithLabelValues(section).Inc() }
func IncRollback(action string)          { rollbacks.WithLabelValues(action).Inc() }
func AddOpenScreens(delta int)           { openScreens.Add(float64(delta)) }
func IncRateLimited(scope string)        { rateLimited.WithLabelValues(scope).Inc() }
func SetWebSocketClients(n int)          { wsClients.Set(float64(n)) }

// ObserveLoad records how long a screen took to reveal.
func ObserveLoad(screenKind string, d time.Duration) {
	loadDuration.WithLabelValues(screenKind).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
