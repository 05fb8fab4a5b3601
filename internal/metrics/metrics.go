// Package metrics defines the prometheus collectors the notification
// service publishes, registered via promauto against a caller-supplied
// registry, as the adred-codev-ws_poc reference server does.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the server publishes. The wire server
// updates EventsAppended, EventsRejected, ActiveListeners and
// ListenerDrops; HeartbeatTicks and LeaderElections are registered but
// nothing increments them. Zero value is not usable — construct with New.
type Metrics struct {
	EventsAppended  prometheus.Counter
	EventsRejected  *prometheus.CounterVec
	ActiveListeners prometheus.Gauge
	ListenerDrops   prometheus.Counter
	HeartbeatTicks  prometheus.Counter
	LeaderElections prometheus.Counter
}

// New registers every collector against reg and returns the handle used
// to update them. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the global default registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "store",
			Name:      "events_appended_total",
			Help:      "Total events successfully appended to the log.",
		}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "store",
			Name:      "events_rejected_total",
			Help:      "Total SendEvent calls rejected, labeled by error code.",
		}, []string{"code"}),
		ActiveListeners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "notifyd",
			Subsystem: "subscribe",
			Name:      "active_listeners",
			Help:      "Current number of open listen streams.",
		}),
		ListenerDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "subscribe",
			Name:      "listener_oversize_drops_total",
			Help:      "Listen events skipped because they exceeded the listener's declared frame limit.",
		}),
		HeartbeatTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "ha",
			Name:      "heartbeat_ticks_total",
			Help:      "Total heartbeat writes attempted by this peer.",
		}),
		LeaderElections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "ha",
			Name:      "leader_elections_total",
			Help:      "Times this peer successfully asserted leadership.",
		}),
	}
}

// Handler returns the /metrics HTTP handler backed by the global default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns the /metrics HTTP handler backed by a specific
// registry, for servers that construct their own (non-global) registry
// via New to avoid cross-test collisions.
func HandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
