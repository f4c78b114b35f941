package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_events_published_total",
			Help: "Events handed to the broadcast router, by event type.",
		},
		[]string{"event"},
	)
	eventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_event_deliveries_total",
			Help: "Frames queued to connected sessions.",
		},
	)
	sessionsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_sessions_dropped_total",
			Help: "Sessions disconnected because their send queue was full.",
		},
	)
	busErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_bus_errors_total",
			Help: "Failures publishing to or decoding from the redis bus.",
		},
	)
	sessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamchat_sessions_connected",
			Help: "Websocket sessions registered on this instance.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDelivered, sessionsDropped, busErrors, sessionsConnected)
}
