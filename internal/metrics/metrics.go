package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdlive_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdlive_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Presence metrics
	ChannelConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdlive_channel_connections",
			Help: "Open signaling channel connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdlive_rooms_active",
			Help: "Rooms with at least one member",
		},
	)

	RoomEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdlive_room_events_total",
			Help: "Signaling events processed, by event name",
		},
		[]string{"event"},
	)

	RosterBroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mdlive_roster_broadcasts_total",
			Help: "Full roster broadcasts sent",
		},
	)

	SlowClientEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mdlive_slow_client_evictions_total",
			Help: "Sessions dropped because their send buffer filled",
		},
	)

	// Content metrics
	FileSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdlive_file_saves_total",
			Help: "File write-backs, by outcome",
		},
		[]string{"outcome"},
	)
)
