package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripsCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tellevoapp", Name: "trips_created_total", Help: "Total trips created"})
	TripsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tellevoapp", Name: "trips_cancelled_total", Help: "Total trips cancelled by their driver"})
	TripsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tellevoapp", Name: "trips_completed_total", Help: "Total trips completed and archived"})

	SeatsAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tellevoapp", Name: "seats_accepted_total", Help: "Total successful seat acceptances"})
	SeatConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tellevoapp", Name: "seat_conflicts_total", Help: "Conditional update conflicts observed while accepting"})
	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tellevoapp", Name: "guard_rejections_total", Help: "Operations rejected by a state machine guard"},
		[]string{"op"},
	)

	NotificationsSent   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tellevoapp", Name: "notifications_sent_total", Help: "Notifications handed to the delivery channel"},
		[]string{"kind"},
	)
	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tellevoapp", Name: "notifications_failed_total", Help: "Notification deliveries that failed after the transition committed"})

	RouteLookupFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tellevoapp", Name: "route_lookup_failures_total", Help: "Route resolver failures degraded to an empty polyline"})
	OfflineFallbacks    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tellevoapp", Name: "offline_fallbacks_total", Help: "Times a client was served the offline cached trip"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tellevoapp", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tellevoapp",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
