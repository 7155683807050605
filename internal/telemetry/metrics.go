/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing
// for the process.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestDuration observes HTTP request latency by route.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backline",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests by route and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backline",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "backline",
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "Number of HTTP requests currently being served.",
	})

	// APIWebSocketConnections tracks open event stream sockets.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "backline",
		Subsystem: "api",
		Name:      "websocket_connections",
		Help:      "Number of open WebSocket event subscriptions.",
	})

	// DatabaseQueryDuration observes GORM operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backline",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database operation duration in seconds.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backline",
		Subsystem: "db",
		Name:      "errors_total",
		Help:      "Total database operation errors.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive tracks the open connection count.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "backline",
		Subsystem: "db",
		Name:      "connections_active",
		Help:      "Open database connections.",
	})

	// SetlistPlansTotal counts planner invocations by outcome.
	SetlistPlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backline",
		Subsystem: "setlist",
		Name:      "plans_total",
		Help:      "Total setlist planning runs.",
	}, []string{"outcome"})

	// SetlistPlanDuration observes end to end planning latency, including
	// the snapshot query.
	SetlistPlanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "backline",
		Subsystem: "setlist",
		Name:      "plan_duration_seconds",
		Help:      "Setlist planning duration in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
	})

	// SpotifyRequestsTotal counts outbound Spotify API calls.
	SpotifyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backline",
		Subsystem: "spotify",
		Name:      "requests_total",
		Help:      "Total Spotify API requests.",
	}, []string{"operation", "status"})

	// CacheOperationsTotal counts cache lookups by result.
	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backline",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Total cache operations.",
	}, []string{"operation", "result"})

	// EventsPublishedTotal counts events published to the bus.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backline",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total events published.",
	}, []string{"type"})

	// InvitationsExpiredTotal counts invitations removed by the sweeper.
	InvitationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backline",
		Subsystem: "invitations",
		Name:      "expired_total",
		Help:      "Total invitations purged after expiry.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
