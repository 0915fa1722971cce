// Package metrics defines the Prometheus collectors shared across
// components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts handled HTTP requests by method, route and
	// status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dna_http_requests_total",
		Help: "Handled HTTP requests.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request handling latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dna_http_request_duration_seconds",
		Help:    "HTTP request handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// MessagesPosted counts messages appended to game channels by type.
	MessagesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dna_messages_posted_total",
		Help: "Messages appended to game channels.",
	}, []string{"type"})

	// StalePosts counts posts rejected by the optimistic staleness check.
	StalePosts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dna_stale_posts_total",
		Help: "Posts rejected because newer messages existed.",
	})

	// GamesAutoClosed counts games closed by the inactivity sweeper.
	GamesAutoClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dna_games_auto_closed_total",
		Help: "Games auto-closed due to inactivity.",
	})
)
