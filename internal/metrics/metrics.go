package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kingdom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kingdom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kingdom_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"kind"}, // "message" or "decree"
	)

	MessagesEdited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kingdom_messages_edited_total",
			Help: "Total messages edited",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kingdom_messages_deleted_total",
			Help: "Total messages soft-deleted",
		},
	)

	DecreeCounterFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kingdom_decree_counter_failures_total",
			Help: "Decrees posted whose quota counter update failed",
		},
	)

	Denials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kingdom_denials_total",
			Help: "Commands rejected by local validation",
		},
		[]string{"code"},
	)

	ReactionToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kingdom_reaction_toggles_total",
			Help: "Reaction toggles by outcome",
		},
		[]string{"outcome"}, // "added", "removed", "conflict"
	)

	ChannelSwitches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kingdom_channel_switches_total",
			Help: "Successful channel switches",
		},
	)

	StaleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kingdom_stale_events_total",
			Help: "Realtime events discarded because their scope is no longer current",
		},
		[]string{"component"},
	)

	TypingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kingdom_typing_events_total",
			Help: "Typing signal changes received",
		},
		[]string{"type"},
	)

	PresenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kingdom_presence_events_total",
			Help: "Presence membership events received",
		},
		[]string{"type"}, // "join", "leave", "sync"
	)

	// Infrastructure metrics
	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kingdom_remote_latency_seconds",
			Help:    "Remote backend call latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"op", "collection"},
	)

	RemoteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kingdom_remote_errors_total",
			Help: "Remote backend call failures",
		},
		[]string{"op", "collection"},
	)

	LiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kingdom_live_subscriptions",
			Help: "Open realtime subscriptions",
		},
	)
)
