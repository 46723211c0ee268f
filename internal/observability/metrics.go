package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_request_duration_seconds",
			Help:    "End-to-end search duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		},
		[]string{"category", "source"},
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total number of search requests",
		},
		[]string{"category", "status"},
	)

	SuggestionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestion_requests_total",
			Help: "Total number of suggestion requests",
		},
		[]string{"source"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_call_duration_seconds",
			Help:    "Generative model call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15},
		},
		[]string{"status"},
	)

	FallbackCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_fallback_total",
			Help: "Total number of search fallback invocations",
		},
		[]string{"stage", "level"},
	)

	RedirectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_redirects_total",
			Help: "Searches that resolved to a different service category than requested",
		},
		[]string{"category"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_cache_hits_total",
			Help: "Total number of Redis cache hits",
		},
		[]string{"kind"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_cache_misses_total",
			Help: "Total number of Redis cache misses",
		},
		[]string{"kind"},
	)

	HistoryWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_history_write_failures_total",
			Help: "Search history writes that failed and were skipped",
		},
	)

	StaleSuggestionsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_suggestions_discarded_total",
			Help: "Suggestion results dropped because the query changed before they arrived",
		},
	)

	CHQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ch_query_duration_seconds",
			Help:    "ClickHouse query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"query_type", "status"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_events_published_total",
			Help: "Search events published to Kafka",
		},
		[]string{"status"},
	)

	AnalyticsEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_events_total",
			Help: "Total number of search events processed by the analytics pipeline",
		},
		[]string{"operation", "status"},
	)

	AnalyticsLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analytics_lag_seconds",
			Help: "Age of the most recently processed search event in seconds",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SlowModelCallCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_model_call_total",
			Help: "Total number of slow generative model calls",
		},
		[]string{"severity", "category"},
	)

	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of open long-lived client connections",
		},
		[]string{"kind"},
	)

	KafkaConsumerLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_group_lag",
			Help: "Kafka consumer group lag by topic",
		},
		[]string{"topic"},
	)
)
