package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_job_runs_total",
		Help: "Total number of job invocations by outcome",
	}, []string{"job", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_job_duration_seconds",
		Help:    "Wall-clock duration of job invocations",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"job"})

	JobItemErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_job_item_errors_total",
		Help: "Total number of per-item failures inside jobs",
	}, []string{"job"})

	LeaseContentionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_lease_contention_total",
		Help: "Total number of job invocations skipped because the lease was held",
	}, []string{"job"})

	ProductsUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_products_upserted_total",
		Help: "Total number of product upserts",
	}, []string{"marketplace", "result"})

	PriceChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_price_changes_total",
		Help: "Total number of observed price changes",
	}, []string{"marketplace", "direction"})

	ExtractionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_extraction_failures_total",
		Help: "Total number of failed field extractions",
	}, []string{"marketplace", "reason"})

	AffiliateLinksUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_affiliate_links_updated_total",
		Help: "Total number of rewritten affiliate urls persisted",
	}, []string{"marketplace"})

	AlertsTriggeredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_alerts_triggered_total",
		Help: "Total number of price alerts consumed",
	})

	NotificationsQueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_notifications_queued_total",
		Help: "Total number of notifications queued by channel",
	}, []string{"channel"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_published_total",
		Help: "Total number of pipeline events published",
	}, []string{"event_type", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
