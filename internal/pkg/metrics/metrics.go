package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ordergate_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordergate_admissions_total",
		Help: "Rate limiter decisions by route class",
	}, []string{"class", "outcome"})

	ValidationRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordergate_validation_rejects_total",
		Help: "Order validation failures by field error code",
	}, []string{"code"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordergate_cache_lookups_total",
		Help: "Read-through cache lookups by data class",
	}, []string{"class", "result"})

	CacheBackend = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordergate_cache_distributed_active",
		Help: "1 when the distributed cache backend serves requests, 0 on in-process fallback",
	})

	AuditWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordergate_audit_write_failures_total",
		Help: "Audit sink write failures",
	}, []string{"sink"})

	CriticalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordergate_critical_failures_total",
		Help: "Transient dependency and unexpected failures escaping the gateway",
	}, []string{"operation", "code"})
)
