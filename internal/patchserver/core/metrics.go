// Package-level prometheus instruments for the coordination layer. They are
// registered against the default registry so the transport's /metrics handler
// picks them up without extra wiring.
package core

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patches_sessions_queued_total",
		Help: "Sessions admitted to the queue",
	})
	sessionsActivatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patches_sessions_activated_total",
		Help: "Sessions promoted from queued to active",
	})
	sessionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patches_sessions_expired_total",
		Help: "Sessions removed because their scanner went quiet",
	})
	sessionsDrainedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patches_sessions_drained_total",
		Help: "Sessions terminated after consuming their platform's whole feed",
	})
	vulnsServedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patches_vulns_served_total",
		Help: "Vulnerability records handed to scanners",
	})
	cacheRefillsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patches_cache_refills_total",
		Help: "Bucket fills and refills from a source",
	})

	activeSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patches_active_sessions",
		Help: "Sessions currently being served",
	})
	queuedSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patches_queued_sessions",
		Help: "Sessions waiting for activation",
	})
	cacheBucketsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patches_cache_buckets",
		Help: "Platform buckets currently resident in the cache",
	})
)

func init() {
	prometheus.MustRegister(
		sessionsQueuedTotal,
		sessionsActivatedTotal,
		sessionsExpiredTotal,
		sessionsDrainedTotal,
		vulnsServedTotal,
		cacheRefillsTotal,
		activeSessionsGauge,
		queuedSessionsGauge,
		cacheBucketsGauge,
	)
}
