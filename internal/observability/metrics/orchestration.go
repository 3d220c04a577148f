package metrics

import "github.com/kirillkom/legal-rag-assistant/internal/core/domain"

// OrchestrationRecorder adapts the shared registry to the orchestrator's
// metrics hooks, pinning the service label.
type OrchestrationRecorder struct {
	metrics *HTTPServerMetrics
	service string
}

func NewOrchestrationRecorder(metrics *HTTPServerMetrics, service string) *OrchestrationRecorder {
	return &OrchestrationRecorder{metrics: metrics, service: service}
}

func (r *OrchestrationRecorder) RecordRouting(primaryDomain string) {
	if primaryDomain == "" {
		primaryDomain = "unknown"
	}
	r.metrics.routingTotal.WithLabelValues(r.service, primaryDomain).Inc()
}

func (r *OrchestrationRecorder) RecordAgent(domainName string, status string, seconds float64) {
	if status == "" {
		status = "unknown"
	}
	r.metrics.agentRunsTotal.WithLabelValues(r.service, domainName, status).Inc()
	r.metrics.agentDuration.WithLabelValues(r.service, domainName).Observe(seconds)
}

func (r *OrchestrationRecorder) RecordQuery(status string, seconds float64) {
	if status == "" {
		status = "unknown"
	}
	r.metrics.queryTotal.WithLabelValues(r.service, status).Inc()
	r.metrics.queryDuration.WithLabelValues(r.service).Observe(seconds)
}

// ObserveCache refreshes the cache gauges from a stats snapshot.
func (r *OrchestrationRecorder) ObserveCache(stats domain.CacheStats) {
	r.metrics.cacheHitRate.Set(stats.HitRate)
	r.metrics.cacheEntriesGage.Set(float64(stats.Entries))
}

// CacheStatsSource is the stats surface of the artifact cache.
type CacheStatsSource interface {
	Stats() domain.CacheStats
}

// InstrumentCacheStats wraps source so every snapshot also refreshes the
// cache gauges. Bootstrap hands the wrapped reader to the HTTP layer.
func (r *OrchestrationRecorder) InstrumentCacheStats(source CacheStatsSource) CacheStatsSource {
	return &observedCacheStats{source: source, recorder: r}
}

type observedCacheStats struct {
	source   CacheStatsSource
	recorder *OrchestrationRecorder
}

func (o *observedCacheStats) Stats() domain.CacheStats {
	stats := o.source.Stats()
	o.recorder.ObserveCache(stats)
	return stats
}
