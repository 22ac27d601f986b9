package metrics

const namespace = "js5cache"

// CacheMetrics collects metrics of a cache. It implements cache.MetricsWriter.
type CacheMetrics struct {
	cacheMetrics
}

// NewCacheMetrics registers cache collectors and the version gauge in the
// default registry.
func NewCacheMetrics(version string) *CacheMetrics {
	c := newCacheMetrics()
	c.register()

	registerVersionMetric(namespace, version)

	return &CacheMetrics{
		cacheMetrics: c,
	}
}
