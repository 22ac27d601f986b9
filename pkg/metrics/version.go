package metrics

import "github.com/prometheus/client_golang/prometheus"

// registerVersionMetric exposes the build version as a constant label of an
// always-one gauge.
func registerVersionMetric(namespace string, version string) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "version",
		Help:        "Version of the binary the cache is served by",
		ConstLabels: prometheus.Labels{"version": version},
	})

	prometheus.MustRegister(g)
	g.Set(1)
}
