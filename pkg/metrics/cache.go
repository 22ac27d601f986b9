package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	cacheSubsystem  = "cache"
	archiveLabelKey = "archive"
)

type cacheMetrics struct {
	readDuration     *prometheus.HistogramVec
	writeDuration    *prometheus.HistogramVec
	checksumMismatch *prometheus.CounterVec

	dataFileSize prometheus.Gauge
}

func newCacheMetrics() cacheMetrics {
	var (
		readDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: cacheSubsystem,
			Name:      "read_time",
			Help:      "Cache group read handling time",
		}, []string{archiveLabelKey})

		writeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: cacheSubsystem,
			Name:      "write_time",
			Help:      "Cache group write handling time",
		}, []string{archiveLabelKey})

		checksumMismatch = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: cacheSubsystem,
			Name:      "checksum_mismatch_total",
			Help:      "Number of groups read with a checksum mismatch",
		}, []string{archiveLabelKey})

		dataFileSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: cacheSubsystem,
			Name:      "data_file_size",
			Help:      "Size of the cache data file in bytes",
		})
	)
	return cacheMetrics{
		readDuration:     readDuration,
		writeDuration:    writeDuration,
		checksumMismatch: checksumMismatch,
		dataFileSize:     dataFileSize,
	}
}

func (m cacheMetrics) register() {
	prometheus.MustRegister(m.readDuration)
	prometheus.MustRegister(m.writeDuration)
	prometheus.MustRegister(m.checksumMismatch)
	prometheus.MustRegister(m.dataFileSize)
}

func archiveLabel(archive uint8) prometheus.Labels {
	return prometheus.Labels{archiveLabelKey: strconv.Itoa(int(archive))}
}

func (m cacheMetrics) AddReadDuration(archive uint8, d time.Duration) {
	m.readDuration.With(archiveLabel(archive)).Observe(d.Seconds())
}

func (m cacheMetrics) AddWriteDuration(archive uint8, d time.Duration) {
	m.writeDuration.With(archiveLabel(archive)).Observe(d.Seconds())
}

func (m cacheMetrics) IncChecksumMismatch(archive uint8) {
	m.checksumMismatch.With(archiveLabel(archive)).Inc()
}

func (m cacheMetrics) SetDataFileSize(size int64) {
	m.dataFileSize.Set(float64(size))
}
