package framer

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	poolGetsDesc = prometheus.NewDesc(
		prometheus.BuildFQName("framer", "buffer_pool", "gets_total"),
		"Total number of buffer rents",
		[]string{"size"}, nil,
	)
	poolPutsDesc = prometheus.NewDesc(
		prometheus.BuildFQName("framer", "buffer_pool", "puts_total"),
		"Total number of buffer releases",
		[]string{"size"}, nil,
	)
	poolMissesDesc = prometheus.NewDesc(
		prometheus.BuildFQName("framer", "buffer_pool", "misses_total"),
		"Total number of buffer pool misses (new allocation)",
		[]string{"size"}, nil,
	)
	poolHitRateDesc = prometheus.NewDesc(
		prometheus.BuildFQName("framer", "buffer_pool", "hit_rate"),
		"Current buffer pool hit rate (0-100%)",
		[]string{"size"}, nil,
	)
	poolOutstandingDesc = prometheus.NewDesc(
		prometheus.BuildFQName("framer", "buffer_pool", "outstanding_leases"),
		"Leases rented and not yet released",
		nil, nil,
	)
	poolOversizedDesc = prometheus.NewDesc(
		prometheus.BuildFQName("framer", "buffer_pool", "oversized_total"),
		"Rents larger than the biggest size class",
		nil, nil,
	)
	poolStaleDesc = prometheus.NewDesc(
		prometheus.BuildFQName("framer", "buffer_pool", "stale_releases_total"),
		"Rejected double releases",
		nil, nil,
	)
)

// PrometheusCollector implements prometheus.Collector for a buffer pool.
// Metrics are read from the pool's atomic counters on every scrape.
type PrometheusCollector struct {
	pool *BufferPool
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a new Prometheus collector for a buffer pool.
// A nil pool means the global pool.
func NewPrometheusCollector(pool *BufferPool) *PrometheusCollector {
	if pool == nil {
		pool = globalBufferPool
	}
	return &PrometheusCollector{pool: pool}
}

// Describe implements prometheus.Collector
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolGetsDesc
	ch <- poolPutsDesc
	ch <- poolMissesDesc
	ch <- poolHitRateDesc
	ch <- poolOutstandingDesc
	ch <- poolOversizedDesc
	ch <- poolStaleDesc
}

// Collect implements prometheus.Collector
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	m := pc.pool.GetMetrics()
	for _, c := range m.Classes {
		label := strconv.Itoa(c.Size)
		ch <- prometheus.MustNewConstMetric(poolGetsDesc, prometheus.CounterValue, float64(c.Gets), label)
		ch <- prometheus.MustNewConstMetric(poolPutsDesc, prometheus.CounterValue, float64(c.Puts), label)
		ch <- prometheus.MustNewConstMetric(poolMissesDesc, prometheus.CounterValue, float64(c.Misses), label)
		ch <- prometheus.MustNewConstMetric(poolHitRateDesc, prometheus.GaugeValue, c.HitRate, label)
	}
	ch <- prometheus.MustNewConstMetric(poolOutstandingDesc, prometheus.GaugeValue, float64(m.Outstanding))
	ch <- prometheus.MustNewConstMetric(poolOversizedDesc, prometheus.CounterValue, float64(m.Oversized))
	ch <- prometheus.MustNewConstMetric(poolStaleDesc, prometheus.CounterValue, float64(m.StaleReleases))
}
