package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports pool statistics to Prometheus.
type Collector struct {
	pool *Pool

	idle      *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	releases  *prometheus.Desc
	evictions *prometheus.Desc
	discards  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for p. name becomes the "pool" label.
func NewCollector(p *Pool, name string) *Collector {
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("fetchkit", "pool", metric), help, nil, labels)
	}
	return &Collector{
		pool:      p,
		idle:      desc("idle_handles", "Number of idle transport handles in the pool"),
		hits:      desc("hits_total", "Acquire calls served from the pool"),
		misses:    desc("misses_total", "Acquire calls that found no idle handle"),
		releases:  desc("releases_total", "Handles returned to the pool"),
		evictions: desc("evictions_total", "Handles evicted by capacity or idle timeout"),
		discards:  desc("discards_total", "Handles discarded after a failed transfer"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.idle
	ch <- c.hits
	ch <- c.misses
	ch <- c.releases
	ch <- c.evictions
	ch <- c.discards
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.releases, prometheus.CounterValue, float64(s.Releases))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.discards, prometheus.CounterValue, float64(s.Discards))
}
