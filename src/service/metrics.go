package service

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "memorychain"

var gaugeStats = []string{
	"chain_length",
	"num_nodes",
	"online_nodes",
	"tasks",
	"minted",
	"open_proposals",
	"orphan_votes",
	"sync_rate",
}

var counterStats = []string{
	"finalized",
	"rejected",
	"expired",
	"withdrawn",
	"failed",
}

// statsCollector exports the numeric node stats as Prometheus metrics. Stats
// are read on every scrape.
type statsCollector struct {
	stats    func() map[string]string
	gauges   map[string]*prometheus.Desc
	counters map[string]*prometheus.Desc
	info     *prometheus.Desc
}

func newStatsCollector(stats func() map[string]string) *statsCollector {
	c := &statsCollector{
		stats:    stats,
		gauges:   make(map[string]*prometheus.Desc),
		counters: make(map[string]*prometheus.Desc),
		info: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "node_info"),
			"Identity and state of the node.",
			[]string{"id", "moniker", "state"},
			nil),
	}

	for _, k := range gaugeStats {
		c.gauges[k] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", k),
			"Node stat "+k+".",
			nil, nil)
	}
	for _, k := range counterStats {
		c.counters[k] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "proposals", k+"_total"),
			"Proposals closed as "+k+".",
			nil, nil)
	}

	return c
}

// Describe implements prometheus.Collector
func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.info
	for _, d := range c.gauges {
		ch <- d
	}
	for _, d := range c.counters {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.stats()

	ch <- prometheus.MustNewConstMetric(c.info,
		prometheus.GaugeValue,
		1,
		stats["id"], stats["moniker"], stats["state"])

	collect := func(descs map[string]*prometheus.Desc, t prometheus.ValueType) {
		for k, d := range descs {
			v, err := strconv.ParseFloat(stats[k], 64)
			if err != nil {
				continue
			}
			ch <- prometheus.MustNewConstMetric(d, t, v)
		}
	}

	collect(c.gauges, prometheus.GaugeValue)
	collect(c.counters, prometheus.CounterValue)
}
