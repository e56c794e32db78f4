package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// entry pairs a transfer's live Metrics with the labels it should be
// reported under.
type entry struct {
	metrics *Metrics
	labels  []string
}

// Collector exposes every active transfer's counters as Prometheus metrics.
// Modeled on the connection-table collector pattern: a mutex-guarded map
// plus a Collect that walks it, rather than push-based updates to
// pre-registered gauges.
type Collector struct {
	mu          sync.Mutex
	transfers   map[TransferID]entry
	labelNames  []string
	constLabels prometheus.Labels

	bytesDesc    *prometheus.Desc
	resentDesc   *prometheus.Desc
	dupsDesc     *prometheus.Desc
	errorsDesc   *prometheus.Desc
	durationDesc *prometheus.Desc
	kbpsDesc     *prometheus.Desc
}

// NewCollector builds a Collector. labelNames are the per-transfer label
// keys supplied with every Track call (e.g. "remote_addr", "filename").
func NewCollector(labelNames []string, constLabels prometheus.Labels) *Collector {
	c := &Collector{
		transfers:   make(map[TransferID]entry),
		labelNames:  labelNames,
		constLabels: constLabels,
	}
	c.bytesDesc = prometheus.NewDesc("tftp_transfer_bytes_total",
		"Bytes transferred on this transfer so far.", labelNames, constLabels)
	c.resentDesc = prometheus.NewDesc("tftp_transfer_resent_bytes_total",
		"Bytes retransmitted on this transfer so far.", labelNames, constLabels)
	c.dupsDesc = prometheus.NewDesc("tftp_transfer_duplicate_packets_total",
		"Duplicate packets observed on this transfer.", labelNames, constLabels)
	c.errorsDesc = prometheus.NewDesc("tftp_transfer_errors_total",
		"Errors observed on this transfer.", labelNames, constLabels)
	c.durationDesc = prometheus.NewDesc("tftp_transfer_duration_seconds",
		"Elapsed time of this transfer.", labelNames, constLabels)
	c.kbpsDesc = prometheus.NewDesc("tftp_transfer_throughput_kbps",
		"Measured throughput of this transfer.", labelNames, constLabels)
	return c
}

// Track registers m to be reported under labels until Untrack is called.
func (c *Collector) Track(id TransferID, m *Metrics, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers[id] = entry{metrics: m, labels: labels}
}

// Untrack stops reporting the transfer identified by id.
func (c *Collector) Untrack(id TransferID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transfers, id)
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.bytesDesc
	descs <- c.resentDesc
	descs <- c.dupsDesc
	descs <- c.errorsDesc
	descs <- c.durationDesc
	descs <- c.kbpsDesc
}

func (c *Collector) Collect(out chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.transfers {
		snap := e.metrics.Snapshot()
		out <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(snap.Bytes), e.labels...)
		out <- prometheus.MustNewConstMetric(c.resentDesc, prometheus.CounterValue, float64(snap.ResentBytes), e.labels...)
		out <- prometheus.MustNewConstMetric(c.dupsDesc, prometheus.CounterValue, float64(snap.DupCount), e.labels...)
		out <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(snap.Errors), e.labels...)
		out <- prometheus.MustNewConstMetric(c.durationDesc, prometheus.GaugeValue, snap.Duration.Seconds(), e.labels...)
		out <- prometheus.MustNewConstMetric(c.kbpsDesc, prometheus.GaugeValue, snap.Kbps, e.labels...)
	}
}
