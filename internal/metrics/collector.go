package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotalDesc = prometheus.NewDesc(
		"messaging_requests_total",
		"Total number of HTTP requests received",
		nil, nil,
	)
	requestErrorsDesc = prometheus.NewDesc(
		"messaging_request_errors_total",
		"Total number of requests that ended in a server fault",
		nil, nil,
	)
	activeConnectionsDesc = prometheus.NewDesc(
		"messaging_active_connections",
		"Requests currently in flight",
		nil, nil,
	)
	avgResponseTimeDesc = prometheus.NewDesc(
		"messaging_average_response_time_ms",
		"Mean latency over the rolling sample window in milliseconds",
		nil, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		"messaging_uptime_seconds",
		"Seconds since the recorder was created",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsTotalDesc
	ch <- requestErrorsDesc
	ch <- activeConnectionsDesc
	ch <- avgResponseTimeDesc
	ch <- uptimeDesc
}

// Collect implements prometheus.Collector using a fresh Snapshot.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	snap := r.Snapshot()
	ch <- prometheus.MustNewConstMetric(requestsTotalDesc, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(requestErrorsDesc, prometheus.CounterValue, float64(r.Errors()))
	ch <- prometheus.MustNewConstMetric(activeConnectionsDesc, prometheus.GaugeValue, float64(snap.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(avgResponseTimeDesc, prometheus.GaugeValue, snap.AverageResponseTime)
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, snap.UptimeSeconds)
}
