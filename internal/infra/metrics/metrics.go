package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		submitLatencyMs, submitsTotal,
		pollsTotal, pollIntervalSeconds,
		feedEventsTotal,
	)
}

var (
	submitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_submits_total",
			Help: "Pipeline submissions by outcome status.",
		},
		[]string{"status"}, // clarifying, processing, error, ...
	)

	submitLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_submit_latency_ms",
			Help:    "Submission round-trip latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"success"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_polls_total",
			Help: "Status poll ticks by result.",
		},
		[]string{"result"}, // ok, error, stale, timeout
	)

	pollIntervalSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "status_poll_interval_seconds",
			Help: "Current adaptive polling interval.",
		},
	)

	feedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "change_feed_events_total",
			Help: "Realtime change-feed events delivered to the orchestrator.",
		},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func ObserveSubmit(status string, latencyMs int, success bool) {
	submitsTotal.WithLabelValues(norm(status)).Inc()
	submitLatencyMs.WithLabelValues(strconv.FormatBool(success)).Observe(float64(latencyMs))
}

func IncPoll(result string) {
	pollsTotal.WithLabelValues(norm(result)).Inc()
}

func SetPollInterval(seconds float64) {
	pollIntervalSeconds.Set(seconds)
}

func IncFeedEvent() {
	feedEventsTotal.Inc()
}
