package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsFinishedTotal, clarificationsTotal) }

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analysis_jobs_finished_total",
		Help: "Total number of analysis jobs reaching a terminal state, labeled by status.",
	},
	[]string{"status"}, // 'complete', 'error', 'failed', 'timeout'
)

var clarificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clarifications_total",
		Help: "Clarification rounds by resolution kind.",
	},
	[]string{"kind"}, // 'human', 'auto_skip'
)

func IncJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func IncClarification(kind string) {
	clarificationsTotal.WithLabelValues(norm(kind)).Inc()
}
