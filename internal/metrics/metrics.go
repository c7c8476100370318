package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels investigations that produced a report.
	OutcomeSuccess = "success"
	// OutcomeError labels investigations aborted by a hard phase failure.
	OutcomeError = "error"
)

const (
	// QueryResultHit labels store queries served from the cache.
	QueryResultHit = "hit"
	// QueryResultMiss labels store queries that went to the backend.
	QueryResultMiss = "miss"
	// QueryResultError labels store queries that failed.
	QueryResultError = "error"
)

var (
	investigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsleuth",
			Name:      "investigations_total",
			Help:      "Total number of investigations run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	investigationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "logsleuth",
			Name:      "investigation_seconds",
			Help:      "End-to-end investigation latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsleuth",
			Name:      "tool_calls_total",
			Help:      "Tool invocations received over the MCP surface, by tool name.",
		},
		[]string{"tool"},
	)

	storeQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsleuth",
			Name:      "store_queries_total",
			Help:      "Event store queries issued, partitioned by query type and result.",
		},
		[]string{"query", "result"},
	)
)

// Register attaches logsleuth collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		investigationsTotal,
		investigationDurationSeconds,
		toolCallsTotal,
		storeQueriesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveInvestigation records an investigation duration and outcome label.
func ObserveInvestigation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	investigationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	investigationDurationSeconds.Observe(duration.Seconds())
}

// ObserveToolCall counts one MCP tool invocation.
func ObserveToolCall(tool string) {
	toolCallsTotal.WithLabelValues(tool).Inc()
}

// ObserveStoreQuery counts one event store query by type and result.
func ObserveStoreQuery(query, result string) {
	storeQueriesTotal.WithLabelValues(query, result).Inc()
}
