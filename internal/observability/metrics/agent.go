package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	utterances = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "utterances_total",
		Help:      "Utterances handled, by classification and outcome.",
	}, []string{"classification", "outcome"})
	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "state_transitions_total",
		Help:      "Orchestrator state transitions.",
	}, []string{"state"})
	toolInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by tool, status and error code.",
	}, []string{"tool", "status", "code"})
	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "tool_duration_seconds",
		Help:      "Tool execution latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"tool"})
	retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "retries_total",
		Help:      "Retries performed, by stage (reasoning, adapter).",
	}, []string{"stage"})
	retrievalFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "retrieval_failures_total",
		Help:      "Grounding attempts that fell back to an ungrounded answer.",
	})
	settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "settlements_total",
		Help:      "Detached operations that finished after their request was cancelled.",
	}, []string{"status"})
	jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Asynchronous jobs by final status.",
	}, []string{"status"})
	knowledgePassages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "knowledge",
		Name:      "passages",
		Help:      "Passages in the current knowledge index snapshot.",
	})
)

func registerAgentMetrics(r *prometheus.Registry) {
	r.MustRegister(utterances, transitions, toolInvocations, toolDuration, retries,
		retrievalFailures, settlements, jobs, knowledgePassages)
}

// ObserveUtterance counts a handled utterance.
func ObserveUtterance(classification, outcome string) {
	utterances.WithLabelValues(classification, outcome).Inc()
}

// ObserveTransition counts entry into an orchestrator state.
func ObserveTransition(state string) {
	transitions.WithLabelValues(state).Inc()
}

// ObserveTool records a finished tool invocation. code is empty on success.
func ObserveTool(tool, status, code string, d time.Duration) {
	toolInvocations.WithLabelValues(tool, status, code).Inc()
	toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveRetry counts a retry at the given stage.
func ObserveRetry(stage string) {
	retries.WithLabelValues(stage).Inc()
}

// ObserveRetrievalFailure counts a degraded grounding step.
func ObserveRetrievalFailure() {
	retrievalFailures.Inc()
}

// ObserveSettlement counts a late settlement.
func ObserveSettlement(status string) {
	settlements.WithLabelValues(status).Inc()
}

// ObserveJob counts a finished job.
func ObserveJob(status string) {
	jobs.WithLabelValues(status).Inc()
}

// SetKnowledgePassages publishes the current index size.
func SetKnowledgePassages(n int) {
	knowledgePassages.Set(float64(n))
}
