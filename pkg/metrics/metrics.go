// Package metrics exposes the kernel's Prometheus instrumentation:
// counters and histograms for agent lifecycle events, budget
// operations, and workflow progress.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AgentsSpawnedTotal counts every agent created, labeled by role.
	AgentsSpawnedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentkernel_agents_spawned_total",
		Help: "Total number of agents spawned, labeled by role.",
	}, []string{"role"})

	// AgentsCompletedTotal counts agent terminal transitions, labeled
	// by the terminal status reached.
	AgentsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentkernel_agents_completed_total",
		Help: "Total number of agents reaching a terminal status.",
	}, []string{"status"})

	// AgentExecutionDuration records wall-clock time spent in Run.
	AgentExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentkernel_agent_execution_duration_seconds",
		Help:    "Duration of agent task execution.",
		Buckets: prometheus.DefBuckets,
	})

	// BudgetReservationsTotal counts successful budget reservations.
	BudgetReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentkernel_budget_reservations_total",
		Help: "Total number of successful budget reservations.",
	})

	// BudgetOverrunsTotal counts rejected consumption attempts.
	BudgetOverrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentkernel_budget_overruns_total",
		Help: "Total number of budget consumption attempts rejected as overruns.",
	})

	// BudgetReclaimedTokens sums tokens returned to parents on reclaim.
	BudgetReclaimedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentkernel_budget_reclaimed_tokens_total",
		Help: "Total tokens reclaimed back into parent budgets.",
	})

	// WorkflowNodesSpawnedTotal counts nodes spawned as agents. It has no
	// labels.
	WorkflowNodesSpawnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentkernel_workflow_nodes_spawned_total",
		Help: "Total number of workflow nodes spawned as agents.",
	})

	// WorkflowGraphsTerminatedTotal counts graphs that reached a
	// terminal status, labeled by that status.
	WorkflowGraphsTerminatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentkernel_workflow_graphs_terminated_total",
		Help: "Total number of workflow graphs reaching a terminal status.",
	}, []string{"status"})

	// PendingAgentsDepth reports the pending-agent lease queue depth
	// observed by the ExecutionWorker each poll.
	PendingAgentsDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentkernel_pending_agents_depth",
		Help: "Number of pending agents observed at last lease poll.",
	})
)

// RecordAgentSpawned increments AgentsSpawnedTotal for role.
func RecordAgentSpawned(role string) {
	AgentsSpawnedTotal.WithLabelValues(role).Inc()
}

// RecordAgentCompleted increments AgentsCompletedTotal for status and
// observes the run's duration.
func RecordAgentCompleted(status string, duration time.Duration) {
	AgentsCompletedTotal.WithLabelValues(status).Inc()
	AgentExecutionDuration.Observe(duration.Seconds())
}

// RecordBudgetReservation increments BudgetReservationsTotal.
func RecordBudgetReservation() {
	BudgetReservationsTotal.Inc()
}

// RecordBudgetOverrun increments BudgetOverrunsTotal.
func RecordBudgetOverrun() {
	BudgetOverrunsTotal.Inc()
}

// RecordBudgetReclaimed adds tokens to BudgetReclaimedTokens.
func RecordBudgetReclaimed(tokens int64) {
	BudgetReclaimedTokens.Add(float64(tokens))
}

// RecordWorkflowNodeSpawned increments WorkflowNodesSpawnedTotal.
func RecordWorkflowNodeSpawned() {
	WorkflowNodesSpawnedTotal.Inc()
}

// RecordWorkflowGraphTerminated increments WorkflowGraphsTerminatedTotal
// for status.
func RecordWorkflowGraphTerminated(status string) {
	WorkflowGraphsTerminatedTotal.WithLabelValues(status).Inc()
}

// SetPendingAgentsDepth sets the current PendingAgentsDepth gauge.
func SetPendingAgentsDepth(depth int) {
	PendingAgentsDepth.Set(float64(depth))
}
