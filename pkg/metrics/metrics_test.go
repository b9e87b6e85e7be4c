package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAgentSpawned(t *testing.T) {
	initial := testutil.ToFloat64(AgentsSpawnedTotal.WithLabelValues("researcher"))

	RecordAgentSpawned("researcher")

	after := testutil.ToFloat64(AgentsSpawnedTotal.WithLabelValues("researcher"))
	assert.Equal(t, initial+1.0, after)
}

func TestRecordAgentCompleted(t *testing.T) {
	RecordAgentCompleted("completed", 2*time.Second)

	metric := &dto.Metric{}
	AgentExecutionDuration.Write(metric)
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0, "histogram should have recorded samples")
}

func TestRecordBudgetOverrun(t *testing.T) {
	initial := testutil.ToFloat64(BudgetOverrunsTotal)
	RecordBudgetOverrun()
	after := testutil.ToFloat64(BudgetOverrunsTotal)
	assert.Equal(t, initial+1.0, after)
}

func TestRecordBudgetReclaimed(t *testing.T) {
	initial := testutil.ToFloat64(BudgetReclaimedTokens)
	RecordBudgetReclaimed(500)
	after := testutil.ToFloat64(BudgetReclaimedTokens)
	assert.Equal(t, initial+500.0, after)
}

func TestSetPendingAgentsDepth(t *testing.T) {
	SetPendingAgentsDepth(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(PendingAgentsDepth))
}
