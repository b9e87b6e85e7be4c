package orchestration

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kubernaut-labs/agentkernel/pkg/agent"
	"github.com/kubernaut-labs/agentkernel/pkg/budget"
	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/hierarchy"
	"github.com/kubernaut-labs/agentkernel/pkg/runner"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
	"github.com/kubernaut-labs/agentkernel/pkg/workspace"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.New(sqlx.NewDb(db, "postgres")), mock
}

type stubRunner struct {
	result runner.Result
	err    error
}

func (s *stubRunner) Execute(ctx context.Context, req runner.Request) (runner.Result, error) {
	return s.result, s.err
}
func (s *stubRunner) Name() string { return "stub" }

func newTestAgentService(t *testing.T, s *store.Store, r runner.TaskRunner) *agent.Service {
	t.Helper()
	h := hierarchy.New(s, 10)
	b := budget.New(s, nil)
	w := workspace.New(s, t.TempDir(), t.TempDir(), logr.Discard())
	return agent.New(s, h, b, w, r, 5*time.Second, logr.Discard())
}

func agentRow(id uuid.UUID, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "role", "task_description", "status", "depth_level", "parent_id",
		"result", "error_message", "version", "created_at", "updated_at", "completed_at",
	}).AddRow(id, "investigator", "look into it", status, 0, nil, nil, nil, 1, time.Now(), time.Now(), nil)
}

func budgetRow(agentID uuid.UUID, allocated, used, reserved int64, reclaimed bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"agent_id", "allocated", "used", "reserved", "reclaimed", "version", "created_at", "updated_at",
	}).AddRow(agentID, allocated, used, reserved, reclaimed, 1, time.Now(), time.Now())
}

func TestPollOnceNoActiveGraphs(t *testing.T) {
	s, mock := newMockStore(t)
	p := NewWorkflowPoller(s, nil, time.Second)

	mock.ExpectQuery("SELECT id FROM workflow_graphs WHERE status").
		WithArgs(domain.GraphActive).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	require.NoError(t, p.pollOnce(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceGraphSkipsNodesNotExecuting(t *testing.T) {
	s, mock := newMockStore(t)
	p := NewWorkflowPoller(s, nil, time.Second)
	graphID := uuid.New()

	cols := []string{
		"id", "workflow_graph_id", "template_node_id", "role", "task_description",
		"budget_allocation", "dependencies", "execution_status", "agent_id", "result",
		"position", "error_message", "dependency_results", "version",
	}
	mock.ExpectQuery("SELECT \\* FROM workflow_nodes WHERE workflow_graph_id").
		WithArgs(graphID).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.New(), graphID, "fetch", "investigator", "t", int64(100), []byte(`[]`),
				domain.NodePending, nil, nil, 0, nil, nil, 1))

	require.NoError(t, p.advanceGraph(context.Background(), graphID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlreadyProcessedDedupesSameStatus(t *testing.T) {
	p := NewWorkflowPoller(nil, nil, time.Second)
	nodeID := uuid.New()

	require.False(t, p.alreadyProcessed(nodeID, domain.AgentCompleted))
	require.True(t, p.alreadyProcessed(nodeID, domain.AgentCompleted))
}

func TestLeaseOnceRunsPendingAgentExactlyOnce(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	svc := newTestAgentService(t, s, &stubRunner{result: runner.Result{Output: "done", TokensUsed: 5}})
	w := NewExecutionWorker(s, svc, 4, time.Second)

	mock.ExpectQuery("SELECT \\* FROM agents WHERE status").
		WithArgs(domain.AgentPending, 16).
		WillReturnRows(agentRow(id, domain.AgentPending))

	// transition -> executing
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM agents WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).WillReturnRows(agentRow(id, domain.AgentPending))
	mock.ExpectExec("UPDATE agents").
		WithArgs(id, domain.AgentExecuting, nil, nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// budget.Remaining
	mock.ExpectQuery("SELECT \\* FROM budgets WHERE agent_id = \\$1").
		WithArgs(id).WillReturnRows(budgetRow(id, 1000, 0, 0, false))

	// budget.Consume
	mock.ExpectExec("UPDATE budgets").
		WithArgs(id, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// transition -> completed
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM agents WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).WillReturnRows(agentRow(id, domain.AgentExecuting))
	mock.ExpectExec("UPDATE agents").
		WithArgs(id, domain.AgentCompleted, "done", nil, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// budget.Reclaim
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM budgets WHERE agent_id = \\$1 FOR UPDATE").
		WithArgs(id).WillReturnRows(budgetRow(id, 1000, 5, 0, false))
	mock.ExpectQuery("SELECT \\* FROM agents WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).WillReturnRows(agentRow(id, domain.AgentCompleted))
	mock.ExpectExec("UPDATE budgets SET reclaimed").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w.leaseOnce(context.Background())

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)

	_, stillLeased := w.leased.Load(id)
	require.False(t, stillLeased, "lease must be released once the run completes")
}

func TestLeaseOnceSkipsAlreadyLeasedAgent(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	svc := newTestAgentService(t, s, &stubRunner{})
	w := NewExecutionWorker(s, svc, 4, time.Second)
	w.leased.Store(id, struct{}{})

	mock.ExpectQuery("SELECT \\* FROM agents WHERE status").
		WithArgs(domain.AgentPending, 16).
		WillReturnRows(agentRow(id, domain.AgentPending))

	w.leaseOnce(context.Background())
	require.NoError(t, mock.ExpectationsWereMet(), "an already-leased agent must not be re-run")
}
