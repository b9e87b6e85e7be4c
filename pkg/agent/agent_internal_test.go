package agent

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kubernaut-labs/agentkernel/pkg/budget"
	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/hierarchy"
	"github.com/kubernaut-labs/agentkernel/pkg/runner"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
	"github.com/kubernaut-labs/agentkernel/pkg/workspace"
)

type stubRunner struct {
	result runner.Result
	err    error
}

func (s *stubRunner) Execute(ctx context.Context, req runner.Request) (runner.Result, error) {
	return s.result, s.err
}
func (s *stubRunner) Name() string { return "stub" }

func newTestService(t *testing.T, r runner.TaskRunner) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := store.New(sqlx.NewDb(db, "postgres"))
	h := hierarchy.New(s, 10)
	b := budget.New(s, nil)
	w := workspace.New(s, t.TempDir(), t.TempDir(), logr.Discard())
	return New(s, h, b, w, r, 5*time.Second, logr.Discard()), mock
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

func TestTransitionRejectsInvalidMove(t *testing.T) {
	svc, mock := newTestService(t, &stubRunner{})
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM agents WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(agentRow(id, domain.AgentCompleted))
	mock.ExpectRollback()

	err := svc.transition(context.Background(), id, domain.AgentExecuting, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionAppliesValidMove(t *testing.T) {
	svc, mock := newTestService(t, &stubRunner{})
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM agents WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(agentRow(id, domain.AgentPending))
	mock.ExpectExec("UPDATE agents").
		WithArgs(id, domain.AgentExecuting, nil, nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.transition(context.Background(), id, domain.AgentExecuting, nil, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHappyPath(t *testing.T) {
	id := uuid.New()
	svc, mock := newTestService(t, &stubRunner{result: runner.Result{Output: "done", TokensUsed: 5}})

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

	err := svc.Run(context.Background(), &domain.Agent{ID: id, Role: "investigator", Task: "look into it"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSpawnSucceedsDespiteWorkspaceInsertFailure(t *testing.T) {
	svc, mock := newTestService(t, &stubRunner{})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO agents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO budgets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// workspace.Create falls back to "failed" since t.TempDir() is not a
	// git checkout, then the insert itself fails too.
	mock.ExpectExec("INSERT INTO workspaces").
		WillReturnError(context.DeadlineExceeded)

	a, err := svc.Spawn(context.Background(), nil, "investigator", "look into it", 100)
	require.NoError(t, err, "a workspace failure must not strand the already-committed agent")
	require.NotNil(t, a)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRecordsFailureOnRunnerError(t *testing.T) {
	id := uuid.New()
	svc, mock := newTestService(t, &stubRunner{err: context.DeadlineExceeded})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM agents WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).WillReturnRows(agentRow(id, domain.AgentPending))
	mock.ExpectExec("UPDATE agents").
		WithArgs(id, domain.AgentExecuting, nil, nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT \\* FROM budgets WHERE agent_id = \\$1").
		WithArgs(id).WillReturnRows(budgetRow(id, 1000, 0, 0, false))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM agents WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).WillReturnRows(agentRow(id, domain.AgentExecuting))
	mock.ExpectExec("UPDATE agents").
		WithArgs(id, domain.AgentFailed, nil, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec("UPDATE workspaces").
		WithArgs(id, domain.WorkspaceAbandoned).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Run(context.Background(), &domain.Agent{ID: id, Role: "investigator", Task: "look into it"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
