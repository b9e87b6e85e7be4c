package workspace

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := store.New(sqlx.NewDb(db, "postgres"))
	return New(s, t.TempDir(), t.TempDir(), logr.Discard()), mock
}

func TestCreateFallsBackWhenRepoDirIsNotAGitCheckout(t *testing.T) {
	m, mock := newTestManager(t)
	agentID := uuid.New()

	mock.ExpectExec("INSERT INTO workspaces").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w, err := m.Create(context.Background(), agentID)
	require.NoError(t, err)
	require.Equal(t, "failed", w.IsolationStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAbandonMarksWorkspaceAbandoned(t *testing.T) {
	m, mock := newTestManager(t)
	agentID := uuid.New()

	mock.ExpectExec("UPDATE workspaces").
		WithArgs(agentID, domain.WorkspaceAbandoned).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.Abandon(context.Background(), agentID))
	require.NoError(t, mock.ExpectationsWereMet())
}
