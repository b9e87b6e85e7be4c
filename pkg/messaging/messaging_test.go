package messaging

import (
	"context"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := store.New(sqlx.NewDb(db, "postgres"))
	return New(s), mock
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	payload, err := EncodePayload("task.assigned", map[string]string{"task": "investigate outage"})
	require.NoError(t, err)

	env, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Equal(t, "task.assigned", env.Kind)
	require.JSONEq(t, `{"task":"investigate outage"}`, string(env.Body))
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	q := New(&store.Store{})
	huge := strings.Repeat("x", MaxPayloadBytes+1)

	_, err := q.Send(context.Background(), nil, uuid.New(), "task.assigned", huge, 0, nil)
	require.Error(t, err)
}

func TestReceiveDoesNotAdvanceStatus(t *testing.T) {
	q, mock := newMockQueue(t)
	recipient := uuid.New()

	cols := []string{"id", "sender_id", "recipient_id", "payload", "priority", "status", "thread_id", "created_at"}
	mock.ExpectQuery("SELECT \\* FROM messages WHERE recipient_id = \\$1 AND status = 'pending'.*FOR UPDATE SKIP LOCKED").
		WithArgs(recipient, 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), nil, recipient, []byte(`{}`), 0, domain.MessagePending, nil, time.Now()))

	msgs, err := q.Receive(context.Background(), recipient, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.MessagePending, msgs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet(), "Receive must not issue any status-mutating statement")
}

func TestMarkDeliveredTransitionsStatus(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec("UPDATE messages SET status = \\$2 WHERE id = \\$1").
		WithArgs(int64(7), domain.MessageDelivered).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.MarkDelivered(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedTransitionsStatus(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec("UPDATE messages SET status = \\$2 WHERE id = \\$1").
		WithArgs(int64(7), domain.MessageProcessed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.MarkProcessed(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}
