package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
)

type fakeRunner struct {
	calls   int32
	execute func(calls int32) (Result, error)
}

func (f *fakeRunner) Execute(ctx context.Context, req Request) (Result, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.execute(n)
}

func (f *fakeRunner) Name() string { return "fake" }

func TestResilientExecutePassesThroughSuccess(t *testing.T) {
	inner := &fakeRunner{execute: func(int32) (Result, error) {
		return Result{Output: "ok", TokensUsed: 42}, nil
	}}
	r := NewResilient(inner)

	result, err := r.Execute(context.Background(), Request{AgentID: "a1"})
	require.NoError(t, err)
	require.Equal(t, "ok", result.Output)
	require.EqualValues(t, 1, atomic.LoadInt32(&inner.calls))
}

func TestResilientExecuteRetriesRetryableError(t *testing.T) {
	inner := &fakeRunner{execute: func(n int32) (Result, error) {
		if n < 2 {
			return Result{}, errors.New("temporary failure talking to upstream")
		}
		return Result{Output: "recovered"}, nil
	}}
	r := NewResilient(inner)

	result, err := r.Execute(context.Background(), Request{AgentID: "a1"})
	require.NoError(t, err)
	require.Equal(t, "recovered", result.Output)
	require.EqualValues(t, 2, atomic.LoadInt32(&inner.calls))
}

func TestResilientExecuteShortCircuitsNonRetryableError(t *testing.T) {
	inner := &fakeRunner{execute: func(int32) (Result, error) {
		return Result{}, errors.New("malformed request")
	}}
	r := NewResilient(inner)

	_, err := r.Execute(context.Background(), Request{AgentID: "a1"})
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&inner.calls))
}

func TestResilientExecuteTripsBreakerAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeRunner{execute: func(int32) (Result, error) {
		return Result{}, errors.New("malformed request")
	}}
	r := NewResilient(inner)

	for i := 0; i < 5; i++ {
		_, err := r.Execute(context.Background(), Request{AgentID: "a1"})
		require.Error(t, err)
		require.NotErrorIs(t, err, domain.ErrExternal)
	}

	_, err := r.Execute(context.Background(), Request{AgentID: "a1"})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrExternal)
	require.EqualValues(t, 5, atomic.LoadInt32(&inner.calls), "the breaker-open call should not reach the inner runner")
}

func TestResilientName(t *testing.T) {
	inner := &fakeRunner{execute: func(int32) (Result, error) { return Result{}, nil }}
	r := NewResilient(inner)
	require.Equal(t, "fake", r.Name())
}
