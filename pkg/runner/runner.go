// Package runner defines the TaskRunner contract agents execute
// against, and wraps every concrete adapter with a circuit breaker and
// retry policy so one flaky provider cannot starve the whole kernel.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	kerrors "github.com/kubernaut-labs/agentkernel/pkg/shared/errors"
)

// Request carries everything a TaskRunner needs to execute one agent's
// task.
type Request struct {
	AgentID         string
	Role            string
	TaskDescription string
	MaxTokens       int
}

// Result is a TaskRunner's successful output.
type Result struct {
	Output     string
	TokensUsed int64
}

// TaskRunner executes one agent's task against a backing model
// provider. Implementations must be safe for concurrent use.
type TaskRunner interface {
	Execute(ctx context.Context, req Request) (Result, error)
	Name() string
}

// Resilient wraps a TaskRunner with one circuit breaker (shared by every
// role that runs through it) and
// exponential backoff retry, so transient provider failures are
// absorbed instead of propagating straight to agent failure.
type Resilient struct {
	inner   TaskRunner
	breaker *gobreaker.CircuitBreaker
	backoff func() backoff.BackOff
}

// NewResilient wraps inner with a circuit breaker named after the
// runner and a bounded exponential backoff retry.
func NewResilient(inner TaskRunner) *Resilient {
	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Resilient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.InitialInterval = 500 * time.Millisecond
			return backoff.WithContext(b, context.Background())
		},
	}
}

// Execute runs req through the circuit breaker, retrying retryable
// failures with exponential backoff while the breaker stays closed.
func (r *Resilient) Execute(ctx context.Context, req Request) (Result, error) {
	var result Result
	op := func() error {
		v, err := r.breaker.Execute(func() (interface{}, error) {
			return r.inner.Execute(ctx, req)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(fmt.Errorf("%s circuit open: %w", r.inner.Name(), domain.ErrExternal))
			}
			if !kerrors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v.(Result)
		return nil
	}

	bo := backoff.WithContext(r.backoff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return Result{}, kerrors.FailedToWithDetails("execute task", r.inner.Name(), req.AgentID, err)
	}
	return result, nil
}

// Name returns the wrapped runner's name.
func (r *Resilient) Name() string { return r.inner.Name() }
