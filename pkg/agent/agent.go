// Package agent implements agent lifecycle: spawning into the
// hierarchy, running a task against a TaskRunner, and recording the
// pending→executing→{completed,failed,terminated} transition.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kubernaut-labs/agentkernel/pkg/budget"
	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/hierarchy"
	"github.com/kubernaut-labs/agentkernel/pkg/metrics"
	"github.com/kubernaut-labs/agentkernel/pkg/runner"
	"github.com/kubernaut-labs/agentkernel/pkg/shared/logging"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
	"github.com/kubernaut-labs/agentkernel/pkg/workspace"
)

var tracer = otel.Tracer("github.com/kubernaut-labs/agentkernel/pkg/agent")

var validTransitions = map[string]map[string]bool{
	domain.AgentPending:    {domain.AgentExecuting: true, domain.AgentTerminated: true},
	domain.AgentExecuting:  {domain.AgentCompleted: true, domain.AgentFailed: true, domain.AgentTerminated: true},
	domain.AgentCompleted:  {},
	domain.AgentFailed:     {},
	domain.AgentTerminated: {},
}

// Service spawns, runs, and terminates agents.
type Service struct {
	store     *store.Store
	hierarchy *hierarchy.Manager
	budget    *budget.Manager
	workspace *workspace.Manager
	runner    runner.TaskRunner
	timeout   time.Duration
	log       logr.Logger
}

// New builds an agent Service. runner is the TaskRunner used by Run;
// callers that need per-role runners should wrap selection logic around
// this Service or construct one Service per role. log may be the zero
// value, which discards.
func New(s *store.Store, h *hierarchy.Manager, b *budget.Manager, w *workspace.Manager, r runner.TaskRunner, timeout time.Duration, log logr.Logger) *Service {
	return &Service{store: s, hierarchy: h, budget: b, workspace: w, runner: r, timeout: timeout, log: log}
}

// Spawn creates a new agent, optionally as a child of parentID, reserving
// budgetAmount from the parent (or granting it outright for a root
// agent). The agent starts in pending status with depth parent.depth+1
// (or 0 for a root).
func (s *Service) Spawn(ctx context.Context, parentID *uuid.UUID, role, task string, budgetAmount int64) (*domain.Agent, error) {
	a := &domain.Agent{
		ID:     uuid.New(),
		Role:   role,
		Task:   task,
		Status: domain.AgentPending,
	}

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if parentID != nil {
			parent, err := s.store.GetAgentForUpdate(ctx, tx, *parentID)
			if err != nil {
				return err
			}
			a.DepthLevel = parent.DepthLevel + 1
			a.ParentID = parentID

			if err := s.store.InsertAgent(ctx, tx, a); err != nil {
				return err
			}
			return s.hierarchy.Relate(ctx, tx, parent, a)
		}
		return s.store.InsertAgent(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}

	if err := s.budget.Allocate(ctx, parentID, a.ID, budgetAmount); err != nil {
		return nil, err
	}

	if _, err := s.workspace.Create(ctx, a.ID); err != nil {
		// The agent and its budget are already committed; a workspace
		// row failure (e.g. the insert itself, not just worktree
		// creation, which workspace.Manager already handles) must not
		// strand a half-spawned agent. Log and let the agent proceed
		// without isolation.
		logging.WithFields(s.log, "workspace provisioning failed, agent proceeds without isolation",
			logging.AgentFields("spawn", a.ID.String(), role).Error(err))
	}

	metrics.RecordAgentSpawned(role)
	return a, nil
}

// transition validates and persists a status change, returning
// ErrInvalidTransition if it is not allowed from the agent's current
// status.
func (s *Service) transition(ctx context.Context, agentID uuid.UUID, to string, result, errMsg *string) error {
	return s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := s.store.GetAgentForUpdate(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if !validTransitions[a.Status][to] {
			return fmt.Errorf("agent %s: %s -> %s: %w", agentID, a.Status, to, domain.ErrInvalidTransition)
		}
		terminal := to == domain.AgentCompleted || to == domain.AgentFailed || to == domain.AgentTerminated
		return s.store.UpdateAgentStatus(ctx, tx, agentID, to, result, errMsg, terminal)
	})
}

// Run transitions agentID to executing, invokes the TaskRunner, and
// records completion or failure. It never blocks the caller past
// timeout.
func (s *Service) Run(ctx context.Context, a *domain.Agent) error {
	ctx, span := tracer.Start(ctx, "agent.Run", trace.WithAttributes(
		attribute.String("agent.id", a.ID.String()),
		attribute.String("agent.role", a.Role),
		attribute.Int("agent.depth", a.DepthLevel),
	))
	defer span.End()

	if err := s.transition(ctx, a.ID, domain.AgentExecuting, nil, nil); err != nil {
		span.RecordError(err)
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	remaining, err := s.budget.Remaining(ctx, a.ID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	result, runErr := s.runner.Execute(runCtx, runner.Request{
		AgentID:         a.ID.String(),
		Role:            a.Role,
		TaskDescription: a.Task,
		MaxTokens:       int(remaining),
	})
	if runErr != nil {
		span.RecordError(runErr)
		msg := runErr.Error()
		_ = s.transition(ctx, a.ID, domain.AgentFailed, nil, &msg)
		_ = s.workspace.Abandon(ctx, a.ID)
		metrics.RecordAgentCompleted(domain.AgentFailed, time.Since(start))
		return fmt.Errorf("run agent %s: %w", a.ID, runErr)
	}

	if result.TokensUsed > 0 {
		if err := s.budget.Consume(ctx, a.ID, result.TokensUsed); err != nil {
			msg := err.Error()
			_ = s.transition(ctx, a.ID, domain.AgentFailed, nil, &msg)
			_ = s.workspace.Abandon(ctx, a.ID)
			metrics.RecordAgentCompleted(domain.AgentFailed, time.Since(start))
			return err
		}
	}

	if err := s.transition(ctx, a.ID, domain.AgentCompleted, &result.Output, nil); err != nil {
		return err
	}
	metrics.RecordAgentCompleted(domain.AgentCompleted, time.Since(start))
	return s.budget.Reclaim(ctx, a.ID)
}

// Terminate force-transitions agentID (and, cascading, every descendant)
// to terminated, reclaiming each budget as it goes. Used by the kill
// switch.
func (s *Service) Terminate(ctx context.Context, agentID uuid.UUID) error {
	descendants, err := s.hierarchy.Descendants(ctx, agentID)
	if err != nil {
		return err
	}

	ids := append(descendants, agentID)
	for _, id := range ids {
		a, err := s.store.GetAgent(ctx, s.store.DB(), id)
		if err != nil {
			return err
		}
		if a.Status == domain.AgentCompleted || a.Status == domain.AgentFailed || a.Status == domain.AgentTerminated {
			continue
		}
		if err := s.transition(ctx, id, domain.AgentTerminated, nil, nil); err != nil {
			return err
		}
		_ = s.workspace.Abandon(ctx, id)
		if err := s.budget.Reclaim(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
