// Package orchestration runs the kernel's two background loops: the
// WorkflowPoller, which advances active graphs whose agents have
// reached a terminal status since the last tick, and the
// ExecutionWorker, which leases pending agents and runs them.
package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kubernaut-labs/agentkernel/pkg/agent"
	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/metrics"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
	"github.com/kubernaut-labs/agentkernel/pkg/workflow"
)

// WorkflowPoller periodically checks every active graph's executing
// nodes for an agent that has reached a terminal status since the last
// tick, and drives the workflow engine's event-driven continuation
// accordingly. last tracks the most recently observed status per node
// so a terminal transition is only ever processed once.
type WorkflowPoller struct {
	store        *store.Store
	engine       *workflow.Engine
	pollInterval time.Duration

	mu   sync.Mutex
	last map[uuid.UUID]string
}

// NewWorkflowPoller builds a poller with the configured interval.
func NewWorkflowPoller(s *store.Store, e *workflow.Engine, pollInterval time.Duration) *WorkflowPoller {
	return &WorkflowPoller{store: s, engine: e, pollInterval: pollInterval, last: make(map[uuid.UUID]string)}
}

// Run blocks, polling until ctx is cancelled.
func (p *WorkflowPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				continue
			}
		}
	}
}

func (p *WorkflowPoller) pollOnce(ctx context.Context) error {
	var graphIDs []uuid.UUID
	if err := p.store.DB().SelectContext(ctx, &graphIDs, `SELECT id FROM workflow_graphs WHERE status = $1`, domain.GraphActive); err != nil {
		return err
	}
	for _, graphID := range graphIDs {
		if err := p.advanceGraph(ctx, graphID); err != nil {
			continue
		}
	}
	return nil
}

// advanceGraph looks up every executing node's agent and, for any that
// has newly reached a terminal status, notifies the engine exactly
// once, then lets the engine spawn whatever is now ready.
func (p *WorkflowPoller) advanceGraph(ctx context.Context, graphID uuid.UUID) error {
	nodes, err := p.store.ListNodes(ctx, p.store.DB(), graphID)
	if err != nil {
		return err
	}

	for _, n := range nodes {
		if n.ExecutionStatus != domain.NodeExecuting || n.AgentID == nil {
			continue
		}
		a, err := p.store.GetAgent(ctx, p.store.DB(), *n.AgentID)
		if err != nil {
			continue
		}
		if a.Status != domain.AgentCompleted && a.Status != domain.AgentFailed {
			continue
		}
		if p.alreadyProcessed(n.ID, a.Status) {
			continue
		}

		switch a.Status {
		case domain.AgentCompleted:
			result := ""
			if a.Result != nil {
				result = *a.Result
			}
			_ = p.engine.OnAgentCompleted(ctx, a.ID, result)
		case domain.AgentFailed:
			failure := ""
			if a.Error != nil {
				failure = *a.Error
			}
			_ = p.engine.OnAgentFailed(ctx, a.ID, failure)
		}
	}
	return nil
}

func (p *WorkflowPoller) alreadyProcessed(nodeID uuid.UUID, status string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[nodeID] == status {
		return true
	}
	p.last[nodeID] = status
	return false
}

// leaseDrainTimeout bounds how long Run waits for in-flight agent runs
// to finish once ctx is cancelled, per the kernel's graceful shutdown.
const leaseDrainTimeout = 30 * time.Second

// ExecutionWorker leases pending agents and drives each to completion
// via AgentService.Run, with bounded concurrency so one slow agent
// never starves the others.
type ExecutionWorker struct {
	store          *store.Store
	agent          *agent.Service
	maxConcurrency int
	pollInterval   time.Duration

	sem    chan struct{}
	leased sync.Map // uuid.UUID -> struct{}
	wg     sync.WaitGroup
}

// NewExecutionWorker builds a worker bounded to maxConcurrency
// concurrent agent runs.
func NewExecutionWorker(s *store.Store, a *agent.Service, maxConcurrency int, pollInterval time.Duration) *ExecutionWorker {
	return &ExecutionWorker{
		store:          s,
		agent:          a,
		maxConcurrency: maxConcurrency,
		pollInterval:   pollInterval,
		sem:            make(chan struct{}, maxConcurrency),
	}
}

// Run blocks, leasing pending agents until ctx is cancelled, then waits
// up to leaseDrainTimeout for in-flight runs before returning.
func (w *ExecutionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return w.drain()
		case <-ticker.C:
			w.leaseOnce(ctx)
		}
	}
}

func (w *ExecutionWorker) drain() error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(leaseDrainTimeout):
		return nil
	}
}

// leaseOnce queries a bounded batch of pending agents, skips any
// already leased by an earlier tick, and spawns an asynchronous task
// per newly leased agent bounded by maxConcurrency in-flight tasks.
func (w *ExecutionWorker) leaseOnce(ctx context.Context) {
	pending, err := w.store.ListPendingAgents(ctx, w.store.DB(), w.maxConcurrency*4)
	if err != nil {
		return
	}
	metrics.SetPendingAgentsDepth(len(pending))

	for _, a := range pending {
		if _, already := w.leased.LoadOrStore(a.ID, struct{}{}); already {
			continue
		}
		select {
		case w.sem <- struct{}{}:
		default:
			w.leased.Delete(a.ID)
			continue
		}

		candidate := a
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			defer w.leased.Delete(candidate.ID)
			// A leased run is allowed to outlive the poll loop's ctx; the
			// agent service enforces its own execution timeout.
			_ = w.agent.Run(context.Background(), &candidate)
		}()
	}
}
