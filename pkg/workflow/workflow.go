// Package workflow implements the DAG engine that instantiates
// workflow templates into graphs of agents, validates them for cycles,
// and spawns nodes as soon as every dependency has completed.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"

	"github.com/kubernaut-labs/agentkernel/pkg/agent"
	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/metrics"
	"github.com/kubernaut-labs/agentkernel/pkg/policy"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
)

// Notifier receives best-effort alerts on workflow and agent failure.
// Satisfied by *notification.Notifier; kept as a narrow local interface
// so this package doesn't depend on notification's Slack wiring.
type Notifier interface {
	NotifyWorkflowTerminated(ctx context.Context, graphID, reason string)
	NotifyAgentFailed(ctx context.Context, agentID, role, failure string)
}

// PolicyGate authorizes a template instantiation before any node is
// spawned. Satisfied by *policy.Gate.
type PolicyGate interface {
	Allow(ctx context.Context, in policy.Input) (bool, error)
}

// Engine validates and drives workflow graphs to completion.
type Engine struct {
	store    *store.Store
	agent    *agent.Service
	notifier Notifier
	policy   PolicyGate
}

// New builds an Engine. notifier and policy may both be nil to disable
// alerting and policy enforcement respectively.
func New(s *store.Store, a *agent.Service, notifier Notifier, policy PolicyGate) *Engine {
	return &Engine{store: s, agent: a, notifier: notifier, policy: policy}
}

func (e *Engine) notify(ctx context.Context, graphID uuid.UUID, reason string) {
	if e.notifier != nil {
		e.notifier.NotifyWorkflowTerminated(ctx, graphID.String(), reason)
	}
}

// Instantiate materializes template into a new graph and its nodes,
// validating the resulting DAG before the graph becomes usable.
func (e *Engine) Instantiate(ctx context.Context, templateID uuid.UUID, parentAgentID *uuid.UUID, totalBudget int64) (*domain.WorkflowGraph, error) {
	tmpl, err := e.store.GetTemplate(ctx, e.store.DB(), templateID)
	if err != nil {
		return nil, err
	}
	if totalBudget < tmpl.MinBudget {
		return nil, fmt.Errorf("budget %d below template minimum %d: %w", totalBudget, tmpl.MinBudget, domain.ErrInsufficientBudget)
	}

	if e.policy != nil {
		allowed, err := e.policy.Allow(ctx, policy.Input{
			TemplateName: tmpl.Name,
			DepthLevel:   0,
			Budget:       totalBudget,
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate instantiation policy: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("template %s rejected by policy: %w", tmpl.Name, domain.ErrPolicyDenied)
		}
	}

	g := &domain.WorkflowGraph{
		ID:               uuid.New(),
		TemplateID:       &templateID,
		ParentAgentID:    parentAgentID,
		Status:           domain.GraphActive,
		ValidationStatus: domain.ValidationPending,
	}
	if err := e.store.InsertGraph(ctx, e.store.DB(), g); err != nil {
		return nil, err
	}

	for i, nt := range tmpl.NodeTemplates {
		n := &domain.WorkflowNode{
			ID:               uuid.New(),
			WorkflowGraphID:  g.ID,
			TemplateNodeID:   nt.NodeID,
			Role:             nt.Role,
			TaskDescription:  nt.TaskTemplate,
			BudgetAllocation: int64(nt.BudgetPercentage * float64(totalBudget)),
			Dependencies:     nt.Dependencies,
			ExecutionStatus:  domain.NodePending,
			Position:         i,
		}
		if err := e.store.InsertNode(ctx, e.store.DB(), n); err != nil {
			return nil, err
		}
	}

	if err := e.validate(ctx, g, tmpl.NodeTemplates); err != nil {
		return g, err
	}

	if err := e.store.IncrementTemplateUsage(ctx, e.store.DB(), templateID); err != nil {
		return nil, err
	}
	return g, nil
}

// validate runs cycle detection (DFS with a recursion stack) and a
// topological sort (Kahn's algorithm) over the template's declared
// dependencies, recording the result on the graph.
func (e *Engine) validate(ctx context.Context, g *domain.WorkflowGraph, nodes []domain.NodeTemplate) error {
	adjacency := make(map[string][]string, len(nodes))
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.NodeID] = true
	}
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if !known[dep] {
				errs := []string{fmt.Sprintf("node %s depends on unknown node %s", n.NodeID, dep)}
				_ = e.store.UpdateGraphValidation(ctx, e.store.DB(), g.ID, domain.ValidationInvalid, errs)
				return fmt.Errorf("validate workflow %s: %w", g.ID, domain.ErrCycle)
			}
			adjacency[dep] = append(adjacency[dep], n.NodeID)
		}
	}

	if cyclic, cycleNode := hasCycle(adjacency, known); cyclic {
		errs := []string{fmt.Sprintf("cycle detected through node %s", cycleNode)}
		_ = e.store.UpdateGraphValidation(ctx, e.store.DB(), g.ID, domain.ValidationInvalid, errs)
		return fmt.Errorf("validate workflow %s: %w", g.ID, domain.ErrCycle)
	}

	if _, err := topoSort(adjacency, known); err != nil {
		_ = e.store.UpdateGraphValidation(ctx, e.store.DB(), g.ID, domain.ValidationInvalid, []string{err.Error()})
		return fmt.Errorf("validate workflow %s: %w", g.ID, domain.ErrCycle)
	}

	return e.store.UpdateGraphValidation(ctx, e.store.DB(), g.ID, domain.ValidationValidated, nil)
}

// hasCycle runs a DFS with an explicit recursion stack over adjacency.
func hasCycle(adjacency map[string][]string, known map[string]bool) (bool, string) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(known))

	var visit func(node string) (bool, string)
	visit = func(node string) (bool, string) {
		color[node] = gray
		for _, next := range adjacency[node] {
			switch color[next] {
			case gray:
				return true, next
			case white:
				if cyclic, n := visit(next); cyclic {
					return true, n
				}
			}
		}
		color[node] = black
		return false, ""
	}

	for node := range known {
		if color[node] == white {
			if cyclic, n := visit(node); cyclic {
				return true, n
			}
		}
	}
	return false, ""
}

// topoSort returns nodes in dependency order using Kahn's algorithm,
// erroring if a cycle prevents full ordering (defense in depth behind
// hasCycle).
func topoSort(adjacency map[string][]string, known map[string]bool) ([]string, error) {
	inDegree := make(map[string]int, len(known))
	for n := range known {
		inDegree[n] = 0
	}
	for _, nexts := range adjacency {
		for _, n := range nexts {
			inDegree[n]++
		}
	}

	var queue, order []string
	for n, d := range inDegree {
		if d == 0 {
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range adjacency[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(known) {
		return nil, fmt.Errorf("dependency graph has no valid topological order")
	}
	return order, nil
}

// Start spawns every node whose dependencies are already satisfied
// (none, for a fresh graph's root nodes) and returns immediately; it
// does not wait for any spawned agent to run. Completion is detected
// later by the WorkflowPoller, which drives OnAgentCompleted/
// OnAgentFailed once an agent reaches a terminal status.
func (e *Engine) Start(ctx context.Context, graphID uuid.UUID) error {
	return e.spawnReady(ctx, graphID)
}

// OnAgentCompleted records a node's agent as completed, snapshots its
// result for downstream gojq templating, and spawns any successor node
// whose dependencies are now all satisfied.
func (e *Engine) OnAgentCompleted(ctx context.Context, agentID uuid.UUID, result string) error {
	node, err := e.store.GetNodeByAgent(ctx, e.store.DB(), agentID)
	if err != nil {
		return err
	}
	if err := e.store.UpdateNodeStatus(ctx, e.store.DB(), node.ID, domain.NodeCompleted, &result, nil); err != nil {
		return err
	}

	snapshot, err := json.Marshal(map[string]string{"result": result})
	if err != nil {
		return fmt.Errorf("marshal node result snapshot: %w", err)
	}
	if err := e.store.SetNodeDependencyResults(ctx, e.store.DB(), node.ID, snapshot); err != nil {
		return err
	}

	return e.afterNodeSettled(ctx, node.WorkflowGraphID)
}

// OnAgentFailed records a node's agent as failed and fails the whole
// graph (fail-fast policy), then terminates the graph: every other node
// whose agent was spawned and is not yet terminal is terminated so its
// budget is reclaimed. Nodes that were never spawned stay pending.
func (e *Engine) OnAgentFailed(ctx context.Context, agentID uuid.UUID, failure string) error {
	node, err := e.store.GetNodeByAgent(ctx, e.store.DB(), agentID)
	if err != nil {
		return err
	}
	if err := e.store.UpdateNodeStatus(ctx, e.store.DB(), node.ID, domain.NodeFailed, nil, &failure); err != nil {
		return err
	}
	if err := e.store.UpdateGraphStatus(ctx, e.store.DB(), node.WorkflowGraphID, domain.GraphFailed); err != nil {
		return err
	}
	metrics.RecordWorkflowGraphTerminated(domain.GraphFailed)
	if e.notifier != nil {
		e.notifier.NotifyAgentFailed(ctx, agentID.String(), node.Role, failure)
	}
	e.notify(ctx, node.WorkflowGraphID, failure)
	return e.Terminate(ctx, node.WorkflowGraphID)
}

// Terminate kills every non-terminal node's agent and marks the graph
// terminated, cascading budget reclamation through the agent service.
func (e *Engine) Terminate(ctx context.Context, graphID uuid.UUID) error {
	nodes, err := e.store.ListNodes(ctx, e.store.DB(), graphID)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.AgentID == nil {
			continue
		}
		switch n.ExecutionStatus {
		case domain.NodeCompleted, domain.NodeFailed, domain.NodeSkipped:
			continue
		}
		if err := e.agent.Terminate(ctx, *n.AgentID); err != nil {
			return err
		}
		if err := e.store.UpdateNodeStatus(ctx, e.store.DB(), n.ID, domain.NodeSkipped, nil, nil); err != nil {
			return err
		}
	}
	if err := e.store.UpdateGraphStatus(ctx, e.store.DB(), graphID, domain.GraphTerminated); err != nil {
		return err
	}
	metrics.RecordWorkflowGraphTerminated(domain.GraphTerminated)
	return nil
}

// Progress reports how many of a graph's nodes are in each execution
// state, for the query API.
func (e *Engine) Progress(ctx context.Context, graphID uuid.UUID) (map[string]int, error) {
	nodes, err := e.store.ListNodes(ctx, e.store.DB(), graphID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, n := range nodes {
		counts[n.ExecutionStatus]++
	}
	return counts, nil
}

func (e *Engine) afterNodeSettled(ctx context.Context, graphID uuid.UUID) error {
	nodes, err := e.store.ListNodes(ctx, e.store.DB(), graphID)
	if err != nil {
		return err
	}

	allDone := true
	for _, n := range nodes {
		if n.ExecutionStatus != domain.NodeCompleted && n.ExecutionStatus != domain.NodeSkipped {
			allDone = false
			break
		}
	}
	if allDone {
		if err := e.store.UpdateGraphStatus(ctx, e.store.DB(), graphID, domain.GraphCompleted); err != nil {
			return err
		}
		metrics.RecordWorkflowGraphTerminated(domain.GraphCompleted)
		return nil
	}
	return e.spawnReady(ctx, graphID)
}

// spawnReady spawns every pending node whose dependencies have all
// completed, enriching each node's task description with its
// dependencies' results (see templateTask).
func (e *Engine) spawnReady(ctx context.Context, graphID uuid.UUID) error {
	nodes, err := e.store.ListNodes(ctx, e.store.DB(), graphID)
	if err != nil {
		return err
	}
	graph, err := e.store.GetGraph(ctx, e.store.DB(), graphID)
	if err != nil {
		return err
	}

	for _, n := range nodes {
		if n.ExecutionStatus != domain.NodePending {
			continue
		}
		if !e.dependenciesSatisfied(nodes, n) {
			continue
		}

		task, err := e.templateTask(n, nodes)
		if err != nil {
			return err
		}

		spawned, err := e.agent.Spawn(ctx, graph.ParentAgentID, n.Role, task, n.BudgetAllocation)
		if err != nil {
			return err
		}
		if err := e.store.UpdateNodeSpawned(ctx, e.store.DB(), n.ID, spawned.ID, domain.NodeExecuting); err != nil {
			return err
		}
		metrics.RecordWorkflowNodeSpawned()
	}
	return nil
}

func nodesByTemplateID(nodes []domain.WorkflowNode) map[string]domain.WorkflowNode {
	byID := make(map[string]domain.WorkflowNode, len(nodes))
	for _, other := range nodes {
		byID[other.TemplateNodeID] = other
	}
	return byID
}

func (e *Engine) dependenciesSatisfied(nodes []domain.WorkflowNode, n domain.WorkflowNode) bool {
	byID := nodesByTemplateID(nodes)
	for _, depID := range n.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.ExecutionStatus != domain.NodeCompleted {
			return false
		}
	}
	return true
}

// templateTask renders n's task description by appending a
// "Dependency results:" JSON block, keyed by template node id, of each
// dependency's recorded snapshot (selected with a gojq filter). The
// description text itself is not searched for placeholders.
func (e *Engine) templateTask(n domain.WorkflowNode, nodes []domain.WorkflowNode) (string, error) {
	if len(n.Dependencies) == 0 {
		return n.TaskDescription, nil
	}

	deps := make(map[string]interface{}, len(n.Dependencies))
	byID := nodesByTemplateID(nodes)
	for _, depID := range n.Dependencies {
		dep, ok := byID[depID]
		if !ok || len(dep.DependencyResults) == 0 {
			continue
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal(dep.DependencyResults, &parsed); err != nil {
			return "", fmt.Errorf("parse dependency result for node %s: %w", depID, err)
		}
		deps[depID] = parsed
	}

	query, err := gojq.Parse(".deps")
	if err != nil {
		return "", fmt.Errorf("parse dependency query: %w", err)
	}
	iter := query.Run(map[string]interface{}{"deps": deps})
	v, ok := iter.Next()
	if !ok {
		return n.TaskDescription, nil
	}
	if err, ok := v.(error); ok {
		return "", fmt.Errorf("evaluate dependency query: %w", err)
	}
	rendered, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal dependency results: %w", err)
	}
	return fmt.Sprintf("%s\n\nDependency results: %s", n.TaskDescription, rendered), nil
}
