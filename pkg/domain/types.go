// Package domain holds the entities and sentinel errors shared by every
// kernel component, per the orchestration kernel's data model.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Agent lifecycle states. Terminal states never transition further.
const (
	AgentPending    = "pending"
	AgentExecuting  = "executing"
	AgentCompleted  = "completed"
	AgentFailed     = "failed"
	AgentTerminated = "terminated"
)

// Message states, traversed monotonically.
const (
	MessagePending   = "pending"
	MessageDelivered = "delivered"
	MessageProcessed = "processed"
	MessageFailed    = "failed"
)

// Workspace isolation states.
const (
	WorkspaceActive     = "active"
	WorkspaceMerged     = "merged"
	WorkspaceAbandoned  = "abandoned"
	WorkspaceCleanedUp  = "cleaned_up"
)

// WorkflowGraph states.
const (
	GraphActive     = "active"
	GraphPaused     = "paused"
	GraphCompleted  = "completed"
	GraphFailed     = "failed"
	GraphTerminated = "terminated"
)

// WorkflowGraph validation states.
const (
	ValidationPending   = "pending"
	ValidationValidated = "validated"
	ValidationInvalid   = "invalid"
)

// WorkflowNode execution states.
const (
	NodePending   = "pending"
	NodeReady     = "ready"
	NodeSpawning  = "spawning"
	NodeExecuting = "executing"
	NodeCompleted = "completed"
	NodeFailed    = "failed"
	NodeSkipped   = "skipped"
)

// Sentinel error kinds. Each is wrapped with operation context by the
// component that raises it; callers compare with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrCycle              = errors.New("cycle detected")
	ErrDepthExceeded      = errors.New("max depth exceeded")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrOverrun            = errors.New("budget overrun")
	ErrConflict           = errors.New("conflicting write")
	ErrExternal           = errors.New("external collaborator failure")
	ErrPolicyDenied       = errors.New("denied by policy")
)

// Agent is the unit of delegated work.
type Agent struct {
	ID          uuid.UUID  `db:"id"`
	Role        string     `db:"role"`
	Task        string     `db:"task_description"`
	Status      string     `db:"status"`
	DepthLevel  int        `db:"depth_level"`
	ParentID    *uuid.UUID `db:"parent_id"`
	Result      *string    `db:"result"`
	Error       *string    `db:"error_message"`
	Version     int        `db:"version"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// Budget is one-to-one with an agent.
type Budget struct {
	AgentID   uuid.UUID `db:"agent_id"`
	Allocated int64     `db:"allocated"`
	Used      int64     `db:"used"`
	Reserved  int64     `db:"reserved"`
	Reclaimed bool      `db:"reclaimed"`
	Version   int       `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Remaining is the budget's unreserved, unspent capacity.
func (b Budget) Remaining() int64 {
	return b.Allocated - b.Used - b.Reserved
}

// HierarchyEdge denormalizes a parent→child relation for traversal.
type HierarchyEdge struct {
	ID       uuid.UUID `db:"id"`
	ParentID uuid.UUID `db:"parent_id"`
	ChildID  uuid.UUID `db:"child_id"`
}

// Message is an inter-agent envelope.
type Message struct {
	ID          int64      `db:"id"`
	SenderID    *uuid.UUID `db:"sender_id"`
	RecipientID uuid.UUID  `db:"recipient_id"`
	Payload     []byte     `db:"payload"`
	Priority    int        `db:"priority"`
	Status      string     `db:"status"`
	ThreadID    *string    `db:"thread_id"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Workspace is one-to-one with an agent.
type Workspace struct {
	AgentID         uuid.UUID `db:"agent_id"`
	Path            string    `db:"path"`
	BranchName      string    `db:"branch_name"`
	IsolationStatus string    `db:"isolation_status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// NodeTemplate is one position within a WorkflowTemplate.
type NodeTemplate struct {
	NodeID            string   `json:"node_id"`
	Role              string   `json:"role"`
	TaskTemplate       string   `json:"task_template"`
	BudgetPercentage  float64  `json:"budget_percentage"`
	Dependencies      []string `json:"dependencies"`
}

// WorkflowTemplate is a reusable DAG definition.
type WorkflowTemplate struct {
	ID            uuid.UUID      `db:"id"`
	Name          string         `db:"name"`
	NodeTemplates []NodeTemplate `db:"-"`
	EdgePatterns  []string       `db:"-"`
	MinBudget     int64          `db:"min_budget"`
	UsageCount    int64          `db:"usage_count"`
	CreatedAt     time.Time      `db:"created_at"`
}

// WorkflowGraph is an instantiated template.
type WorkflowGraph struct {
	ID               uuid.UUID  `db:"id"`
	TemplateID       *uuid.UUID `db:"template_id"`
	ParentAgentID    *uuid.UUID `db:"parent_agent_id"`
	Status           string     `db:"status"`
	ValidationStatus string     `db:"validation_status"`
	ValidationErrors []string   `db:"-"`
	Version          int        `db:"version"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// WorkflowNode is a position within an instantiated graph.
type WorkflowNode struct {
	ID                uuid.UUID  `db:"id"`
	WorkflowGraphID    uuid.UUID  `db:"workflow_graph_id"`
	TemplateNodeID    string     `db:"template_node_id"`
	Role              string     `db:"role"`
	TaskDescription   string     `db:"task_description"`
	BudgetAllocation  int64      `db:"budget_allocation"`
	Dependencies      []string   `db:"-"`
	ExecutionStatus   string     `db:"execution_status"`
	AgentID           *uuid.UUID `db:"agent_id"`
	Result            *string    `db:"result"`
	Position          int        `db:"position"`
	ErrorMessage      *string    `db:"error_message"`
	DependencyResults []byte     `db:"dependency_results"`
	Version           int        `db:"version"`
}
