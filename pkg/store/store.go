// Package store provides the kernel's single source of truth: a
// sqlx/pgx-backed Postgres store exposing parameterized queries and
// transactions over every persisted entity.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	kerrors "github.com/kubernaut-labs/agentkernel/pkg/shared/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, letting every
// repository method run standalone or inside a caller-managed
// transaction.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store wraps the kernel's Postgres connection pool.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-connected sqlx.DB.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for components that need it directly
// (e.g. the workflow poller's and execution worker's queries).
func (s *Store) DB() *sqlx.DB { return s.db }

// Migrate runs every embedded migration against the store's database.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return kerrors.FailedTo("set migration dialect", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return kerrors.FailedTo("run migrations", err)
	}
	return nil
}

// BeginTx starts a new transaction. Callers MUST Commit or Rollback.
func (s *Store) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, kerrors.DatabaseError("begin transaction", err)
	}
	return tx, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return kerrors.DatabaseError("commit transaction", err)
	}
	return nil
}

// --- Agents ---------------------------------------------------------------

// InsertAgent writes a new agent row with status=pending.
func (s *Store) InsertAgent(ctx context.Context, q Querier, a *domain.Agent) error {
	const query = `
		INSERT INTO agents (id, role, task_description, status, depth_level, parent_id, created_at, updated_at)
		VALUES (:id, :role, :task_description, :status, :depth_level, :parent_id, now(), now())`
	_, err := sqlx.NamedExecContext(ctx, q, query, a)
	if err != nil {
		return kerrors.DatabaseError("insert agent", err)
	}
	return nil
}

// GetAgent fetches an agent by id without locking.
func (s *Store) GetAgent(ctx context.Context, q Querier, id uuid.UUID) (*domain.Agent, error) {
	var a domain.Agent
	err := q.GetContext(ctx, &a, `SELECT * FROM agents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.DatabaseError("get agent", err)
	}
	return &a, nil
}

// GetAgentForUpdate locks the agent row for the duration of the caller's
// transaction, serializing concurrent status transitions.
func (s *Store) GetAgentForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Agent, error) {
	var a domain.Agent
	err := tx.GetContext(ctx, &a, `SELECT * FROM agents WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.DatabaseError("lock agent", err)
	}
	return &a, nil
}

// UpdateAgentStatus writes a new status, optional result/error, and bumps
// completed_at when status is terminal. version is incremented.
func (s *Store) UpdateAgentStatus(ctx context.Context, q Querier, id uuid.UUID, status string, result, errMsg *string, terminal bool) error {
	query := `
		UPDATE agents
		SET status = $2, result = COALESCE($3, result), error_message = COALESCE($4, error_message),
		    completed_at = CASE WHEN $5 THEN now() ELSE completed_at END,
		    updated_at = now(), version = version + 1
		WHERE id = $1`
	res, err := q.ExecContext(ctx, query, id, status, result, errMsg, terminal)
	if err != nil {
		return kerrors.DatabaseError("update agent status", err)
	}
	return requireRowsAffected(res, "update agent status")
}

// ListChildren returns agents whose parent_id = parent.
func (s *Store) ListChildren(ctx context.Context, q Querier, parent uuid.UUID) ([]domain.Agent, error) {
	var out []domain.Agent
	err := q.SelectContext(ctx, &out, `SELECT * FROM agents WHERE parent_id = $1 ORDER BY created_at`, parent)
	if err != nil {
		return nil, kerrors.DatabaseError("list children", err)
	}
	return out, nil
}

// ListPendingAgents returns up to limit agents with status = pending,
// oldest first, for the ExecutionWorker to lease.
func (s *Store) ListPendingAgents(ctx context.Context, q Querier, limit int) ([]domain.Agent, error) {
	var out []domain.Agent
	err := q.SelectContext(ctx, &out, `SELECT * FROM agents WHERE status = $1 ORDER BY created_at LIMIT $2`, domain.AgentPending, limit)
	if err != nil {
		return nil, kerrors.DatabaseError("list pending agents", err)
	}
	return out, nil
}

// --- Budgets ----------------------------------------------------------------

// InsertBudget writes a new budget row.
func (s *Store) InsertBudget(ctx context.Context, q Querier, b *domain.Budget) error {
	const query = `
		INSERT INTO budgets (agent_id, allocated, used, reserved, reclaimed, created_at, updated_at)
		VALUES (:agent_id, :allocated, :used, :reserved, :reclaimed, now(), now())`
	_, err := sqlx.NamedExecContext(ctx, q, query, b)
	if err != nil {
		return kerrors.DatabaseError("insert budget", err)
	}
	return nil
}

// GetBudget fetches a budget row without locking.
func (s *Store) GetBudget(ctx context.Context, q Querier, agentID uuid.UUID) (*domain.Budget, error) {
	var b domain.Budget
	err := q.GetContext(ctx, &b, `SELECT * FROM budgets WHERE agent_id = $1`, agentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("budget for agent %s: %w", agentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.DatabaseError("get budget", err)
	}
	return &b, nil
}

// GetBudgetForUpdate locks the budget row for the caller's transaction.
func (s *Store) GetBudgetForUpdate(ctx context.Context, tx *sqlx.Tx, agentID uuid.UUID) (*domain.Budget, error) {
	var b domain.Budget
	err := tx.GetContext(ctx, &b, `SELECT * FROM budgets WHERE agent_id = $1 FOR UPDATE`, agentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("budget for agent %s: %w", agentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.DatabaseError("lock budget", err)
	}
	return &b, nil
}

// ReserveOnParent increments the parent's reserved amount, failing if
// capacity is insufficient. Caller must already hold the row lock
// (GetBudgetForUpdate) in the same transaction.
func (s *Store) ReserveOnParent(ctx context.Context, tx *sqlx.Tx, parentID uuid.UUID, amount int64) error {
	const query = `
		UPDATE budgets
		SET reserved = reserved + $2, updated_at = now(), version = version + 1
		WHERE agent_id = $1 AND allocated - used - reserved >= $2`
	res, err := tx.ExecContext(ctx, query, parentID, amount)
	if err != nil {
		return kerrors.DatabaseError("reserve budget", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("parent %s cannot cover amount %d: %w", parentID, amount, domain.ErrInsufficientBudget)
	}
	return nil
}

// ConsumeBudget atomically spends amount against an agent's own budget.
func (s *Store) ConsumeBudget(ctx context.Context, q Querier, agentID uuid.UUID, amount int64) error {
	const query = `
		UPDATE budgets
		SET used = used + $2, updated_at = now(), version = version + 1
		WHERE agent_id = $1 AND used + $2 + reserved <= allocated`
	res, err := q.ExecContext(ctx, query, agentID, amount)
	if err != nil {
		return kerrors.DatabaseError("consume budget", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.DatabaseError("consume budget", err)
	}
	if n == 0 {
		return fmt.Errorf("consuming %d for agent %s: %w", amount, agentID, domain.ErrOverrun)
	}
	return nil
}

// MarkReclaimed sets reclaimed=true on a budget row. Caller must hold the
// row lock in the same transaction.
func (s *Store) MarkReclaimed(ctx context.Context, tx *sqlx.Tx, agentID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `UPDATE budgets SET reclaimed = true, updated_at = now(), version = version + 1 WHERE agent_id = $1`, agentID)
	if err != nil {
		return kerrors.DatabaseError("mark budget reclaimed", err)
	}
	return nil
}

// ReleaseReservation decrements a parent's reserved amount by unused,
// clamped at zero.
func (s *Store) ReleaseReservation(ctx context.Context, tx *sqlx.Tx, parentID uuid.UUID, unused int64) error {
	const query = `
		UPDATE budgets
		SET reserved = GREATEST(reserved - $2, 0), updated_at = now(), version = version + 1
		WHERE agent_id = $1`
	_, err := tx.ExecContext(ctx, query, parentID, unused)
	if err != nil {
		return kerrors.DatabaseError("release budget reservation", err)
	}
	return nil
}

// --- Hierarchy ---------------------------------------------------------------

// InsertHierarchyEdge writes a parent→child edge.
func (s *Store) InsertHierarchyEdge(ctx context.Context, q Querier, parent, child uuid.UUID) error {
	_, err := q.ExecContext(ctx, `INSERT INTO hierarchies (id, parent_id, child_id) VALUES ($1, $2, $3)`, uuid.New(), parent, child)
	if err != nil {
		return kerrors.DatabaseError("insert hierarchy edge", err)
	}
	return nil
}

// Ancestors returns every ancestor_id reachable by walking parent_id
// pointers up from child, using a recursive CTE.
func (s *Store) Ancestors(ctx context.Context, q Querier, child uuid.UUID) ([]uuid.UUID, error) {
	const query = `
		WITH RECURSIVE chain AS (
			SELECT parent_id FROM agents WHERE id = $1 AND parent_id IS NOT NULL
			UNION ALL
			SELECT a.parent_id FROM agents a JOIN chain c ON a.id = c.parent_id WHERE a.parent_id IS NOT NULL
		)
		SELECT parent_id FROM chain`
	var ids []uuid.UUID
	if err := q.SelectContext(ctx, &ids, query, child); err != nil {
		return nil, kerrors.DatabaseError("list ancestors", err)
	}
	return ids, nil
}

// Descendants returns every descendant of root, optionally bounded by
// maxDepth (0 = unbounded) via the hierarchies edge table.
func (s *Store) Descendants(ctx context.Context, q Querier, root uuid.UUID, maxDepth int) ([]uuid.UUID, error) {
	const query = `
		WITH RECURSIVE chain AS (
			SELECT child_id, 1 AS depth FROM hierarchies WHERE parent_id = $1
			UNION ALL
			SELECT h.child_id, c.depth + 1 FROM hierarchies h JOIN chain c ON h.parent_id = c.child_id
			WHERE $2 = 0 OR c.depth + 1 <= $2
		)
		SELECT child_id FROM chain`
	var ids []uuid.UUID
	if err := q.SelectContext(ctx, &ids, query, root, maxDepth); err != nil {
		return nil, kerrors.DatabaseError("list descendants", err)
	}
	return ids, nil
}

// --- Messages ----------------------------------------------------------------

// InsertMessage writes a new pending message.
func (s *Store) InsertMessage(ctx context.Context, q Querier, m *domain.Message) error {
	const query = `
		INSERT INTO messages (sender_id, recipient_id, payload, priority, status, thread_id, created_at)
		VALUES (:sender_id, :recipient_id, :payload, :priority, :status, :thread_id, now())
		RETURNING id, created_at`
	rows, err := sqlx.NamedQueryContext(ctx, q, query, m)
	if err != nil {
		return kerrors.DatabaseError("insert message", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&m.ID, &m.CreatedAt); err != nil {
			return kerrors.DatabaseError("insert message", err)
		}
	}
	return nil
}

// ReceiveMessages returns up to limit pending messages for recipient,
// ordered (priority DESC, created_at ASC, id ASC), locking each row
// FOR UPDATE SKIP LOCKED so two Receive calls racing at the same
// instant never return the same row. It does not itself advance
// status; the caller transitions each returned message via
// UpdateMessageStatus (messaging.Queue.MarkDelivered/MarkProcessed).
func (s *Store) ReceiveMessages(ctx context.Context, q Querier, recipient uuid.UUID, limit int) ([]domain.Message, error) {
	const query = `
		SELECT * FROM messages
		WHERE recipient_id = $1 AND status = 'pending'
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	var out []domain.Message
	if err := q.SelectContext(ctx, &out, query, recipient, limit); err != nil {
		return nil, kerrors.DatabaseError("receive messages", err)
	}
	return out, nil
}

// UpdateMessageStatus transitions a message's status.
func (s *Store) UpdateMessageStatus(ctx context.Context, q Querier, id int64, status string) error {
	res, err := q.ExecContext(ctx, `UPDATE messages SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return kerrors.DatabaseError("update message status", err)
	}
	return requireRowsAffected(res, "update message status")
}

// --- Workspaces --------------------------------------------------------------

// InsertWorkspace writes a new workspace row.
func (s *Store) InsertWorkspace(ctx context.Context, q Querier, w *domain.Workspace) error {
	const query = `
		INSERT INTO workspaces (agent_id, path, branch_name, isolation_status, created_at, updated_at)
		VALUES (:agent_id, :path, :branch_name, :isolation_status, now(), now())`
	_, err := sqlx.NamedExecContext(ctx, q, query, w)
	if err != nil {
		return kerrors.DatabaseError("insert workspace", err)
	}
	return nil
}

// GetWorkspace fetches a workspace by agent id.
func (s *Store) GetWorkspace(ctx context.Context, q Querier, agentID uuid.UUID) (*domain.Workspace, error) {
	var w domain.Workspace
	err := q.GetContext(ctx, &w, `SELECT * FROM workspaces WHERE agent_id = $1`, agentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workspace for agent %s: %w", agentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.DatabaseError("get workspace", err)
	}
	return &w, nil
}

// UpdateWorkspaceStatus transitions a workspace's isolation_status.
func (s *Store) UpdateWorkspaceStatus(ctx context.Context, q Querier, agentID uuid.UUID, status string) error {
	_, err := q.ExecContext(ctx, `UPDATE workspaces SET isolation_status = $2, updated_at = now() WHERE agent_id = $1`, agentID, status)
	if err != nil {
		return kerrors.DatabaseError("update workspace status", err)
	}
	return nil
}

// ListExpiredWorkspaces returns workspaces past retention for the cleanup
// sweeper.
func (s *Store) ListExpiredWorkspaces(ctx context.Context, q Querier, retentionDays int) ([]domain.Workspace, error) {
	const query = `
		SELECT * FROM workspaces
		WHERE isolation_status IN ('merged', 'abandoned', 'terminated')
		  AND updated_at < now() - ($1 || ' days')::interval`
	var out []domain.Workspace
	if err := q.SelectContext(ctx, &out, query, retentionDays); err != nil {
		return nil, kerrors.DatabaseError("list expired workspaces", err)
	}
	return out, nil
}

// --- Workflow templates / graphs / nodes --------------------------------------

// InsertTemplate writes a new workflow template.
func (s *Store) InsertTemplate(ctx context.Context, q Querier, t *domain.WorkflowTemplate) error {
	nodeJSON, err := json.Marshal(t.NodeTemplates)
	if err != nil {
		return kerrors.ParseError("node templates", "JSON", err)
	}
	edgeJSON, err := json.Marshal(t.EdgePatterns)
	if err != nil {
		return kerrors.ParseError("edge patterns", "JSON", err)
	}
	const query = `
		INSERT INTO workflow_templates (id, name, node_templates, edge_patterns, min_budget, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, now())`
	_, err = q.ExecContext(ctx, query, t.ID, t.Name, nodeJSON, edgeJSON, t.MinBudget)
	if err != nil {
		return kerrors.DatabaseError("insert workflow template", err)
	}
	return nil
}

// GetTemplate fetches a template by id.
func (s *Store) GetTemplate(ctx context.Context, q Querier, id uuid.UUID) (*domain.WorkflowTemplate, error) {
	var row struct {
		ID            uuid.UUID `db:"id"`
		Name          string    `db:"name"`
		NodeTemplates []byte    `db:"node_templates"`
		EdgePatterns  []byte    `db:"edge_patterns"`
		MinBudget     int64     `db:"min_budget"`
		UsageCount    int64     `db:"usage_count"`
	}
	err := q.GetContext(ctx, &row, `SELECT id, name, node_templates, edge_patterns, min_budget, usage_count FROM workflow_templates WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow template %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.DatabaseError("get workflow template", err)
	}
	t := &domain.WorkflowTemplate{ID: row.ID, Name: row.Name, MinBudget: row.MinBudget, UsageCount: row.UsageCount}
	if err := json.Unmarshal(row.NodeTemplates, &t.NodeTemplates); err != nil {
		return nil, kerrors.ParseError("node templates", "JSON", err)
	}
	if err := json.Unmarshal(row.EdgePatterns, &t.EdgePatterns); err != nil {
		return nil, kerrors.ParseError("edge patterns", "JSON", err)
	}
	return t, nil
}

// IncrementTemplateUsage bumps a template's usage_count.
func (s *Store) IncrementTemplateUsage(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.ExecContext(ctx, `UPDATE workflow_templates SET usage_count = usage_count + 1 WHERE id = $1`, id)
	if err != nil {
		return kerrors.DatabaseError("increment template usage", err)
	}
	return nil
}

// InsertGraph writes a new workflow graph.
func (s *Store) InsertGraph(ctx context.Context, q Querier, g *domain.WorkflowGraph) error {
	const query = `
		INSERT INTO workflow_graphs (id, template_id, parent_agent_id, status, validation_status, validation_errors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`
	errsJSON, _ := json.Marshal(g.ValidationErrors)
	_, err := q.ExecContext(ctx, query, g.ID, g.TemplateID, g.ParentAgentID, g.Status, g.ValidationStatus, errsJSON)
	if err != nil {
		return kerrors.DatabaseError("insert workflow graph", err)
	}
	return nil
}

// GetGraph fetches a graph by id without locking.
func (s *Store) GetGraph(ctx context.Context, q Querier, id uuid.UUID) (*domain.WorkflowGraph, error) {
	return s.getGraph(ctx, q, id, false)
}

// GetGraphForUpdate locks the graph row for the caller's transaction,
// serializing node transitions per graph during OnAgentCompleted.
func (s *Store) GetGraphForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.WorkflowGraph, error) {
	return s.getGraph(ctx, tx, id, true)
}

func (s *Store) getGraph(ctx context.Context, q Querier, id uuid.UUID, forUpdate bool) (*domain.WorkflowGraph, error) {
	query := `SELECT id, template_id, parent_agent_id, status, validation_status, validation_errors, version, created_at, updated_at FROM workflow_graphs WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var row struct {
		domain.WorkflowGraph
		ValidationErrorsRaw []byte `db:"validation_errors"`
	}
	err := q.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow graph %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.DatabaseError("get workflow graph", err)
	}
	g := row.WorkflowGraph
	_ = json.Unmarshal(row.ValidationErrorsRaw, &g.ValidationErrors)
	return &g, nil
}

// UpdateGraphStatus transitions a graph's status.
func (s *Store) UpdateGraphStatus(ctx context.Context, q Querier, id uuid.UUID, status string) error {
	_, err := q.ExecContext(ctx, `UPDATE workflow_graphs SET status = $2, updated_at = now(), version = version + 1 WHERE id = $1`, id, status)
	if err != nil {
		return kerrors.DatabaseError("update workflow graph status", err)
	}
	return nil
}

// UpdateGraphValidation records validation results.
func (s *Store) UpdateGraphValidation(ctx context.Context, q Querier, id uuid.UUID, status string, errs []string) error {
	errsJSON, _ := json.Marshal(errs)
	_, err := q.ExecContext(ctx, `UPDATE workflow_graphs SET validation_status = $2, validation_errors = $3, updated_at = now() WHERE id = $1`, id, status, errsJSON)
	if err != nil {
		return kerrors.DatabaseError("update workflow graph validation", err)
	}
	return nil
}

// InsertNode writes a new workflow node.
func (s *Store) InsertNode(ctx context.Context, q Querier, n *domain.WorkflowNode) error {
	depsJSON, _ := json.Marshal(n.Dependencies)
	const query = `
		INSERT INTO workflow_nodes (id, workflow_graph_id, template_node_id, role, task_description, budget_allocation, dependencies, execution_status, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := q.ExecContext(ctx, query, n.ID, n.WorkflowGraphID, n.TemplateNodeID, n.Role, n.TaskDescription, n.BudgetAllocation, depsJSON, n.ExecutionStatus, n.Position)
	if err != nil {
		return kerrors.DatabaseError("insert workflow node", err)
	}
	return nil
}

// ListNodes returns every node belonging to a graph, ordered by position.
func (s *Store) ListNodes(ctx context.Context, q Querier, graphID uuid.UUID) ([]domain.WorkflowNode, error) {
	const query = `SELECT * FROM workflow_nodes WHERE workflow_graph_id = $1 ORDER BY position`
	var rows []struct {
		domain.WorkflowNode
		DependenciesRaw []byte `db:"dependencies"`
	}
	if err := q.SelectContext(ctx, &rows, query, graphID); err != nil {
		return nil, kerrors.DatabaseError("list workflow nodes", err)
	}
	out := make([]domain.WorkflowNode, len(rows))
	for i, r := range rows {
		n := r.WorkflowNode
		_ = json.Unmarshal(r.DependenciesRaw, &n.Dependencies)
		out[i] = n
	}
	return out, nil
}

// GetNodeByAgent finds the node that spawned agentID.
func (s *Store) GetNodeByAgent(ctx context.Context, q Querier, agentID uuid.UUID) (*domain.WorkflowNode, error) {
	var row struct {
		domain.WorkflowNode
		DependenciesRaw []byte `db:"dependencies"`
	}
	err := q.GetContext(ctx, &row, `SELECT * FROM workflow_nodes WHERE agent_id = $1`, agentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow node for agent %s: %w", agentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.DatabaseError("get workflow node by agent", err)
	}
	n := row.WorkflowNode
	_ = json.Unmarshal(row.DependenciesRaw, &n.Dependencies)
	return &n, nil
}

// UpdateNodeSpawned records that a node has been spawned as agentID.
func (s *Store) UpdateNodeSpawned(ctx context.Context, q Querier, nodeID, agentID uuid.UUID, status string) error {
	_, err := q.ExecContext(ctx, `UPDATE workflow_nodes SET agent_id = $2, execution_status = $3, version = version + 1 WHERE id = $1`, nodeID, agentID, status)
	if err != nil {
		return kerrors.DatabaseError("update node spawned", err)
	}
	return nil
}

// UpdateNodeStatus transitions a node's execution_status, optionally
// recording its result and error message. The dependency-results snapshot
// is written separately by SetNodeDependencyResults.
func (s *Store) UpdateNodeStatus(ctx context.Context, q Querier, nodeID uuid.UUID, status string, result, errMsg *string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE workflow_nodes
		SET execution_status = $2, result = COALESCE($3, result), error_message = COALESCE($4, error_message), version = version + 1
		WHERE id = $1`, nodeID, status, result, errMsg)
	if err != nil {
		return kerrors.DatabaseError("update node status", err)
	}
	return nil
}

// SetNodeDependencyResults stores a snapshot of node's result for use by
// gojq-based dependency templating on its successors.
func (s *Store) SetNodeDependencyResults(ctx context.Context, q Querier, nodeID uuid.UUID, raw []byte) error {
	_, err := q.ExecContext(ctx, `UPDATE workflow_nodes SET dependency_results = $2 WHERE id = $1`, nodeID, raw)
	if err != nil {
		return kerrors.DatabaseError("set node dependency results", err)
	}
	return nil
}

func requireRowsAffected(res sql.Result, action string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.DatabaseError(action, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", action, domain.ErrNotFound)
	}
	return nil
}
