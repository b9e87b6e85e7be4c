// Package hierarchy manages parent/child relations between agents,
// enforcing the kernel's depth limit and cycle-freedom invariant.
package hierarchy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
)

// Querier lets the manager run lookups against either the pool or a
// caller-supplied transaction.
type Querier = store.Querier

// Manager enforces MAX_DEPTH and cycle-freedom when relating agents.
type Manager struct {
	store    *store.Store
	maxDepth int
}

// New builds a Manager with the configured maximum hierarchy depth.
func New(s *store.Store, maxDepth int) *Manager {
	return &Manager{store: s, maxDepth: maxDepth}
}

// Relate establishes child as a child of parent, after verifying the
// relation would neither exceed maxDepth nor introduce a cycle.
//
// Depth and cycle checks run against the same Querier the caller passes
// in (typically a transaction already holding the parent's row lock),
// so the whole check-then-insert sequence is atomic with respect to
// concurrent siblings being added.
func (m *Manager) Relate(ctx context.Context, q Querier, parent, child *domain.Agent) error {
	if parent.ID == child.ID {
		return fmt.Errorf("agent %s cannot be its own parent: %w", parent.ID, domain.ErrCycle)
	}

	ancestors, err := m.store.Ancestors(ctx, q, parent.ID)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		if a == child.ID {
			return fmt.Errorf("relating %s -> %s would create a cycle: %w", parent.ID, child.ID, domain.ErrCycle)
		}
	}

	depth := parent.DepthLevel + 1
	if depth > m.maxDepth {
		return fmt.Errorf("depth %d exceeds max %d: %w", depth, m.maxDepth, domain.ErrDepthExceeded)
	}

	return m.store.InsertHierarchyEdge(ctx, q, parent.ID, child.ID)
}

// Ancestors returns every ancestor of agentID, root-most last.
func (m *Manager) Ancestors(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	return m.store.Ancestors(ctx, m.store.DB(), agentID)
}

// Descendants returns every descendant of agentID, unbounded.
func (m *Manager) Descendants(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	return m.store.Descendants(ctx, m.store.DB(), agentID, 0)
}

// Children returns the direct children of agentID.
func (m *Manager) Children(ctx context.Context, agentID uuid.UUID) ([]domain.Agent, error) {
	return m.store.ListChildren(ctx, m.store.DB(), agentID)
}

// Siblings returns the other children of agentID's parent, excluding
// agentID itself.
func (m *Manager) Siblings(ctx context.Context, agent *domain.Agent) ([]domain.Agent, error) {
	if agent.ParentID == nil {
		return nil, nil
	}
	children, err := m.store.ListChildren(ctx, m.store.DB(), *agent.ParentID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Agent, 0, len(children))
	for _, c := range children {
		if c.ID != agent.ID {
			out = append(out, c)
		}
	}
	return out, nil
}
