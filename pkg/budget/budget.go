// Package budget enforces the kernel's hierarchical token-budget
// invariant: a parent cannot spend what it has reserved for children,
// and reclaiming a child's unused budget is always safe to repeat.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/metrics"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
)

// Cache is a read-through cache for Budget.Remaining, invalidated on
// every mutating call. A nil Cache disables caching entirely.
type Cache interface {
	GetRemaining(ctx context.Context, agentID uuid.UUID) (int64, bool)
	SetRemaining(ctx context.Context, agentID uuid.UUID, remaining int64, ttl time.Duration)
	Invalidate(ctx context.Context, agentID uuid.UUID)
}

// RedisCache backs Cache with go-redis, used to absorb read load from
// dashboards polling Remaining() for long-running workflows.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "budget:remaining:"}
}

func (c *RedisCache) key(agentID uuid.UUID) string { return c.prefix + agentID.String() }

// GetRemaining reads a cached remaining value; ok is false on miss or
// Redis error, since a cache is never the source of truth.
func (c *RedisCache) GetRemaining(ctx context.Context, agentID uuid.UUID) (int64, bool) {
	v, err := c.client.Get(ctx, c.key(agentID)).Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetRemaining caches remaining with ttl, best-effort.
func (c *RedisCache) SetRemaining(ctx context.Context, agentID uuid.UUID, remaining int64, ttl time.Duration) {
	c.client.Set(ctx, c.key(agentID), remaining, ttl)
}

// Invalidate drops a cached value so the next read recomputes it.
func (c *RedisCache) Invalidate(ctx context.Context, agentID uuid.UUID) {
	c.client.Del(ctx, c.key(agentID))
}

const remainingTTL = 5 * time.Second

// Manager implements allocate/consume/reclaim with row locks. Allocate
// locks only the parent's budget row, Consume only the agent's own, and
// Reclaim locks the child's budget row, then its agent row, then the
// parent's budget row.
type Manager struct {
	store *store.Store
	cache Cache
}

// New builds a Manager. cache may be nil.
func New(s *store.Store, cache Cache) *Manager {
	return &Manager{store: s, cache: cache}
}

// Allocate reserves amount of the parent's budget for a new child and
// creates the child's own budget row, inside one transaction. If
// parent is nil, the child is a root agent and is granted amount
// outright with no reservation against anything.
func (m *Manager) Allocate(ctx context.Context, parentID *uuid.UUID, childID uuid.UUID, amount int64) error {
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if parentID != nil {
			if _, err := m.store.GetBudgetForUpdate(ctx, tx, *parentID); err != nil {
				return err
			}
			if err := m.store.ReserveOnParent(ctx, tx, *parentID, amount); err != nil {
				return err
			}
		}
		return m.store.InsertBudget(ctx, tx, &domain.Budget{AgentID: childID, Allocated: amount})
	})
	if err != nil {
		return err
	}
	if parentID != nil {
		metrics.RecordBudgetReservation()
		if m.cache != nil {
			m.cache.Invalidate(ctx, *parentID)
		}
	}
	return nil
}

// Consume spends amount of agentID's own allocation, failing with
// ErrOverrun if it would exceed allocated-reserved.
func (m *Manager) Consume(ctx context.Context, agentID uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("consume amount %d must be non-negative: %w", amount, domain.ErrInvalidTransition)
	}
	err := m.store.ConsumeBudget(ctx, m.store.DB(), agentID, amount)
	if err != nil {
		if errors.Is(err, domain.ErrOverrun) {
			metrics.RecordBudgetOverrun()
		}
		return err
	}
	if m.cache != nil {
		m.cache.Invalidate(ctx, agentID)
	}
	return nil
}

// Reclaim returns an agent's unused allocation (allocated - used) to its
// parent's reserved pool and marks the agent's budget reclaimed. It is
// idempotent: calling it twice is a no-op the second time, since the
// reclaimed flag and the row lock together make the release exactly-once.
func (m *Manager) Reclaim(ctx context.Context, agentID uuid.UUID) error {
	var parentID *uuid.UUID
	var reclaimed int64
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		b, err := m.store.GetBudgetForUpdate(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if b.Reclaimed {
			return nil
		}
		agent, err := m.store.GetAgentForUpdate(ctx, tx, agentID)
		if err != nil {
			return err
		}
		parentID = agent.ParentID

		unused := b.Allocated - b.Used
		if parentID != nil && unused > 0 {
			if _, err := m.store.GetBudgetForUpdate(ctx, tx, *parentID); err != nil {
				return err
			}
			if err := m.store.ReleaseReservation(ctx, tx, *parentID, unused); err != nil {
				return err
			}
		}
		reclaimed = unused
		return m.store.MarkReclaimed(ctx, tx, agentID)
	})
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		metrics.RecordBudgetReclaimed(reclaimed)
	}
	if m.cache != nil {
		m.cache.Invalidate(ctx, agentID)
		if parentID != nil {
			m.cache.Invalidate(ctx, *parentID)
		}
	}
	return nil
}

// Remaining returns an agent's unreserved, unspent capacity, serving
// from cache when available.
func (m *Manager) Remaining(ctx context.Context, agentID uuid.UUID) (int64, error) {
	if m.cache != nil {
		if v, ok := m.cache.GetRemaining(ctx, agentID); ok {
			return v, nil
		}
	}
	b, err := m.store.GetBudget(ctx, m.store.DB(), agentID)
	if err != nil {
		return 0, err
	}
	remaining := b.Remaining()
	if m.cache != nil {
		m.cache.SetRemaining(ctx, agentID, remaining, remainingTTL)
	}
	return remaining, nil
}
