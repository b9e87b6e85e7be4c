// Package workspace isolates each agent's working tree with a
// dedicated git worktree and branch, so sibling agents never observe
// each other's uncommitted changes.
package workspace

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/shared/logging"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
)

// Manager creates and tears down one git worktree per agent.
type Manager struct {
	store   *store.Store
	repoDir string
	baseDir string
	log     logr.Logger
}

// New builds a Manager rooted at repoDir (an existing git checkout) that
// places new worktrees under baseDir. log may be the zero value, which
// discards every call.
func New(s *store.Store, repoDir, baseDir string, log logr.Logger) *Manager {
	return &Manager{store: s, repoDir: repoDir, baseDir: baseDir, log: log}
}

func (m *Manager) branchName(agentID uuid.UUID) string {
	return fmt.Sprintf("agent-%s", agentID)
}

func (m *Manager) path(agentID uuid.UUID) string {
	return filepath.Join(m.baseDir, agentID.String())
}

// Create provisions a new branch and worktree for agentID. Worktree
// creation failure does not block the agent's execution: the workspace
// row is recorded as failed and the caller proceeds without isolation,
// per the kernel's non-blocking workspace-failure policy.
func (m *Manager) Create(ctx context.Context, agentID uuid.UUID) (*domain.Workspace, error) {
	branch := m.branchName(agentID)
	path := m.path(agentID)

	w := &domain.Workspace{
		AgentID:         agentID,
		Path:            path,
		BranchName:      branch,
		IsolationStatus: domain.WorkspaceActive,
	}

	if err := m.runGit(ctx, "worktree", "add", "-b", branch, path); err != nil {
		w.IsolationStatus = "failed"
		logging.WithFields(m.log, "worktree creation failed, proceeding without isolation",
			logging.WorkspaceFields("create", path, agentID.String()).Error(err))
		if insertErr := m.store.InsertWorkspace(ctx, m.store.DB(), w); insertErr != nil {
			return nil, insertErr
		}
		return w, nil
	}

	if err := m.store.InsertWorkspace(ctx, m.store.DB(), w); err != nil {
		return nil, err
	}
	return w, nil
}

// Merge runs `git merge --no-ff` of an agent's branch into the branch
// checked out in repoDir and marks the workspace merged. parentBranch is
// used only in the error message; it is not checked out.
func (m *Manager) Merge(ctx context.Context, agentID uuid.UUID, parentBranch string) error {
	branch := m.branchName(agentID)
	if err := m.runGit(ctx, "merge", "--no-ff", branch); err != nil {
		return fmt.Errorf("merge branch %s into %s: %w", branch, parentBranch, err)
	}
	return m.store.UpdateWorkspaceStatus(ctx, m.store.DB(), agentID, domain.WorkspaceMerged)
}

// Abandon marks a workspace abandoned without merging, used when an
// agent's work is discarded (failed or terminated).
func (m *Manager) Abandon(ctx context.Context, agentID uuid.UUID) error {
	return m.store.UpdateWorkspaceStatus(ctx, m.store.DB(), agentID, domain.WorkspaceAbandoned)
}

// Destroy removes a workspace's worktree and branch from disk. It is
// called by the retention sweeper, never inline with agent execution.
func (m *Manager) Destroy(ctx context.Context, w *domain.Workspace) error {
	if err := m.runGit(ctx, "worktree", "remove", "--force", w.Path); err != nil {
		return fmt.Errorf("remove worktree %s: %w", w.Path, err)
	}
	_ = m.runGit(ctx, "branch", "-D", w.BranchName)
	return m.store.UpdateWorkspaceStatus(ctx, m.store.DB(), w.AgentID, domain.WorkspaceCleanedUp)
}

// SweepExpired destroys every workspace past retentionDays whose status
// is already terminal (merged/abandoned/terminated).
func (m *Manager) SweepExpired(ctx context.Context, retentionDays int) (int, error) {
	expired, err := m.store.ListExpiredWorkspaces(ctx, m.store.DB(), retentionDays)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range expired {
		if err := m.Destroy(ctx, &expired[i]); err != nil {
			continue
		}
		n++
	}
	return n, nil
}

func (m *Manager) runGit(ctx context.Context, args ...string) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = m.repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %v: %w: %s", args, err, out)
	}
	return nil
}
