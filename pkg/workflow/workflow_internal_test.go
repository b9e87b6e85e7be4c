package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
)

func TestHasCycleDetectsCycle(t *testing.T) {
	known := map[string]bool{"a": true, "b": true, "c": true}
	adjacency := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	cyclic, _ := hasCycle(adjacency, known)
	require.True(t, cyclic)
}

func TestHasCycleAcceptsDAG(t *testing.T) {
	known := map[string]bool{"a": true, "b": true, "c": true, "d": true}
	adjacency := map[string][]string{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
	}
	cyclic, _ := hasCycle(adjacency, known)
	require.False(t, cyclic)
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	known := map[string]bool{"a": true, "b": true, "c": true}
	adjacency := map[string][]string{
		"a": {"b"},
		"b": {"c"},
	}
	order, err := topoSort(adjacency, known)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopoSortErrorsOnCycle(t *testing.T) {
	known := map[string]bool{"a": true, "b": true}
	adjacency := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	_, err := topoSort(adjacency, known)
	require.Error(t, err)
}

func TestNodesByTemplateIDIndexesByTemplateNodeID(t *testing.T) {
	nodes := []domain.WorkflowNode{
		{ID: uuid.New(), TemplateNodeID: "fetch", Position: 0},
		{ID: uuid.New(), TemplateNodeID: "analyze", Position: 1},
	}
	byID := nodesByTemplateID(nodes)
	require.Len(t, byID, len(nodes))
	for _, n := range nodes {
		require.Equal(t, n, byID[n.TemplateNodeID])
	}
}

func TestDependenciesSatisfiedRequiresAllCompleted(t *testing.T) {
	e := &Engine{}
	nodes := []domain.WorkflowNode{
		{TemplateNodeID: "fetch", ExecutionStatus: domain.NodeCompleted},
		{TemplateNodeID: "analyze", ExecutionStatus: domain.NodePending, Dependencies: []string{"fetch"}},
	}
	require.True(t, e.dependenciesSatisfied(nodes, nodes[1]))

	nodes[0].ExecutionStatus = domain.NodeExecuting
	require.False(t, e.dependenciesSatisfied(nodes, nodes[1]))
}
