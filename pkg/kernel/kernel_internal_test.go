package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubernaut-labs/agentkernel/internal/config"
)

func TestBuildRunnerRejectsUnsupportedProvider(t *testing.T) {
	_, err := buildRunner(context.Background(), config.RunnerConfig{Provider: "carrier-pigeon"})
	require.Error(t, err)
}

func TestBuildRunnerDispatchesAnthropic(t *testing.T) {
	r, err := buildRunner(context.Background(), config.RunnerConfig{Provider: "anthropic", Model: "claude-sonnet"})
	require.NoError(t, err)
	require.Equal(t, "anthropic:claude-sonnet", r.Name())
}
