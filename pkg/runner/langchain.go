package runner

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	kerrors "github.com/kubernaut-labs/agentkernel/pkg/shared/errors"
)

// LangChainRunner executes agent tasks against any langchaingo
// llms.Model, letting the kernel target providers (OpenAI, Ollama,
// local models) that have no dedicated adapter.
type LangChainRunner struct {
	model llms.Model
	name  string
}

// NewLangChainRunner wraps an already-configured llms.Model.
func NewLangChainRunner(model llms.Model, name string) *LangChainRunner {
	return &LangChainRunner{model: model, name: name}
}

// Name identifies this runner for circuit breaker naming and logging.
func (r *LangChainRunner) Name() string { return "langchain:" + r.name }

// Execute sends req as a single human message.
func (r *LangChainRunner) Execute(ctx context.Context, req Request) (Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("Role: %s\nTask: %s", req.Role, req.TaskDescription)),
	}

	resp, err := r.model.GenerateContent(ctx, messages, llms.WithMaxTokens(maxTokens))
	if err != nil {
		return Result{}, kerrors.NetworkError("call langchain model", r.name, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("langchain model %s returned no choices", r.name)
	}

	choice := resp.Choices[0]
	var tokens int64
	if v, ok := choice.GenerationInfo["TotalTokens"].(int); ok {
		tokens = int64(v)
	}

	return Result{Output: choice.Content, TokensUsed: tokens}, nil
}
