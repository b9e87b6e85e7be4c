package runner

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	kerrors "github.com/kubernaut-labs/agentkernel/pkg/shared/errors"
)

// MessagesClient is the subset of the Anthropic SDK client the adapter
// needs, satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicRunner executes agent tasks against Claude via the Messages
// API.
type AnthropicRunner struct {
	client MessagesClient
	model  string
}

// NewAnthropicRunner builds a runner that always requests model.
func NewAnthropicRunner(client MessagesClient, model string) *AnthropicRunner {
	return &AnthropicRunner{client: client, model: model}
}

// Name identifies this runner for circuit breaker naming and logging.
func (r *AnthropicRunner) Name() string { return "anthropic:" + r.model }

// Execute sends req as a single-turn message and returns the assistant's
// text content.
func (r *AnthropicRunner) Execute(ctx context.Context, req Request) (Result, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(r.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(fmt.Sprintf("Role: %s\nTask: %s", req.Role, req.TaskDescription))),
		},
	}

	msg, err := r.client.New(ctx, params)
	if err != nil {
		return Result{}, kerrors.NetworkError("call anthropic messages API", r.model, err)
	}

	var text string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(sdk.TextBlock); ok {
			text += b.Text
		}
	}

	return Result{
		Output:     text,
		TokensUsed: msg.Usage.InputTokens + msg.Usage.OutputTokens,
	}, nil
}
