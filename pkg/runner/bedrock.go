package runner

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	kerrors "github.com/kubernaut-labs/agentkernel/pkg/shared/errors"
)

// RuntimeClient is the subset of the AWS Bedrock runtime client the
// adapter needs, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockRunner executes agent tasks against a Bedrock Converse model.
type BedrockRunner struct {
	runtime RuntimeClient
	modelID string
}

// NewBedrockRunner builds a runner bound to modelID (e.g. an Anthropic
// model ARN hosted on Bedrock).
func NewBedrockRunner(runtime RuntimeClient, modelID string) *BedrockRunner {
	return &BedrockRunner{runtime: runtime, modelID: modelID}
}

// Name identifies this runner for circuit breaker naming and logging.
func (r *BedrockRunner) Name() string { return "bedrock:" + r.modelID }

// Execute sends req as a single-turn Converse request.
func (r *BedrockRunner) Execute(ctx context.Context, req Request) (Result, error) {
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(r.modelID),
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{
						Value: fmt.Sprintf("Role: %s\nTask: %s", req.Role, req.TaskDescription),
					},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(maxTokens),
		},
	}

	out, err := r.runtime.Converse(ctx, input)
	if err != nil {
		return Result{}, kerrors.NetworkError("call bedrock converse API", r.modelID, err)
	}

	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Result{}, fmt.Errorf("bedrock converse returned no message output")
	}

	var text string
	for _, block := range msgOutput.Value.Content {
		if b, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += b.Value
		}
	}

	var tokens int64
	if out.Usage != nil {
		tokens = int64(aws.ToInt32(out.Usage.InputTokens)) + int64(aws.ToInt32(out.Usage.OutputTokens))
	}

	return Result{Output: text, TokensUsed: tokens}, nil
}
