package runner

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"
)

type fakeMessagesClient struct {
	msg *sdk.Message
	err error
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	return f.msg, f.err
}

func TestAnthropicRunnerExecuteReturnsUsage(t *testing.T) {
	client := &fakeMessagesClient{
		msg: &sdk.Message{
			Usage: sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	r := NewAnthropicRunner(client, "claude-sonnet-4")

	result, err := r.Execute(context.Background(), Request{Role: "investigator", TaskDescription: "look into it", MaxTokens: 0})
	require.NoError(t, err)
	require.EqualValues(t, 15, result.TokensUsed)
}

func TestAnthropicRunnerWrapsClientError(t *testing.T) {
	client := &fakeMessagesClient{err: context.DeadlineExceeded}
	r := NewAnthropicRunner(client, "claude-sonnet-4")

	_, err := r.Execute(context.Background(), Request{Role: "investigator", TaskDescription: "look into it"})
	require.Error(t, err)
}

func TestAnthropicRunnerName(t *testing.T) {
	r := NewAnthropicRunner(&fakeMessagesClient{}, "claude-sonnet-4")
	require.Equal(t, "anthropic:claude-sonnet-4", r.Name())
}
