// Package notification posts best-effort Slack alerts when a workflow
// terminates or an agent fails, sanitizing any secret-shaped text
// before it leaves the process.
package notification

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/kubernaut-labs/agentkernel/pkg/notification/sanitization"
)

// SlackClient is the subset of the Slack SDK the Notifier needs,
// satisfied by *slack.Client.
type SlackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts workflow and agent lifecycle events to Slack. A nil
// client makes every call a no-op, so the kernel runs without Slack
// configured.
type Notifier struct {
	client    SlackClient
	channel   string
	sanitizer *sanitization.Sanitizer
}

// New builds a Notifier posting to channel. client may be nil to
// disable notifications entirely.
func New(client SlackClient, channel string) *Notifier {
	return &Notifier{client: client, channel: channel, sanitizer: sanitization.NewSanitizer()}
}

// NotifyWorkflowTerminated posts a best-effort alert that a workflow
// graph was terminated. Failures to post are swallowed: notification is
// never allowed to affect kernel correctness.
func (n *Notifier) NotifyWorkflowTerminated(ctx context.Context, graphID, reason string) {
	n.post(ctx, fmt.Sprintf("Workflow `%s` terminated: %s", graphID, reason))
}

// NotifyAgentFailed posts a best-effort alert that an agent failed.
func (n *Notifier) NotifyAgentFailed(ctx context.Context, agentID, role, failure string) {
	n.post(ctx, fmt.Sprintf("Agent `%s` (%s) failed: %s", agentID, role, failure))
}

func (n *Notifier) post(ctx context.Context, text string) {
	if n.client == nil {
		return
	}
	safe, err := n.sanitizer.SanitizeWithFallback(text)
	if err != nil {
		safe = n.sanitizer.SafeFallback(text)
	}
	_, _, _ = n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(safe, false))
}
